package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Until reports the duration from the current (possibly mocked) time to t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

// Since reports the duration elapsed between t and the current (possibly mocked) time.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// SetNowFunc installs an arbitrary clock, for tests that need time to advance.
func SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	mu.Lock()
	defer mu.Unlock()
	nowFunc = fn
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
