package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewPoolRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(nil, Options{}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("unexpected error: got %v want %v", err, ErrNoCredentials)
	}
	if _, err := NewPool([]string{"  "}, Options{}); err == nil {
		t.Fatalf("expected blank secret to fail")
	}
	if _, err := NewPool([]string{"a"}, Options{Strategy: "random"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewPoolDedupesSecrets(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b", "key-a"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(pool.IDs()); got != 2 {
		t.Fatalf("unexpected credential count: got %d want 2", got)
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b", "key-c"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pool.IDs()

	for round := 0; round < 2; round++ {
		for i := range ids {
			lease, err := pool.Acquire()
			if err != nil {
				t.Fatalf("unexpected acquire error: %v", err)
			}
			if lease.ID != ids[i] {
				t.Fatalf("unexpected credential in round %d: got %s want %s", round, lease.ID, ids[i])
			}
			pool.Release(lease, Report{Outcome: OutcomeSuccess})
		}
	}
}

func TestAcquireRespectsMaxConcurrentUses(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a"}, Options{MaxConcurrentUses: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lease, err := pool.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if _, err := pool.Acquire(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("unexpected error for busy credential: %v", err)
	}
	pool.Release(lease, Report{Outcome: OutcomeSuccess})
	if _, err := pool.Acquire(); err != nil {
		t.Fatalf("unexpected acquire error after release: %v", err)
	}
}

func TestInvalidCredentialNeverReturned(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b"}, Options{MaxConcurrentUses: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lease, err := pool.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	invalidID := lease.ID
	pool.Release(lease, Report{Outcome: OutcomeAuthFailure})
	// a later success report for the same lease must not revive it
	pool.Release(lease, Report{Outcome: OutcomeSuccess})

	for i := 0; i < 50; i++ {
		l, err := pool.Acquire()
		if err != nil {
			t.Fatalf("unexpected acquire error: %v", err)
		}
		if l.ID == invalidID {
			t.Fatalf("invalid credential %s returned on iteration %d", invalidID, i)
		}
		pool.Release(l, Report{Outcome: OutcomeSuccess})
	}

	summary := pool.Summary()
	if summary.Invalid != 1 || summary.Available != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRateLimitedCredentialRecovers(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lease, err := pool.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	pool.Release(lease, Report{Outcome: OutcomeRateLimited, RetryAfter: 40 * time.Millisecond})

	if _, err := pool.Acquire(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("unexpected error while rate limited: %v", err)
	}
	if got := pool.Snapshot()[0].Health; got != HealthRateLimited {
		t.Fatalf("unexpected health: got %s want %s", got, HealthRateLimited)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Fatalf("unexpected acquire error after recovery: %v", err)
	}
}

func TestConsecutiveFailuresExhaustCredential(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a"}, Options{FailureThreshold: 2, ExhaustedCooldown: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		lease, err := pool.Acquire()
		if err != nil {
			t.Fatalf("unexpected acquire error on attempt %d: %v", i, err)
		}
		pool.Release(lease, Report{Outcome: OutcomeFailure})
	}

	if got := pool.Snapshot()[0].Health; got != HealthExhausted {
		t.Fatalf("unexpected health: got %s want %s", got, HealthExhausted)
	}
	if pool.Usable() {
		t.Fatalf("expected pool to report no usable credential")
	}
	if !pool.Recoverable() {
		t.Fatalf("expected exhausted pool to stay recoverable")
	}
}

func TestAddWakesWaiters(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lease, _ := pool.Acquire()
	pool.Release(lease, Report{Outcome: OutcomeAuthFailure})
	if pool.Recoverable() {
		t.Fatalf("expected pool with only invalid credentials to be unrecoverable")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- pool.Wait(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := pool.Add("key-b"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Fatalf("unexpected acquire error after replacement: %v", err)
	}
}

func TestLoadBalancedPicksLeastUsed(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b"}, Options{Strategy: StrategyLoadBalanced, MaxConcurrentUses: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pool.IDs()

	first, _ := pool.Acquire()
	second, _ := pool.Acquire()
	if first.ID != ids[0] || second.ID != ids[1] {
		t.Fatalf("unexpected load balanced order: %s, %s", first.ID, second.ID)
	}
}

func TestPriorityPrefersFirstHealthy(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b"}, Options{Strategy: StrategyPriority, MaxConcurrentUses: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pool.IDs()
	for i := 0; i < 3; i++ {
		lease, _ := pool.Acquire()
		if lease.ID != ids[0] {
			t.Fatalf("unexpected priority pick: %s", lease.ID)
		}
		pool.Release(lease, Report{Outcome: OutcomeSuccess})
	}
}

func TestConcurrentAcquireNeverSharesCredential(t *testing.T) {
	t.Parallel()

	pool, err := NewPool([]string{"key-a", "key-b"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		mu     sync.Mutex
		inUse  = map[string]int{}
		shared bool
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				lease, err := pool.Acquire()
				if err != nil {
					continue
				}
				mu.Lock()
				inUse[lease.ID]++
				if inUse[lease.ID] > 1 {
					shared = true
				}
				mu.Unlock()

				mu.Lock()
				inUse[lease.ID]--
				mu.Unlock()
				pool.Release(lease, Report{Outcome: OutcomeSuccess})
			}
		}()
	}
	wg.Wait()

	if shared {
		t.Fatalf("a credential was leased to two holders at once")
	}
}

func TestMask(t *testing.T) {
	t.Parallel()

	if got := Mask("AIzaSyD-1234567890-xyz9"); got != "AIza...xyz9" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := Mask("short"); got != "*****" {
		t.Fatalf("unexpected mask for short secret: %q", got)
	}
	if Fingerprint("a") == Fingerprint("b") {
		t.Fatalf("expected distinct fingerprints")
	}
}
