package engine

import (
	"context"
	"sync"
	"time"

	"horse.fit/modtrans/internal/globaltime"
)

type queueItem struct {
	index   int
	readyAt time.Time
}

// taskQueue is a FIFO of task indexes. Items carry a ready time for backoff;
// dispatch can be paused while a synchronous review is open.
type taskQueue struct {
	mu      sync.Mutex
	items   []queueItem
	paused  int
	closed  bool
	changed chan struct{}
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{
		items:   make([]queueItem, 0, capacity),
		changed: make(chan struct{}),
	}
}

func (q *taskQueue) Push(index int, readyAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queueItem{index: index, readyAt: readyAt})
	q.broadcastLocked()
}

// PushFront returns an untouched task to the head of the queue.
func (q *taskQueue) PushFront(index int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]queueItem{{index: index}}, q.items...)
	q.broadcastLocked()
}

func (q *taskQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused++
}

func (q *taskQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused > 0 {
		q.paused--
	}
	q.broadcastLocked()
}

// Close wakes every waiting worker; Dequeue returns false from then on.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dequeue blocks until a ready item is available and dispatch is not paused.
// It returns false once the queue is closed or ctx is done.
func (q *taskQueue) Dequeue(ctx context.Context) (int, bool) {
	for {
		if ctx.Err() != nil {
			return -1, false
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return -1, false
		}

		var wait time.Duration
		if q.paused == 0 {
			now := globaltime.Now()
			for i, item := range q.items {
				if !item.readyAt.After(now) {
					q.items = append(q.items[:i], q.items[i+1:]...)
					q.mu.Unlock()
					return item.index, true
				}
				if d := item.readyAt.Sub(now); wait == 0 || d < wait {
					wait = d
				}
			}
		}
		changed := q.changed
		q.mu.Unlock()

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return -1, false
		case <-changed:
		case <-fire:
		}
		stopTimer(timer)
	}
}

func (q *taskQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
