package engine

import (
	"context"
	"sync"
	"time"

	"horse.fit/modtrans/internal/globaltime"
)

type EventType string

const (
	EventTask   EventType = "task"
	EventReview EventType = "review"
	EventStall  EventType = "stall"
	EventRun    EventType = "run"
)

// TaskStatus is one progress event. Run level events leave Key empty.
type TaskStatus struct {
	Seq          int       `json:"seq"`
	RunID        string    `json:"run_id"`
	Type         EventType `json:"type"`
	Key          string    `json:"key,omitempty"`
	Index        int       `json:"index"`
	Status       Status    `json:"status,omitempty"`
	Cause        Cause     `json:"cause"`
	Attempt      int       `json:"attempt,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	ReviewID     string    `json:"review_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// eventLog keeps the full history so late subscribers replay every event.
// It is guarded by the owning run's mutex, so an event is recorded in the
// same critical section as the task change it reports.
type eventLog struct {
	mu      sync.Locker
	events  []TaskStatus
	closed  bool
	changed chan struct{}
}

func newEventLog(mu sync.Locker) *eventLog {
	return &eventLog{mu: mu, changed: make(chan struct{})}
}

// appendLocked requires l.mu to be held.
func (l *eventLog) appendLocked(ev TaskStatus) {
	if l.closed {
		return
	}
	ev.Seq = len(l.events) + 1
	ev.At = globaltime.UTC()
	l.events = append(l.events, ev)
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *eventLog) closeLocked() {
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
}

func (l *eventLog) since(from int) ([]TaskStatus, bool, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from > len(l.events) {
		from = len(l.events)
	}
	out := make([]TaskStatus, len(l.events)-from)
	copy(out, l.events[from:])
	return out, l.closed, l.changed
}

// subscribe streams the history from the start and then live events; the
// channel closes once the log is closed and drained, or ctx ends.
func (l *eventLog) subscribe(ctx context.Context) <-chan TaskStatus {
	out := make(chan TaskStatus, 64)
	go func() {
		defer close(out)
		next := 0
		for {
			batch, closed, changed := l.since(next)
			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			next += len(batch)
			if len(batch) > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()
	return out
}
