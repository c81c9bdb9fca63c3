package engine

import (
	"errors"
	"fmt"
	"time"

	"horse.fit/modtrans/internal/globaltime"
	"horse.fit/modtrans/internal/review"
)

var ErrInvalidTransition = errors.New("invalid task transition")

// Status is the lifecycle state of one translation task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInFlight    Status = "in_flight"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusNeedsReview Status = "needs_review"
)

// Cause explains the last transition. Failure causes reuse the translation
// error kinds (rate_limited, auth, network, timeout, service, malformed).
type Cause string

const (
	CauseQueued              Cause = "queued"
	CauseDispatched          Cause = "dispatched"
	CauseTranslated          Cause = "translated"
	CauseMemoryHit           Cause = "memory_hit"
	CausePassthrough         Cause = "passthrough"
	CausePlaceholderMismatch Cause = "placeholder_mismatch"
	CauseLowConfidence       Cause = "low_confidence"
	CauseReviewResolved      Cause = "review_resolved"
	CausePoolStalled         Cause = "pool_stalled"
	CauseReviewsSurfaced     Cause = "reviews_surfaced"
	CauseRunFinished         Cause = "run_finished"
)

// Task is one entry being translated. Callers only ever see copies.
type Task struct {
	Key          string        `json:"key"`
	Index        int           `json:"index"`
	Source       string        `json:"source"`
	SourceLang   string        `json:"source_lang"`
	TargetLang   string        `json:"target_lang"`
	Context      string        `json:"context,omitempty"`
	Status       Status        `json:"status"`
	Attempts     int           `json:"attempts"`
	CredentialID string        `json:"credential_id,omitempty"`
	Result       string        `json:"result,omitempty"`
	Cause        Cause         `json:"cause"`
	Error        string        `json:"error,omitempty"`
	ReviewID     string        `json:"review_id,omitempty"`
	Resolution   review.Action `json:"resolution,omitempty"`
	RetryAt      *time.Time    `json:"retry_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Settled tasks no longer need a worker.
func (t Task) Settled() bool {
	switch t.Status {
	case StatusSucceeded, StatusFailed, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// Final reports whether the task's output text will not change any more.
func (t Task) Final() bool {
	switch t.Status {
	case StatusSucceeded, StatusFailed:
		return true
	case StatusNeedsReview:
		return t.Resolution != ""
	default:
		return false
	}
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInFlight || to == StatusSucceeded
	case StatusInFlight:
		return to == StatusPending || to == StatusSucceeded || to == StatusFailed || to == StatusNeedsReview
	default:
		return false
	}
}

func (t *Task) transition(to Status, cause Cause) error {
	if !canTransition(t.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.Key, t.Status, to)
	}
	t.Status = to
	t.Cause = cause
	t.UpdatedAt = globaltime.UTC()
	if to == StatusInFlight {
		t.Attempts++
		t.RetryAt = nil
		t.Error = ""
	}
	return nil
}
