package engine

import (
	"errors"
	"testing"
	"time"
)

func TestTaskTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusInFlight, true},
		{StatusPending, StatusSucceeded, true},
		{StatusPending, StatusFailed, false},
		{StatusInFlight, StatusPending, true},
		{StatusInFlight, StatusNeedsReview, true},
		{StatusInFlight, StatusFailed, true},
		{StatusSucceeded, StatusPending, false},
		{StatusFailed, StatusInFlight, false},
		{StatusNeedsReview, StatusSucceeded, false},
	}
	for _, tc := range cases {
		task := &Task{Key: "k", Status: tc.from}
		err := task.transition(tc.to, CauseQueued)
		if tc.ok && err != nil {
			t.Fatalf("unexpected error for %s -> %s: %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error for %s -> %s: got %v want %v", tc.from, tc.to, err, ErrInvalidTransition)
		}
	}
}

func TestDispatchCountsAttempt(t *testing.T) {
	t.Parallel()

	retryAt := time.Now()
	task := &Task{Key: "k", Status: StatusPending, Error: "old", RetryAt: &retryAt, Attempts: 1}
	if err := task.transition(StatusInFlight, CauseDispatched); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Attempts != 2 || task.Error != "" || task.RetryAt != nil {
		t.Fatalf("unexpected task after dispatch: %+v", task)
	}
}

func TestFinal(t *testing.T) {
	t.Parallel()

	if (Task{Status: StatusNeedsReview}).Final() {
		t.Fatalf("unresolved review must not be final")
	}
	if !(Task{Status: StatusNeedsReview, Resolution: "accept"}).Final() {
		t.Fatalf("resolved review must be final")
	}
	if !(Task{Status: StatusFailed}).Final() || (Task{Status: StatusInFlight}).Final() {
		t.Fatalf("unexpected final state")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := DefaultBackoff()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, time.Minute}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("unexpected delay for attempt %d: got %s want %s", i+1, got, w)
		}
	}
	if got := b.Delay(0); got != 2*time.Second {
		t.Fatalf("unexpected delay for attempt 0: %s", got)
	}
}

func TestSplitPadding(t *testing.T) {
	t.Parallel()

	cases := map[string][3]string{
		"Hello":       {"", "Hello", ""},
		"  Hi there ": {"  ", "Hi there", " "},
		"\tx\n":       {"\t", "x", "\n"},
		"   ":         {"", "", "   "},
		"":            {"", "", ""},
	}
	for input, want := range cases {
		lead, core, trail := splitPadding(input)
		if lead != want[0] || core != want[1] || trail != want[2] {
			t.Fatalf("unexpected split of %q: got %q %q %q", input, lead, core, trail)
		}
	}
}
