package review

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyncItemsAreSurfacedImmediately(t *testing.T) {
	t.Parallel()

	gate := NewGate(ModeSync)
	item := gate.Submit(Item{Key: "k1", Source: "$A$ text", Candidate: "Text", Reason: ReasonPlaceholderMismatch})
	if item.ID == "" || !item.Surfaced {
		t.Fatalf("unexpected submitted item: %+v", item)
	}
	pending := gate.Pending()
	if len(pending) != 1 || pending[0].ID != item.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
}

func TestBatchedItemsWaitForSurface(t *testing.T) {
	t.Parallel()

	gate := NewGate(ModeBatched)
	first := gate.Submit(Item{Key: "k1", Candidate: "a"})
	gate.Submit(Item{Key: "k2", Candidate: "b"})

	if got := len(gate.Pending()); got != 0 {
		t.Fatalf("unexpected pending before surface: got %d want 0", got)
	}
	if _, err := gate.Resolve(first.ID, Decision{Action: ActionAccept}); !errors.Is(err, ErrNotSurfaced) {
		t.Fatalf("unexpected error resolving unsurfaced item: %v", err)
	}

	surfaced := gate.Surface()
	if len(surfaced) != 2 || surfaced[0].Key != "k1" || surfaced[1].Key != "k2" {
		t.Fatalf("unexpected surfaced items: %+v", surfaced)
	}

	late := gate.Submit(Item{Key: "k3"})
	if !late.Surfaced {
		t.Fatalf("expected items submitted after surfacing to be visible")
	}
}

func TestResolveAppliesDecision(t *testing.T) {
	t.Parallel()

	cases := []struct {
		decision Decision
		want     string
	}{
		{decision: Decision{Action: ActionAccept}, want: "candidate"},
		{decision: Decision{Action: ActionUseOriginal}, want: "source"},
		{decision: Decision{Action: ActionEdit, Text: "edited"}, want: "edited"},
	}
	for _, tc := range cases {
		gate := NewGate(ModeSync)
		item := gate.Submit(Item{Source: "source", Candidate: "candidate"})
		resolved, err := gate.Resolve(item.ID, tc.decision)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.decision.Action, err)
		}
		if resolved.FinalText != tc.want || resolved.ResolvedAt == nil {
			t.Fatalf("unexpected resolution for %s: %+v", tc.decision.Action, resolved)
		}
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	gate := NewGate(ModeSync)
	item := gate.Submit(Item{Source: "s", Candidate: "c"})

	first, err := gate.Resolve(item.ID, Decision{Action: ActionEdit, Text: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := gate.Resolve(item.ID, Decision{Action: ActionEdit, Text: "x"})
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if !again.ResolvedAt.Equal(*first.ResolvedAt) {
		t.Fatalf("expected repeated resolve to keep the first resolution time")
	}

	if _, err := gate.Resolve(item.ID, Decision{Action: ActionEdit, Text: "y"}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("unexpected error for conflicting edit: %v", err)
	}
	if _, err := gate.Resolve(item.ID, Decision{Action: ActionAccept}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("unexpected error for conflicting action: %v", err)
	}
}

func TestResolveRejectsUnknownAndInvalid(t *testing.T) {
	t.Parallel()

	gate := NewGate(ModeSync)
	if _, err := gate.Resolve("rev_9999", Decision{Action: ActionAccept}); !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
	item := gate.Submit(Item{})
	if _, err := gate.Resolve(item.ID, Decision{Action: ActionEdit}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("unexpected error for empty edit: %v", err)
	}
	if _, err := gate.Resolve(item.ID, Decision{Action: "skip"}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("unexpected error for unknown action: %v", err)
	}
}

func TestAwaitResolves(t *testing.T) {
	t.Parallel()

	gate := NewGate(ModeSync)
	item := gate.Submit(Item{Candidate: "c"})

	awaited := make(chan Item, 1)
	go func() {
		got, err := gate.Await(context.Background(), item.ID)
		if err != nil {
			t.Errorf("unexpected await error: %v", err)
		}
		awaited <- got
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Await(ctx, item.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected await error with outstanding item: %v", err)
	}
	if gate.Outstanding() != 1 {
		t.Fatalf("unexpected outstanding count: %d", gate.Outstanding())
	}

	if _, err := gate.Resolve(item.ID, Decision{Action: ActionAccept}); err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	select {
	case got := <-awaited:
		if got.FinalText != "c" {
			t.Fatalf("unexpected awaited item: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("await did not return after resolve")
	}
	if gate.Outstanding() != 0 {
		t.Fatalf("unexpected outstanding count: %d", gate.Outstanding())
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	if mode, err := ParseMode(" Batched "); err != nil || mode != ModeBatched {
		t.Fatalf("unexpected mode: %q %v", mode, err)
	}
	if mode, err := ParseMode(""); err != nil || mode != ModeSync {
		t.Fatalf("unexpected default mode: %q %v", mode, err)
	}
	if _, err := ParseMode("later"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}
