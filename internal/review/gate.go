package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"horse.fit/modtrans/internal/globaltime"
)

var (
	ErrReviewNotFound  = errors.New("review item not found")
	ErrAlreadyResolved = errors.New("review item already resolved with a different decision")
	ErrNotSurfaced     = errors.New("review item has not been surfaced yet")
	ErrInvalidDecision = errors.New("invalid review decision")
)

// Mode decides when review items reach a human.
type Mode string

const (
	// ModeSync surfaces each item at once; the run pauses dispatch until it is resolved.
	ModeSync Mode = "sync"
	// ModeBatched holds items back until every task has been processed.
	ModeBatched Mode = "batched"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSync:
		return ModeSync, nil
	case ModeBatched:
		return ModeBatched, nil
	default:
		return "", fmt.Errorf("unknown review mode %q", raw)
	}
}

type Reason string

const (
	ReasonPlaceholderMismatch Reason = "placeholder_mismatch"
	ReasonLowConfidence       Reason = "low_confidence"
)

type Action string

const (
	ActionAccept      Action = "accept"
	ActionUseOriginal Action = "use_original"
	ActionEdit        Action = "edit"
)

// Decision is what a reviewer chose. Text is only used by ActionEdit.
type Decision struct {
	Action Action `json:"action"`
	Text   string `json:"text,omitempty"`
}

func (d Decision) Validate() error {
	switch d.Action {
	case ActionAccept, ActionUseOriginal:
		return nil
	case ActionEdit:
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: edit requires text", ErrInvalidDecision)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
}

func (d Decision) equal(other Decision) bool {
	if d.Action != other.Action {
		return false
	}
	return d.Action != ActionEdit || d.Text == other.Text
}

// Item is one translation waiting for, or past, human judgement.
type Item struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Index      int        `json:"index"`
	Source     string     `json:"source"`
	Candidate  string     `json:"candidate"`
	Reason     Reason     `json:"reason"`
	Detail     string     `json:"detail,omitempty"`
	Missing    []string   `json:"missing,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Surfaced   bool       `json:"surfaced"`
	Decision   *Decision  `json:"decision,omitempty"`
	FinalText  string     `json:"final_text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (i Item) Resolved() bool {
	return i.Decision != nil
}

// Apply returns the text a decision produces for this item.
func (i Item) Apply(d Decision) string {
	switch d.Action {
	case ActionUseOriginal:
		return i.Source
	case ActionEdit:
		return d.Text
	default:
		return i.Candidate
	}
}

type entry struct {
	item Item
	done chan struct{}
}

// Gate holds the review items of one run.
type Gate struct {
	mode Mode

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	seq      int
	surfaced bool
	changed  chan struct{}
}

func NewGate(mode Mode) *Gate {
	if mode != ModeBatched {
		mode = ModeSync
	}
	return &Gate{
		mode:    mode,
		entries: make(map[string]*entry),
		changed: make(chan struct{}),
	}
}

func (g *Gate) Mode() Mode {
	return g.mode
}

// Submit registers an item and returns it with its id assigned.
func (g *Gate) Submit(item Item) Item {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	if strings.TrimSpace(item.ID) == "" {
		item.ID = fmt.Sprintf("rev_%04d", g.seq)
	}
	item.CreatedAt = globaltime.UTC()
	item.Decision = nil
	item.ResolvedAt = nil
	item.FinalText = ""
	item.Surfaced = g.mode == ModeSync || g.surfaced

	g.entries[item.ID] = &entry{item: item, done: make(chan struct{})}
	g.order = append(g.order, item.ID)
	g.broadcastLocked()
	return item
}

// Pending lists unresolved items a reviewer can act on, in submission order.
func (g *Gate) Pending() []Item {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Item, 0)
	for _, id := range g.order {
		e := g.entries[id]
		if e.item.Surfaced && !e.item.Resolved() {
			out = append(out, e.item)
		}
	}
	return out
}

// Surface releases held back batched items and returns the pending list.
func (g *Gate) Surface() []Item {
	g.mu.Lock()
	g.surfaced = true
	for _, id := range g.order {
		g.entries[id].item.Surfaced = true
	}
	g.broadcastLocked()
	g.mu.Unlock()
	return g.Pending()
}

// Resolve records a decision. Repeating the same decision returns the stored
// item; a different one fails with ErrAlreadyResolved.
func (g *Gate) Resolve(id string, decision Decision) (Item, error) {
	if err := decision.Validate(); err != nil {
		return Item{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}
	if e.item.Resolved() {
		if e.item.Decision.equal(decision) {
			return e.item, nil
		}
		return e.item, fmt.Errorf("%w: %s was resolved as %s", ErrAlreadyResolved, id, e.item.Decision.Action)
	}
	if !e.item.Surfaced {
		return e.item, fmt.Errorf("%w: %s", ErrNotSurfaced, id)
	}

	now := globaltime.UTC()
	d := decision
	e.item.Decision = &d
	e.item.FinalText = e.item.Apply(d)
	e.item.ResolvedAt = &now
	close(e.done)
	g.broadcastLocked()
	return e.item, nil
}

// Await blocks until the item is resolved or ctx ends.
func (g *Gate) Await(ctx context.Context, id string) (Item, error) {
	g.mu.Lock()
	e, ok := g.entries[id]
	g.mu.Unlock()
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}

	select {
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-e.done:
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return e.item, nil
}

// Changed is closed on the next submit, surface or resolve.
func (g *Gate) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

func (g *Gate) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outstandingLocked()
}

func (g *Gate) Get(id string) (Item, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok {
		return Item{}, false
	}
	return e.item, true
}

// Items lists every item, resolved or not, in submission order.
func (g *Gate) Items() []Item {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Item, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.entries[id].item)
	}
	return out
}

func (g *Gate) outstandingLocked() int {
	n := 0
	for _, e := range g.entries {
		if !e.item.Resolved() {
			n++
		}
	}
	return n
}

func (g *Gate) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}
