package engine

import (
	"context"
	"fmt"
)

// Result is the output of one entry. Text is the best text known so far:
// the translation, a pending review candidate, or the source when nothing
// better exists. Final marks text that will not change any more.
type Result struct {
	Key      string `json:"key"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Status   Status `json:"status"`
	Cause    Cause  `json:"cause"`
	Final    bool   `json:"final"`
	ReviewID string `json:"review_id,omitempty"`
}

// Results returns one result per entry in submission order, whatever order
// the tasks completed in.
func (r *Run) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = resultOf(t)
	}
	return out
}

func resultOf(t *Task) Result {
	res := Result{
		Key:      t.Key,
		Index:    t.Index,
		Text:     t.Source,
		Status:   t.Status,
		Cause:    t.Cause,
		Final:    t.Final(),
		ReviewID: t.ReviewID,
	}
	switch t.Status {
	case StatusSucceeded, StatusNeedsReview:
		res.Text = t.Result
	}
	return res
}

// Flush writes every final result to sink in submission order and returns
// how many were written. Entries still pending or awaiting review are left
// out; Remaining lists them.
func (r *Run) Flush(ctx context.Context, sink Sink) (int, error) {
	written := 0
	for _, res := range r.Results() {
		if !res.Final {
			continue
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := sink.Put(ctx, res.Key, res.Text); err != nil {
			return written, fmt.Errorf("write %s: %w", res.Key, err)
		}
		written++
	}
	return written, nil
}
