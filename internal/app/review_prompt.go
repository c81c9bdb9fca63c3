package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/review"
)

const (
	onReviewPrompt   = "prompt"
	onReviewAccept   = "accept"
	onReviewOriginal = "original"
)

func parseOnReview(raw string) (string, error) {
	switch policy := strings.ToLower(strings.TrimSpace(raw)); policy {
	case onReviewPrompt, onReviewAccept, onReviewOriginal:
		return policy, nil
	case "":
		return onReviewPrompt, nil
	default:
		return "", fmt.Errorf("--on-review must be prompt, accept or original")
	}
}

// reviewer answers review items, either with a fixed policy or by asking
// on the terminal.
type reviewer struct {
	policy string
	in     *bufio.Reader
	out    io.Writer
}

func newReviewer(policy string, in io.Reader, out io.Writer) *reviewer {
	return &reviewer{policy: policy, in: bufio.NewReader(in), out: out}
}

func (r *reviewer) decide(item review.Item) review.Decision {
	switch r.policy {
	case onReviewAccept:
		return review.Decision{Action: review.ActionAccept}
	case onReviewOriginal:
		return review.Decision{Action: review.ActionUseOriginal}
	}

	fmt.Fprintf(r.out, "\nReview %s key=%s reason=%s\n", item.ID, item.Key, item.Reason)
	if item.Detail != "" {
		fmt.Fprintf(r.out, "  detail:    %s\n", item.Detail)
	}
	if len(item.Missing) > 0 {
		fmt.Fprintf(r.out, "  missing:   %s\n", strings.Join(item.Missing, " "))
	}
	fmt.Fprintf(r.out, "  source:    %s\n", item.Source)
	fmt.Fprintf(r.out, "  candidate: %s\n", item.Candidate)

	for {
		fmt.Fprint(r.out, "[a]ccept, use [o]riginal, [e]dit? ")
		answer, err := r.readLine()
		if err != nil {
			// no terminal left to ask: keep the source text
			fmt.Fprintln(r.out)
			return review.Decision{Action: review.ActionUseOriginal}
		}
		switch strings.ToLower(answer) {
		case "a", "accept":
			return review.Decision{Action: review.ActionAccept}
		case "o", "original":
			return review.Decision{Action: review.ActionUseOriginal}
		case "e", "edit":
			fmt.Fprint(r.out, "text: ")
			text, err := r.readLine()
			if err != nil || text == "" {
				continue
			}
			return review.Decision{Action: review.ActionEdit, Text: text}
		}
	}
}

func (r *reviewer) readLine() (string, error) {
	line, err := r.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// resolveReviews answers every pending review of run until the run ends.
func (r *reviewer) resolveReviews(ctx context.Context, run *engine.Run) error {
	for {
		changed := run.ReviewsChanged()
		for _, item := range run.PendingReviews() {
			if _, err := run.ResolveReview(item.ID, r.decide(item)); err != nil && !errors.Is(err, review.ErrAlreadyResolved) {
				return fmt.Errorf("resolve review %s: %w", item.ID, err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-run.Done():
			return nil
		case <-changed:
		}
	}
}
