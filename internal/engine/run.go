package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/modtrans/internal/credential"
	"horse.fit/modtrans/internal/globaltime"
	"horse.fit/modtrans/internal/memory"
	"horse.fit/modtrans/internal/placeholder"
	"horse.fit/modtrans/internal/ratelimit"
	"horse.fit/modtrans/internal/review"
	"horse.fit/modtrans/internal/translation"
)

type RunStatus string

const (
	RunRunning        RunStatus = "running"
	RunAwaitingReview RunStatus = "awaiting_review"
	RunCompleted      RunStatus = "completed"
	RunCanceled       RunStatus = "canceled"
	RunFailed         RunStatus = "failed"
)

type runParams struct {
	id        string
	job       Job
	settings  Settings
	provider  translation.Provider
	logger    zerolog.Logger
	memory    memory.Store
	scorer    Scorer
	recorder  Recorder
	pool      *credential.Pool
	limiter   *ratelimit.Limiter
	protector *placeholder.Protector
	gate      *review.Gate
}

// Run is one submitted job. All methods are safe for concurrent use.
type Run struct {
	id         string
	sourceLang string
	targetLang string
	settings   Settings
	provider   translation.Provider
	logger     zerolog.Logger
	memory     memory.Store
	scorer     Scorer
	recorder   Recorder
	pool       *credential.Pool
	limiter    *ratelimit.Limiter
	protector  *placeholder.Protector
	gate       *review.Gate
	queue      *taskQueue
	events     *eventLog

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu         sync.Mutex
	tasks      []*Task
	reviewTask map[string]int
	announced  map[string]bool
	unsettled  int
	syncOpen   int
	status     RunStatus
	err        error
	stalls     int
	memoryHits int
	startedAt  time.Time
	finishedAt *time.Time

	// openReviews counts needs_review tasks without an applied decision.
	openReviews  int
	reviewsMoved chan struct{}
}

func newRun(p runParams) *Run {
	ctx, cancel := context.WithCancelCause(context.Background())
	r := &Run{
		id:         p.id,
		sourceLang: p.job.SourceLang,
		targetLang: p.job.TargetLang,
		settings:   p.settings,
		provider:   p.provider,
		logger:     p.logger,
		memory:     p.memory,
		scorer:     p.scorer,
		recorder:   p.recorder,
		pool:       p.pool,
		limiter:    p.limiter,
		protector:  p.protector,
		gate:       p.gate,
		queue:      newTaskQueue(len(p.job.Entries)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		reviewTask: make(map[string]int),
		announced:  make(map[string]bool),
		status:     RunRunning,
		startedAt:  globaltime.UTC(),

		reviewsMoved: make(chan struct{}),
	}
	r.events = newEventLog(&r.mu)

	now := globaltime.UTC()
	r.tasks = make([]*Task, len(p.job.Entries))
	for i, entry := range p.job.Entries {
		r.tasks[i] = &Task{
			Key:        entry.Key,
			Index:      i,
			Source:     entry.Text,
			SourceLang: p.job.SourceLang,
			TargetLang: p.job.TargetLang,
			Context:    entry.Context,
			Status:     StatusPending,
			Cause:      CauseQueued,
			UpdatedAt:  now,
		}
		r.queue.Push(i, time.Time{})
	}
	r.unsettled = len(r.tasks)
	if r.unsettled == 0 {
		r.queue.Close()
	}
	return r
}

func (r *Run) execute() {
	defer close(r.done)

	g, gctx := errgroup.WithContext(r.ctx)
	for i := 0; i < r.settings.Workers; i++ {
		worker := i + 1
		g.Go(func() error {
			return r.work(gctx, worker)
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error().Err(err).Msg("worker aborted run")
		r.cancel(err)
	}

	if r.ctx.Err() == nil && r.gate.Mode() == review.ModeBatched && r.gate.Outstanding() > 0 {
		items := r.gate.Surface()
		r.mu.Lock()
		r.events.appendLocked(TaskStatus{RunID: r.id, Type: EventRun, Cause: CauseReviewsSurfaced, Index: len(items)})
		r.mu.Unlock()
		r.logger.Info().Int("reviews", len(items)).Msg("queue drained, reviews surfaced")
	}
	r.awaitReviews()

	r.finish()
}

// awaitReviews blocks until every needs_review task carries its decision,
// or the run is canceled.
func (r *Run) awaitReviews() {
	for {
		r.mu.Lock()
		open, moved := r.openReviews, r.reviewsMoved
		if open > 0 && r.ctx.Err() == nil {
			r.status = RunAwaitingReview
		}
		r.mu.Unlock()
		if open == 0 {
			return
		}

		select {
		case <-r.ctx.Done():
			return
		case <-moved:
		}
	}
}

// reviewAppliedLocked records one more decided review and wakes awaitReviews.
func (r *Run) reviewAppliedLocked() {
	r.openReviews--
	close(r.reviewsMoved)
	r.reviewsMoved = make(chan struct{})
}

func (r *Run) finish() {
	r.mu.Lock()
	now := globaltime.UTC()
	r.finishedAt = &now
	switch cause := context.Cause(r.ctx); {
	case cause == nil:
		r.status = RunCompleted
	case errors.Is(cause, context.Canceled):
		r.status = RunCanceled
		r.err = context.Canceled
	default:
		r.status = RunFailed
		r.err = cause
	}
	ev := TaskStatus{RunID: r.id, Type: EventRun, Cause: CauseRunFinished}
	if r.err != nil {
		ev.Error = r.err.Error()
	}
	r.events.appendLocked(ev)
	r.events.closeLocked()
	r.mu.Unlock()

	summary := r.Summary()
	event := r.logger.Info()
	if summary.Status == RunFailed {
		event = r.logger.Error().Str("error", summary.Error)
	}
	event.
		Str("status", string(summary.Status)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("needs_review", summary.NeedsReview).
		Int("pending", summary.Pending).
		Int("memory_hits", summary.MemoryHits).
		Int("stalls", summary.Stalls).
		Msg("run finished")

	if r.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.recorder.RecordRun(ctx, summary); err != nil {
			r.logger.Warn().Err(err).Msg("record run summary")
		}
		cancel()
	}
	r.cancel(nil)
}

func (r *Run) ID() string { return r.id }

func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Run) statusLocked() RunStatus {
	if r.status == RunRunning && r.syncOpen > 0 {
		return RunAwaitingReview
	}
	return r.status
}

// Done is closed once the run has finished, successfully or not.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err is nil for a completed run, context.Canceled for a canceled one and the
// failure cause otherwise (for example a credential stall).
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.Err()
	}
}

// Cancel stops dispatching. In-flight calls finish or time out; untouched
// tasks stay pending and are reported by Remaining.
func (r *Run) Cancel() {
	select {
	case <-r.done:
		return
	default:
	}
	r.cancel(context.Canceled)
}

// Progress streams every event of the run from the beginning. The channel
// closes when the run is done or ctx ends.
func (r *Run) Progress(ctx context.Context) <-chan TaskStatus {
	return r.events.subscribe(ctx)
}

// Events returns the event history recorded so far.
func (r *Run) Events() []TaskStatus {
	events, _, _ := r.events.since(0)
	return events
}

func (r *Run) PendingReviews() []review.Item {
	return r.gate.Pending()
}

func (r *Run) Reviews() []review.Item {
	return r.gate.Items()
}

// ReviewsChanged is closed the next time a review is submitted, surfaced or
// resolved.
func (r *Run) ReviewsChanged() <-chan struct{} {
	return r.gate.Changed()
}

// ResolveReview applies a reviewer decision. Repeating the same decision is
// a no-op. The task carries the decision before the run can finish.
func (r *Run) ResolveReview(id string, decision review.Decision) (review.Item, error) {
	item, err := r.gate.Resolve(id, decision)
	if err != nil {
		return item, err
	}

	r.mu.Lock()
	idx, ok := r.reviewTask[id]
	if !ok {
		r.mu.Unlock()
		return item, fmt.Errorf("%w: %s", review.ErrReviewNotFound, id)
	}
	t := r.tasks[idx]
	applied := t.Resolution == ""
	source, srcLang, tgtLang := t.Source, t.SourceLang, t.TargetLang
	r.mu.Unlock()
	if !applied {
		return item, nil
	}

	if decision.Action != review.ActionUseOriginal {
		_, trimmed, _ := splitPadding(source)
		_, final, _ := splitPadding(item.FinalText)
		r.remember(context.Background(), trimmed, srcLang, tgtLang, memory.Record{
			Text:     final,
			Provider: r.provider.Name(),
			Reviewed: true,
		})
	}

	r.mu.Lock()
	if t.Resolution == "" {
		t.Resolution = decision.Action
		t.Result = item.FinalText
		t.Cause = CauseReviewResolved
		t.UpdatedAt = globaltime.UTC()
		// an unannounced review is reported by its worker, in order
		if r.announced[id] {
			r.emitResolvedLocked(t)
		}
	}
	r.mu.Unlock()

	r.logger.Info().Str("key", item.Key).Str("review_id", id).Str("action", string(decision.Action)).Msg("review resolved")
	return item, nil
}

// AddCredential adds a replacement credential and wakes stalled workers.
func (r *Run) AddCredential(secret string) (string, error) {
	id, err := r.pool.Add(secret)
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("credential_id", id).Msg("credential added")
	return id, nil
}

func (r *Run) Credentials() []credential.Credential {
	return r.pool.Snapshot()
}

// Tasks returns copies of every task in submission order.
func (r *Run) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = *t
	}
	return out
}

func (r *Run) Task(key string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Key == key {
			return *t, true
		}
	}
	return Task{}, false
}

// Remaining lists the entries that still need a translation: pending tasks
// and unresolved reviews. Feeding them into a new run resumes the work.
func (r *Run) Remaining() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0)
	for _, t := range r.tasks {
		if t.Final() {
			continue
		}
		out = append(out, Entry{Key: t.Key, Text: t.Source, Context: t.Context})
	}
	return out
}

// Summary aggregates the state of a run.
type Summary struct {
	RunID       string             `json:"run_id"`
	Status      RunStatus          `json:"status"`
	Provider    string             `json:"provider"`
	SourceLang  string             `json:"source_lang"`
	TargetLang  string             `json:"target_lang"`
	ReviewMode  review.Mode        `json:"review_mode"`
	Total       int                `json:"total"`
	Pending     int                `json:"pending"`
	InFlight    int                `json:"in_flight"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	NeedsReview int                `json:"needs_review"`
	Resolved    int                `json:"resolved"`
	MemoryHits  int                `json:"memory_hits"`
	Stalls      int                `json:"stalls"`
	Credentials credential.Summary `json:"credentials"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

func (r *Run) Summary() Summary {
	creds := r.pool.Summary()

	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		RunID:       r.id,
		Status:      r.statusLocked(),
		Provider:    r.provider.Name(),
		SourceLang:  r.sourceLang,
		TargetLang:  r.targetLang,
		ReviewMode:  r.gate.Mode(),
		Total:       len(r.tasks),
		MemoryHits:  r.memoryHits,
		Stalls:      r.stalls,
		Credentials: creds,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	for _, t := range r.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusInFlight:
			s.InFlight++
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusNeedsReview:
			s.NeedsReview++
			if t.Resolution != "" {
				s.Resolved++
			}
		}
	}
	return s
}

// splitPadding separates leading and trailing whitespace, which is kept out
// of the provider call and re-attached afterwards.
func splitPadding(text string) (lead, core, trail string) {
	core = strings.TrimSpace(text)
	if core == "" {
		return "", "", text
	}
	start := strings.Index(text, core)
	return text[:start], core, text[start+len(core):]
}
