package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/modtrans/internal/credential"
	"horse.fit/modtrans/internal/globaltime"
	"horse.fit/modtrans/internal/memory"
	"horse.fit/modtrans/internal/placeholder"
	"horse.fit/modtrans/internal/review"
	"horse.fit/modtrans/internal/translation"
)

const memoryTimeout = 5 * time.Second

func (r *Run) work(ctx context.Context, worker int) error {
	logger := r.logger.With().Int("worker", worker).Logger()
	for {
		idx, ok := r.queue.Dequeue(ctx)
		if !ok {
			logger.Debug().Msg("worker stopped")
			return nil
		}
		if err := r.process(ctx, idx); err != nil {
			return err
		}
	}
}

func (r *Run) process(ctx context.Context, idx int) error {
	r.mu.Lock()
	t := r.tasks[idx]
	key, source, attempts := t.Key, t.Source, t.Attempts
	srcLang, tgtLang, hint := t.SourceLang, t.TargetLang, t.Context
	r.mu.Unlock()

	lead, core, trail := splitPadding(source)
	if core == "" {
		return r.succeed(idx, source, CausePassthrough)
	}

	if attempts == 0 && r.memory != nil {
		if rec, ok := r.lookup(ctx, core, srcLang, tgtLang); ok {
			r.mu.Lock()
			r.memoryHits++
			r.mu.Unlock()
			return r.succeed(idx, lead+rec.Text+trail, CauseMemoryHit)
		}
	}

	sanitized, pmap := r.protector.Protect(core)
	if strings.TrimSpace(placeholder.StripTokens(sanitized)) == "" {
		return r.succeed(idx, source, CausePassthrough)
	}

	lease, ok := r.acquireCredential(ctx, key)
	if !ok {
		r.queue.PushFront(idx)
		return nil
	}
	release, err := r.limiter.Acquire(ctx, lease.ID)
	if err != nil {
		r.pool.Release(lease, credential.Report{Outcome: credential.OutcomeNeutral})
		r.queue.PushFront(idx)
		return nil
	}

	r.mu.Lock()
	if err := t.transition(StatusInFlight, CauseDispatched); err != nil {
		r.mu.Unlock()
		release()
		r.pool.Release(lease, credential.Report{Outcome: credential.OutcomeNeutral})
		return err
	}
	t.CredentialID = lease.ID
	attempt := t.Attempts
	r.emitLocked(t, EventTask)
	r.mu.Unlock()

	if hint == "" {
		hint = key
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.CallTimeout)
	resp, err := r.provider.Translate(callCtx, translation.TranslateRequest{
		Text:       sanitized,
		SourceLang: srcLang,
		TargetLang: tgtLang,
		StyleHint:  r.settings.StyleHint,
		Context:    hint,
		APIKey:     lease.Secret,
	})
	cancel()
	release()
	if err == nil && resp == nil {
		err = fmt.Errorf("provider %s returned no response", r.provider.Name())
	}
	if err != nil {
		return r.fail(idx, lease, attempt, err)
	}
	r.pool.Release(lease, credential.Report{Outcome: credential.OutcomeSuccess})

	restored, err := r.protector.Restore(resp.Text, pmap)
	if err != nil {
		var mismatch *placeholder.MismatchError
		var missing []string
		if errors.As(err, &mismatch) {
			missing = mismatch.Missing
		}
		r.logger.Warn().Str("key", key).Err(err).Msg("placeholders corrupted, routing to review")
		return r.submitReview(ctx, idx, review.Item{
			Source:    source,
			Candidate: lead + r.protector.RestoreLenient(resp.Text, pmap) + trail,
			Reason:    review.ReasonPlaceholderMismatch,
			Detail:    err.Error(),
			Missing:   missing,
		}, CausePlaceholderMismatch)
	}

	if threshold := r.settings.ConfidenceThreshold; threshold > 0 {
		confidence := resp.Confidence
		if confidence == nil && r.scorer != nil {
			if score, ok := r.scorer.Score(restored, tgtLang); ok {
				confidence = &score
			}
		}
		if confidence != nil && *confidence < threshold {
			return r.submitReview(ctx, idx, review.Item{
				Source:     source,
				Candidate:  lead + restored + trail,
				Reason:     review.ReasonLowConfidence,
				Detail:     fmt.Sprintf("confidence %.2f below %.2f", *confidence, threshold),
				Confidence: confidence,
			}, CauseLowConfidence)
		}
	}

	if err := r.succeed(idx, lead+restored+trail, CauseTranslated); err != nil {
		return err
	}
	providerName := resp.ProviderName
	if providerName == "" {
		providerName = r.provider.Name()
	}
	r.remember(ctx, core, srcLang, tgtLang, memory.Record{
		Text:     restored,
		Provider: providerName,
		Model:    resp.ModelName,
	})
	return nil
}

// acquireCredential waits for a lease. A busy pool waits quietly; a pool
// with nothing usable is a stall, reported and bounded by StallTimeout.
func (r *Run) acquireCredential(ctx context.Context, key string) (*credential.Lease, bool) {
	for {
		changed := r.pool.Changed()
		lease, err := r.pool.Acquire()
		if err == nil {
			return lease, true
		}

		if r.pool.Usable() {
			if err := r.pool.WaitChange(ctx, changed); err != nil {
				return nil, false
			}
			continue
		}

		r.mu.Lock()
		r.stalls++
		r.events.appendLocked(TaskStatus{RunID: r.id, Type: EventStall, Key: key, Cause: CausePoolStalled, Error: err.Error()})
		r.mu.Unlock()
		r.logger.Warn().
			Str("key", key).
			Bool("recoverable", r.pool.Recoverable()).
			Msg("no usable credential, waiting for recovery or replacement")

		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.settings.StallTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, r.settings.StallTimeout)
		}
		err = r.pool.WaitChange(waitCtx, changed)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				r.cancel(fmt.Errorf("%w: no usable credential within %s", credential.ErrPoolExhausted, r.settings.StallTimeout))
			}
			return nil, false
		}
	}
}

func (r *Run) fail(idx int, lease *credential.Lease, attempt int, callErr error) error {
	kind := translation.Classify(callErr)
	report := credential.Report{Outcome: credential.OutcomeFailure}
	switch kind {
	case translation.KindRateLimited:
		report = credential.Report{Outcome: credential.OutcomeRateLimited, RetryAfter: translation.RetryAfter(callErr)}
	case translation.KindAuth:
		report.Outcome = credential.OutcomeAuthFailure
	case translation.KindMalformed:
		report.Outcome = credential.OutcomeNeutral
	}
	if errors.Is(callErr, translation.ErrCircuitOpen) {
		// the key never reached the provider
		report = credential.Report{Outcome: credential.OutcomeNeutral}
	}
	r.pool.Release(lease, report)

	r.mu.Lock()
	t := r.tasks[idx]
	if kind.Transient() && attempt < r.settings.MaxAttempts {
		retryAt := globaltime.UTC().Add(r.settings.Backoff.Delay(attempt))
		if err := t.transition(StatusPending, Cause(kind)); err != nil {
			r.mu.Unlock()
			return err
		}
		t.RetryAt = &retryAt
		t.Error = callErr.Error()
		r.emitLocked(t, EventTask)
		r.mu.Unlock()

		r.logger.Warn().
			Str("key", t.Key).
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Time("retry_at", retryAt).
			Err(callErr).
			Msg("translation failed, retrying")
		r.queue.Push(idx, retryAt)
		return nil
	}

	msg := callErr.Error()
	if kind.Transient() {
		msg = fmt.Sprintf("attempts exhausted after %d tries: %s", attempt, msg)
	}
	if err := t.transition(StatusFailed, Cause(kind)); err != nil {
		r.mu.Unlock()
		return err
	}
	t.Error = msg
	r.emitLocked(t, EventTask)
	drained := r.settleLocked()
	key := t.Key
	r.mu.Unlock()
	if drained {
		r.queue.Close()
	}

	r.logger.Error().Str("key", key).Str("kind", string(kind)).Int("attempt", attempt).Err(callErr).Msg("translation failed")
	return nil
}

func (r *Run) succeed(idx int, text string, cause Cause) error {
	r.mu.Lock()
	t := r.tasks[idx]
	if err := t.transition(StatusSucceeded, cause); err != nil {
		r.mu.Unlock()
		return err
	}
	t.Result = text
	r.emitLocked(t, EventTask)
	drained := r.settleLocked()
	r.mu.Unlock()
	if drained {
		r.queue.Close()
	}
	return nil
}

// submitReview parks the task in needs_review. In sync mode dispatch pauses
// until the reviewer decides.
func (r *Run) submitReview(ctx context.Context, idx int, item review.Item, cause Cause) error {
	blocking := r.gate.Mode() == review.ModeSync
	if blocking {
		r.queue.Pause()
		defer r.queue.Resume()
	}

	r.mu.Lock()
	t := r.tasks[idx]
	if err := t.transition(StatusNeedsReview, cause); err != nil {
		r.mu.Unlock()
		return err
	}
	item.ID = fmt.Sprintf("rev_%04d", idx+1)
	item.Key = t.Key
	item.Index = t.Index
	t.ReviewID = item.ID
	t.Result = item.Candidate
	r.reviewTask[item.ID] = idx
	r.openReviews++
	if blocking {
		r.syncOpen++
	}
	event := r.taskEventLocked(t, EventReview)
	drained := r.settleLocked()
	r.mu.Unlock()

	// the item is in the gate before anyone hears about it
	item = r.gate.Submit(item)

	r.mu.Lock()
	r.announced[item.ID] = true
	r.events.appendLocked(event)
	if t.Resolution != "" {
		r.emitResolvedLocked(t)
	}
	r.mu.Unlock()
	if drained {
		r.queue.Close()
	}

	r.logger.Info().Str("key", item.Key).Str("review_id", item.ID).Str("reason", string(item.Reason)).Msg("translation needs review")

	if !blocking {
		return nil
	}
	_, err := r.gate.Await(ctx, item.ID)
	r.mu.Lock()
	r.syncOpen--
	r.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// settleLocked reports whether the last task just settled; the caller then
// closes the queue once r.mu is released.
func (r *Run) settleLocked() bool {
	r.unsettled--
	return r.unsettled == 0
}

func (r *Run) emitLocked(t *Task, typ EventType) {
	r.events.appendLocked(r.taskEventLocked(t, typ))
}

// emitResolvedLocked reports an applied decision and releases the run if it
// was the last open review.
func (r *Run) emitResolvedLocked(t *Task) {
	r.events.appendLocked(TaskStatus{
		RunID:    r.id,
		Type:     EventReview,
		Key:      t.Key,
		Index:    t.Index,
		Status:   t.Status,
		Cause:    CauseReviewResolved,
		Attempt:  t.Attempts,
		ReviewID: t.ReviewID,
	})
	r.reviewAppliedLocked()
}

func (r *Run) taskEventLocked(t *Task, typ EventType) TaskStatus {
	return TaskStatus{
		RunID:        r.id,
		Type:         typ,
		Key:          t.Key,
		Index:        t.Index,
		Status:       t.Status,
		Cause:        t.Cause,
		Attempt:      t.Attempts,
		CredentialID: t.CredentialID,
		ReviewID:     t.ReviewID,
		Error:        t.Error,
	}
}

func (r *Run) lookup(ctx context.Context, text, srcLang, tgtLang string) (memory.Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, memoryTimeout)
	defer cancel()
	rec, ok, err := r.memory.Lookup(ctx, memory.Key{SourceText: text, SourceLang: srcLang, TargetLang: tgtLang})
	if err != nil {
		r.logger.Warn().Err(err).Msg("translation memory lookup failed")
		return memory.Record{}, false
	}
	return rec, ok
}

func (r *Run) remember(ctx context.Context, text, srcLang, tgtLang string, rec memory.Record) {
	if r.memory == nil || strings.TrimSpace(rec.Text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryTimeout)
	defer cancel()
	if err := r.memory.Save(ctx, memory.Key{SourceText: text, SourceLang: srcLang, TargetLang: tgtLang}, rec); err != nil {
		r.logger.Warn().Err(err).Msg("translation memory save failed")
	}
}
