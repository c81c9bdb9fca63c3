package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/modtrans/internal/credential"
	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/langdetect"
	"horse.fit/modtrans/internal/review"
	"horse.fit/modtrans/internal/schema"
)

func (s *Server) handleCreateRun(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	req, err := schema.ValidateRunRequest(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = s.profile.Provider
	}
	provider, err := s.registry.Provider(providerName)
	if err != nil {
		return failValidation(c, map[string]string{"provider": err.Error()})
	}

	settings := engine.SettingsFromProfile(s.profile)
	if req.ReviewMode != "" {
		settings.ReviewMode = review.Mode(req.ReviewMode)
	}
	if req.Workers != nil {
		settings.Workers = *req.Workers
	}
	if req.ConfidenceThreshold != nil {
		settings.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.StyleHint != "" {
		settings.StyleHint = req.StyleHint
	}

	sourceLang := req.SourceLang
	if sourceLang == "" && s.profile.DetectLanguage {
		texts := make([]string, len(req.Entries))
		for i, entry := range req.Entries {
			texts[i] = entry.Text
		}
		sourceLang = langdetect.DetectSample(texts)
	}
	if sourceLang == "" {
		sourceLang = s.profile.SourceLang
	}

	run, err := s.engine.Submit(c.Request().Context(), engine.Job{
		ID:         req.RunID,
		Entries:    req.Entries,
		SourceLang: sourceLang,
		TargetLang: req.TargetLang,
		Settings:   settings,
		Provider:   provider,
	})
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrRunExists):
		return failConflict(c, err.Error())
	case errors.Is(err, credential.ErrNoCredentials):
		return fail(c, http.StatusUnprocessableEntity, "No credentials configured in the server profile", nil)
	default:
		return failValidation(c, map[string]string{"run": err.Error()})
	}

	return successWithStatus(c, http.StatusCreated, run.Summary())
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs := s.engine.Runs()
	items := make([]engine.Summary, 0, len(runs))
	for _, run := range runs {
		items = append(items, run.Summary())
	}
	return success(c, map[string]any{
		"items": items,
	})
}

func (s *Server) lookupRun(c echo.Context) (*engine.Run, error) {
	runID := strings.TrimSpace(c.Param("run_id"))
	run, err := s.engine.Run(runID)
	if err != nil {
		return nil, failNotFound(c, "Run not found")
	}
	return run, nil
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	return success(c, run.Summary())
}

func (s *Server) handleCancelRun(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	run.Cancel()
	s.logger.Info().Str("run_id", run.ID()).Msg("run cancel requested")
	return successWithStatus(c, http.StatusAccepted, run.Summary())
}

func (s *Server) handleTasks(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}

	status := engine.Status(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	tasks := run.Tasks()
	items := make([]engine.Task, 0, len(tasks))
	for _, task := range tasks {
		if status != "" && task.Status != status {
			continue
		}
		items = append(items, task)
	}
	return success(c, map[string]any{
		"items":  items,
		"status": status,
	})
}

func (s *Server) handleResults(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	return success(c, map[string]any{
		"items":     run.Results(),
		"remaining": run.Remaining(),
		"status":    run.Status(),
	})
}

func (s *Server) handleEvents(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	if parseBool(c.QueryParam("stream")) {
		return s.streamEvents(c, run)
	}

	since, err := parsePositiveInt(c.QueryParam("since"), 0, 0, 1<<30)
	if err != nil {
		return failValidation(c, map[string]string{"since": err.Error()})
	}
	events := run.Events()
	if since > len(events) {
		since = len(events)
	}
	return success(c, map[string]any{
		"items": events[since:],
		"next":  len(events),
	})
}

// streamEvents writes the run's progress as server-sent events, replaying
// history first, until the run finishes or the client goes away.
func (s *Server) streamEvents(c echo.Context, run *engine.Run) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for ev := range run.Progress(c.Request().Context()) {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}

func (s *Server) handleReviews(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	items := run.Reviews()
	if parseBool(c.QueryParam("pending")) {
		items = run.PendingReviews()
	}
	return success(c, map[string]any{
		"items": items,
		"mode":  run.Summary().ReviewMode,
	})
}

type resolveReviewRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

func (s *Server) handleResolveReview(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}

	var req resolveReviewRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	decision := review.Decision{
		Action: review.Action(strings.ToLower(strings.TrimSpace(req.Action))),
		Text:   req.Text,
	}

	item, err := run.ResolveReview(c.Param("review_id"), decision)
	switch {
	case err == nil:
	case errors.Is(err, review.ErrInvalidDecision):
		return failValidation(c, map[string]string{"action": err.Error()})
	case errors.Is(err, review.ErrReviewNotFound):
		return failNotFound(c, "Review not found")
	case errors.Is(err, review.ErrAlreadyResolved), errors.Is(err, review.ErrNotSurfaced):
		return failConflict(c, err.Error())
	default:
		s.logger.Error().Err(err).Str("run_id", run.ID()).Msg("resolve review failed")
		return internalError(c, "Failed to resolve review")
	}
	return success(c, item)
}

func (s *Server) handleCredentials(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}
	return success(c, map[string]any{
		"items":   run.Credentials(),
		"summary": run.Summary().Credentials,
	})
}

type addCredentialRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleAddCredential(c echo.Context) error {
	run, err := s.lookupRun(c)
	if run == nil {
		return err
	}

	var req addCredentialRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if strings.TrimSpace(req.Secret) == "" {
		return failValidation(c, map[string]string{"secret": "is required"})
	}

	id, err := run.AddCredential(req.Secret)
	if err != nil {
		return failValidation(c, map[string]string{"secret": err.Error()})
	}
	return successWithStatus(c, http.StatusCreated, map[string]any{
		"id":      id,
		"label":   credential.Mask(req.Secret),
		"summary": run.Summary().Credentials,
	})
}
