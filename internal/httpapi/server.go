package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/modtrans/internal/config"
	"horse.fit/modtrans/internal/db"
	"horse.fit/modtrans/internal/engine"
	"horse.fit/modtrans/internal/globaltime"
	"horse.fit/modtrans/internal/translation"
)

const maxRequestBytes = 8 << 20

// HistoryStore lists persisted run summaries. db.Pool implements it.
type HistoryStore interface {
	ListRuns(ctx context.Context, limit int) ([]db.TranslationRun, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowOrigins    []string
}

type Server struct {
	engine   *engine.Engine
	registry *translation.Registry
	profile  *config.Profile
	history  HistoryStore
	logger   zerolog.Logger
	opts     Options
}

// NewServer wires the HTTP surface of the engine. history may be nil when no
// database is configured.
func NewServer(eng *engine.Engine, registry *translation.Registry, profile *config.Profile, history HistoryStore, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	allowOrigins := opts.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	if profile == nil {
		profile = &config.Profile{}
	}

	return &Server{
		engine:   eng,
		registry: registry,
		profile:  profile,
		history:  history,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    opts.WriteTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowOrigins:    allowOrigins,
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxRequestBytes)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/languages", s.handleLanguages)
	api.GET("/history", s.handleHistory)

	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:run_id", s.handleGetRun)
	api.POST("/runs/:run_id/cancel", s.handleCancelRun)
	api.GET("/runs/:run_id/tasks", s.handleTasks)
	api.GET("/runs/:run_id/events", s.handleEvents)
	api.GET("/runs/:run_id/results", s.handleResults)
	api.GET("/runs/:run_id/reviews", s.handleReviews)
	api.POST("/runs/:run_id/reviews/:review_id", s.handleResolveReview)
	api.GET("/runs/:run_id/credentials", s.handleCredentials)
	api.POST("/runs/:run_id/credentials", s.handleAddCredential)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.engine == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	// WriteTimeout stays zero unless configured: event streams live as long as a run.
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.engine.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("engine shutdown failed")
		}
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("modtrans api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("modtrans api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service":   "modtrans",
		"time":      globaltime.UTC(),
		"providers": s.registry.ProviderNames(),
		"history":   s.history != nil,
	})
}

func (s *Server) handleLanguages(c echo.Context) error {
	return success(c, map[string]any{
		"items":            translation.TranslationLanguageOptions(s.registry),
		"providers":        s.registry.ProviderNames(),
		"default_provider": s.registry.DefaultProvider(),
	})
}

type historyItem struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	Provider    string     `json:"provider"`
	SourceLang  string     `json:"source_lang"`
	TargetLang  string     `json:"target_lang"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	NeedsReview int        `json:"needs_review"`
	Pending     int        `json:"pending"`
	MemoryHits  int        `json:"memory_hits"`
	Stalls      int        `json:"stalls"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return failNotFound(c, "Run history requires DATABASE_URL")
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	rows, err := s.history.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list run history failed")
		return internalError(c, "Failed to load run history")
	}

	items := make([]historyItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, historyItem{
			RunID:       row.RunID,
			Status:      row.Status,
			Provider:    row.ProviderName,
			SourceLang:  row.SourceLang,
			TargetLang:  row.TargetLang,
			Total:       row.Total,
			Succeeded:   row.Succeeded,
			Failed:      row.Failed,
			NeedsReview: row.NeedsReview,
			Pending:     row.Pending,
			MemoryHits:  row.MemoryHits,
			Stalls:      row.Stalls,
			Error:       row.ErrorMessage,
			StartedAt:   row.StartedAt,
			FinishedAt:  row.FinishedAt,
		})
	}
	return success(c, map[string]any{
		"items": items,
		"limit": limit,
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
