package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/events"
	"github.com/mattjoyce/bridgeq/internal/httpserve"
	"github.com/mattjoyce/bridgeq/internal/metrics"
	"github.com/mattjoyce/bridgeq/internal/state"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

// TaskQueue is the dispatcher surface the API drives.
type TaskQueue interface {
	Enqueue(ctx context.Context, data dispatch.Data, submit dispatch.SubmitFunc) (dispatch.Receipt, error)
	Retry(id string) error
	Remove(id string) error
	ClearCompleted()
	ClearCancelled()
	UpdateTaskStatus(taskID string, status dispatch.Status) (string, error)
	Queue() []dispatch.Item
	Item(id string) (dispatch.Item, bool)
	Position(id string) int
	Stats() dispatch.Stats
	ActiveTasks() []dispatch.ActiveTask
}

// History reads the persisted submission log.
type History interface {
	Submissions(ctx context.Context, f state.HistoryFilter) ([]state.Submission, error)
}

// EventSource feeds the SSE endpoint.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
	// MetricsPath mounts the Prometheus handler when Deps.Metrics is set.
	MetricsPath string
}

// Deps are the collaborators behind the handlers. History and Metrics are
// optional.
type Deps struct {
	Queue   TaskQueue
	Builder *vault.Builder
	Submit  dispatch.SubmitFunc
	Events  EventSource
	History History
	Metrics *metrics.Collector
}

// Server is the HTTP API in front of the dispatcher.
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return httpserve.Run(ctx, &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// The remote call of a direct submission runs inside the request.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, s.logger)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := httpserve.NewRouter(s.logger)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil && s.config.MetricsPath != "" {
		r.Handle(s.config.MetricsPath, s.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireKey)

		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/tasks/{taskID}/status", s.handleTaskStatus)

		r.Get("/queue", s.handleListQueue)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Post("/queue/clear", s.handleClearQueue)
		r.Get("/queue/{id}", s.handleGetItem)
		r.Post("/queue/{id}/retry", s.handleRetryItem)
		r.Delete("/queue/{id}", s.handleRemoveItem)

		r.Get("/active", s.handleActiveTasks)
		r.Get("/functions", s.handleListFunctions)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleEvents)
		r.Get("/openapi.json", s.handleOpenAPI)
	})

	return r
}
