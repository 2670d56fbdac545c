package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/httpserve"
)

// Server receives signed task-status callbacks from the remote queue.
type Server struct {
	config  Config
	updater StatusUpdater
	logger  *slog.Logger

	endpoints map[string]*EndpointConfig
}

// New creates a webhook server. Endpoint defaults are applied here.
func New(config Config, updater StatusUpdater, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		updater:   updater,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start serves the callback endpoints until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	return httpserve.Run(ctx, &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, s.logger)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := httpserve.NewRouter(s.logger)
	for path := range s.endpoints {
		r.Post(path, s.handleStatus)
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		httpserve.WriteError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		httpserve.WriteError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		httpserve.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(endpoint.SignatureHeader), endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature rejected", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		httpserve.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	var cb StatusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		httpserve.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cb.TaskID = strings.TrimSpace(cb.TaskID)
	if cb.TaskID == "" {
		httpserve.WriteError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	status := dispatch.ParseStatus(cb.Status)
	released, err := s.updater.UpdateTaskStatus(cb.TaskID, status)
	if errors.Is(err, dispatch.ErrInvalidStatus) {
		httpserve.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("task status update failed", "task_id", cb.TaskID, "error", err)
		httpserve.WriteError(w, http.StatusInternalServerError, "failed to apply status")
		return
	}

	s.logger.Info("task status applied",
		"task_id", cb.TaskID,
		"status", status,
		"released_bridge", released,
	)
	httpserve.WriteJSON(w, http.StatusOK, StatusResponse{
		TaskID:         cb.TaskID,
		Status:         status,
		ReleasedBridge: released,
	})
}
