package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/httpserve"
	"github.com/mattjoyce/bridgeq/internal/state"
	"github.com/mattjoyce/bridgeq/internal/vault"
)

// AddedViaAPI tags submissions that arrived over HTTP without their own
// added_via.
const AddedViaAPI = "api"

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Queue.Stats()
	httpserve.WriteJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    stats.Pending + stats.Submitting,
		ActiveTasks:   len(s.deps.Queue.ActiveTasks()),
		Stats:         stats,
	})
}

// handleSubmitTask handles POST /tasks. The body is a vault.TaskContext; the
// vault is assembled here and the result handed to the dispatcher.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var tc vault.TaskContext
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		httpserve.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if tc.Priority == 0 {
		tc.Priority = dispatch.DefaultPriority
	}
	if tc.Priority < dispatch.HighestPriority || tc.Priority > dispatch.LowestPriority {
		httpserve.WriteError(w, http.StatusBadRequest, "priority must be between 1 and 5")
		return
	}
	if tc.AddedVia == "" {
		tc.AddedVia = AddedViaAPI
	}

	doc, err := s.deps.Builder.Build(tc)
	if err != nil {
		var verr *vault.ValidationError
		if errors.As(err, &verr) {
			httpserve.WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: verr.Error(), Field: verr.Field})
			return
		}
		s.logger.Error("failed to build vault", "function", tc.FunctionName, "error", err)
		httpserve.WriteError(w, http.StatusInternalServerError, "failed to build vault")
		return
	}

	data := dispatch.Data{
		Team:        tc.TeamName,
		Machine:     tc.MachineName,
		Bridge:      tc.BridgeName,
		Function:    tc.FunctionName,
		Priority:    tc.Priority,
		AddedVia:    tc.AddedVia,
		Vault:       doc,
		VaultDigest: vault.Digest(doc),
	}

	receipt, err := s.deps.Queue.Enqueue(r.Context(), data, s.deps.Submit)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Enqueued(data.Priority, err)
	}
	switch {
	case errors.Is(err, dispatch.ErrPriorityConflict):
		httpserve.WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Warn("submission failed", "bridge", data.Bridge, "function", data.Function, "error", err)
		httpserve.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := SubmitResponse{
		ItemID:      receipt.ItemID,
		TaskID:      receipt.TaskID,
		Queued:      receipt.Queued,
		Status:      dispatch.StatusSubmitted,
		VaultDigest: data.VaultDigest,
	}
	if item, ok := s.deps.Queue.Item(receipt.ItemID); ok {
		resp.Status = item.Status
		resp.Position = s.position(receipt.ItemID)
	}
	httpserve.WriteJSON(w, http.StatusAccepted, resp)
}

// handleTaskStatus handles POST /tasks/{taskID}/status.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req TaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserve.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status := dispatch.ParseStatus(string(req.Status))
	bridge, err := s.deps.Queue.UpdateTaskStatus(taskID, status)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidStatus) {
			httpserve.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpserve.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, TaskStatusResponse{TaskID: taskID, Status: status, ReleasedBridge: bridge})
}

// handleListQueue handles GET /queue with an optional ?status= filter.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items := s.deps.Queue.Queue()
	stats := dispatch.StatsOf(items)
	if status := dispatch.Status(r.URL.Query().Get("status")); status != "" {
		filtered := make([]dispatch.Item, 0, len(items))
		for _, it := range items {
			if it.Status == status {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	httpserve.WriteJSON(w, http.StatusOK, QueueResponse{Items: items, Stats: stats})
}

// handleQueueStats handles GET /queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	httpserve.WriteJSON(w, http.StatusOK, s.deps.Queue.Stats())
}

// handleGetItem handles GET /queue/{id}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := s.deps.Queue.Item(id)
	if !ok {
		httpserve.WriteError(w, http.StatusNotFound, "queue item not found")
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, ItemResponse{Item: item, Position: s.position(id)})
}

// handleRetryItem handles POST /queue/{id}/retry.
func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Queue.Retry(id); err != nil {
		s.writeQueueError(w, err)
		return
	}
	item, _ := s.deps.Queue.Item(id)
	httpserve.WriteJSON(w, http.StatusOK, ItemResponse{Item: item, Position: s.position(id)})
}

// handleRemoveItem handles DELETE /queue/{id}.
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Remove(chi.URLParam(r, "id")); err != nil {
		s.writeQueueError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearQueue handles POST /queue/clear?status=completed|cancelled.
// completed, the default, keeps only pending and submitting items.
func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("status") {
	case "", "completed":
		s.deps.Queue.ClearCompleted()
	case "cancelled":
		s.deps.Queue.ClearCancelled()
	default:
		httpserve.WriteError(w, http.StatusBadRequest, "status must be completed or cancelled")
		return
	}
	httpserve.WriteJSON(w, http.StatusOK, s.deps.Queue.Stats())
}

// handleActiveTasks handles GET /active.
func (s *Server) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.deps.Queue.ActiveTasks()
	if tasks == nil {
		tasks = []dispatch.ActiveTask{}
	}
	httpserve.WriteJSON(w, http.StatusOK, tasks)
}

// handleListFunctions handles GET /functions. ?public=true hides internal
// functions.
func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	fns := s.deps.Builder.Registry().Functions()
	if r.URL.Query().Get("public") == "true" {
		public := fns[:0]
		for _, fn := range fns {
			if fn.Public {
				public = append(public, fn)
			}
		}
		fns = public
	}
	httpserve.WriteJSON(w, http.StatusOK, FunctionListResponse{Functions: fns})
}

// handleHistory handles GET /history?bridge=&task_id=&limit=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		httpserve.WriteError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := state.HistoryFilter{Bridge: q.Get("bridge"), TaskID: q.Get("task_id")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpserve.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	subs, err := s.deps.History.Submissions(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		httpserve.WriteError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if subs == nil {
		subs = []state.Submission{}
	}
	httpserve.WriteJSON(w, http.StatusOK, HistoryResponse{Submissions: subs})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httpserve.WriteJSON(w, http.StatusOK, buildOpenAPIDoc(s.deps.Builder.Registry()))
}

// position is the 1-based pending rank of id, or 0.
func (s *Server) position(id string) int {
	return max(s.deps.Queue.Position(id), 0)
}

func (s *Server) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrItemNotFound):
		httpserve.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrNotRetryable):
		httpserve.WriteError(w, http.StatusConflict, err.Error())
	default:
		httpserve.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
