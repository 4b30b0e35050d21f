package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the part of the refresh engine the admin API drives.
// *refresh.Engine implements it.
type Engine interface {
	Subscribe(dataType string, callback refresh.Callback, opts refresh.SubscribeOptions) (string, error)
	Unsubscribe(id string) error
	ForceRefresh(ctx context.Context, dataType, userID string) ([]any, error)
	ApplyOptimistic(dataType string, data map[string]any, userID string, timeout time.Duration) (string, error)
	Confirm(id string, serverData map[string]any) (refresh.Reconciliation, error)
	ConfirmAt(id string, serverData map[string]any, serverTime time.Time) (refresh.Reconciliation, error)
	Rollback(id string) error
	Stats() refresh.Stats
	Metrics(dataType string) (refresh.PerformanceMetrics, bool)
	InvalidateNamespace(namespace string) int
}

// Compile-time interface verification
var _ Engine = (*refresh.Engine)(nil)

type Handler struct {
	engine  Engine
	streams *streamHub
	logger  *zap.Logger
}

func NewHandler(engine Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine:  engine,
		streams: newStreamHub(logger),
		logger:  logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

type refreshResponse struct {
	DataType string `json:"dataType"`
	Results  []any  `json:"results"`
}

type optimisticRequest struct {
	DataType  string         `json:"dataType"`
	Data      map[string]any `json:"data"`
	UserID    string         `json:"userId"`
	TimeoutMs int64          `json:"timeoutMs"`
}

type optimisticResponse struct {
	ID string `json:"id"`
}

type confirmRequest struct {
	Data       map[string]any `json:"data"`
	ServerTime *time.Time     `json:"serverTime"`
}

type invalidateResponse struct {
	Namespace   string `json:"namespace"`
	Invalidated int    `json:"invalidated"`
}

// Health reports liveness along with the current subscription count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"activeSubscriptions": stats.ActiveSubscriptions,
		"streams":             h.streams.count(),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) GetDataTypeStats(w http.ResponseWriter, r *http.Request) {
	dataType := chi.URLParam(r, "dataType")
	pm, ok := h.engine.Metrics(dataType)
	if !ok {
		h.writeError(w, r, errors.Wrapf(errors.ErrNotFound, "no metrics for %s", dataType))
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

func (h *Handler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	dataType := chi.URLParam(r, "dataType")
	userID := r.URL.Query().Get("userId")

	results, err := h.engine.ForceRefresh(r.Context(), dataType, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{DataType: dataType, Results: results})
}

func (h *Handler) ApplyOptimistic(w http.ResponseWriter, r *http.Request) {
	var req optimisticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Mark(errors.Wrap(err, "decoding request"), errors.ErrInvalidRequest))
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	id, err := h.engine.ApplyOptimistic(req.DataType, req.Data, req.UserID, timeout)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, optimisticResponse{ID: id})
}

func (h *Handler) ConfirmOptimistic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Mark(errors.Wrap(err, "decoding request"), errors.ErrInvalidRequest))
		return
	}

	var (
		rec refresh.Reconciliation
		err error
	)
	if req.ServerTime != nil {
		rec, err = h.engine.ConfirmAt(id, req.Data, *req.ServerTime)
	} else {
		rec, err = h.engine.Confirm(id, req.Data)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) RollbackOptimistic(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Rollback(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) InvalidateNamespace(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	n := h.engine.InvalidateNamespace(ns)
	writeJSON(w, http.StatusOK, invalidateResponse{Namespace: ns, Invalidated: n})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.IsAny(err, refresh.ErrNoActiveSubscription, refresh.ErrSubscriptionNotFound,
		refresh.ErrUpdateNotFound, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, errors.ErrInvalidRequest, refresh.ErrInvalidSubscription):
		return http.StatusBadRequest
	case errors.Is(err, refresh.ErrOptimisticDisabled):
		return http.StatusConflict
	case errors.IsAny(err, refresh.ErrEngineStopped, refresh.ErrEngineNotStarted):
		return http.StatusServiceUnavailable
	case errors.IsAny(err, context.DeadlineExceeded, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, refresh.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	resp := errorResponse{Error: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		resp.Hint = hints[0]
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
