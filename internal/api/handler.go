// Package api serves the reminder service's admin endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/circuitbreaker"
	"github.com/lalithlochan/nimbus-remind/internal/pump"
)

// Consumer is the part of the pump the admin API reports on.
type Consumer interface {
	Running() bool
	Stats() []pump.QueueStats
}

// Breakers lists and resets circuit breakers.
type Breakers interface {
	Stats() []circuitbreaker.Stats
	Reset(name string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type QueuesResponse struct {
	Running bool              `json:"running"`
	Queues  []pump.QueueStats `json:"queues"`
}

type BreakersResponse struct {
	Breakers []circuitbreaker.Stats `json:"breakers"`
}

// Handler holds dependencies for admin handlers. breakers may be nil.
type Handler struct {
	logger   *zap.Logger
	consumer Consumer
	breakers Breakers
}

func NewHandler(logger *zap.Logger, consumer Consumer, breakers Breakers) *Handler {
	return &Handler{logger: logger, consumer: consumer, breakers: breakers}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Ready handles GET /ready. It is 503 until the consumers are running.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.consumer.Running() {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "Queue consumers not running", "")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// ListQueues handles GET /v1/queues
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, QueuesResponse{
		Running: h.consumer.Running(),
		Queues:  h.consumer.Stats(),
	})
}

// ListBreakers handles GET /v1/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	resp := BreakersResponse{Breakers: []circuitbreaker.Stats{}}
	if h.breakers != nil {
		resp.Breakers = h.breakers.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ResetBreaker handles POST /v1/breakers/{name}/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.breakers == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Circuit breaker not found", name)
		return
	}

	err := h.breakers.Reset(name)
	switch {
	case errors.Is(err, circuitbreaker.ErrUnknownBreaker):
		h.writeError(w, http.StatusNotFound, "not_found", "Circuit breaker not found", name)
		return
	case err != nil:
		h.logger.Error("failed to reset circuit breaker", zap.String("breaker", name), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "reset_error", "Failed to reset circuit breaker", "")
		return
	}

	h.logger.Info("circuit breaker reset via admin api", zap.String("breaker", name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
