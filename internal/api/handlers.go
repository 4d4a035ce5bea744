// Package api provides the administrative HTTP entrypoints consumed by the
// external presentation layer: schedule requests in, instance status out.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"alert-scheduler/internal/admission"
	"alert-scheduler/internal/alert"
	"alert-scheduler/internal/scheduler"
	"alert-scheduler/internal/store"
)

// defaultListLimit bounds unpaginated list responses.
const defaultListLimit = 100

// Scheduler is the schedule-request surface the handlers call.
type Scheduler interface {
	Apply(ctx context.Context, req *alert.ScheduleRequest) (*alert.Instance, error)
	Get(ctx context.Context, id string) (*alert.Instance, error)
	List(ctx context.Context, limit int64) ([]*alert.Instance, error)
}

// Handlers wraps dependencies for the admin API.
type Handlers struct {
	scheduler Scheduler
}

// NewHandlers creates the admin API handlers.
func NewHandlers(s Scheduler) *Handlers {
	return &Handlers{scheduler: s}
}

// scheduleResponse is the envelope for schedule-request results.
type scheduleResponse struct {
	Status   string          `json:"status"`
	Instance *alert.Instance `json:"instance,omitempty"`
}

// ApplySchedule handles POST /api/v1/schedules with a ScheduleRequest body.
func (h *Handlers) ApplySchedule(w http.ResponseWriter, r *http.Request) {
	var req alert.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	in, err := h.scheduler.Apply(r.Context(), &req)
	switch {
	case err == nil:
		status := http.StatusOK
		if req.Operation == alert.OpCreate {
			status = http.StatusCreated
		}
		writeJSON(w, status, &scheduleResponse{Status: "accepted", Instance: in})
	case errors.Is(err, scheduler.ErrDuplicateRequest):
		// Idempotent no-op under at-least-once redelivery.
		writeJSON(w, http.StatusOK, &scheduleResponse{Status: "duplicate"})
	case errors.Is(err, scheduler.ErrMalformedRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, admission.ErrCapacityExceeded):
		http.Error(w, "capacity exceeded, retry later", http.StatusTooManyRequests)
	case scheduler.IsNotFound(err):
		http.Error(w, "instance not found", http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("Schedule request failed",
			"operation", req.Operation,
			"instance_id", req.Instance.ID,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// GetInstance handles GET /api/v1/instances?instance_id=...
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("instance_id")
	in, err := h.scheduler.Get(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, in)
	case scheduler.IsNotFound(err):
		http.Error(w, "instance not found", http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("Failed to get instance", "instance_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ListInstances handles GET /api/v1/instances with an optional limit.
func (h *Handlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	instances, err := h.scheduler.List(r.Context(), limit)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		slog.Error("Failed to list instances", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": instances,
		"count":     len(instances),
	})
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
