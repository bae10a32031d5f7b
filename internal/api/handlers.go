package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/cadence/internal/store"
	enginesync "github.com/hyperengineering/cadence/internal/sync"
	"github.com/hyperengineering/cadence/internal/types"
	"github.com/hyperengineering/cadence/internal/validation"
)

const maxNameLength = 200

// SyncController is the engine surface the control API exposes.
type SyncController interface {
	TriggerSync()
	State() enginesync.State
	QueueDepth(ctx context.Context) (int, error)
}

// Handler implements the localhost control API consumed by app shells.
type Handler struct {
	store   store.Store
	engine  SyncController
	apiKey  string
	version string
}

// NewHandler creates a new Handler.
func NewHandler(s store.Store, engine SyncController, apiKey, version string) *Handler {
	return &Handler{
		store:   s,
		engine:  engine,
		apiKey:  apiKey,
		version: version,
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	SyncState  string `json:"sync_state"`
	QueueDepth int    `json:"queue_depth"`
	DeviceID   string `json:"device_id"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	depth, err := h.engine.QueueDepth(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		SyncState:  string(h.engine.State()),
		QueueDepth: depth,
		DeviceID:   h.store.DeviceID(),
	})
}

// CreateHabitRequest is the POST /habits body.
type CreateHabitRequest struct {
	Name    string `json:"name"`
	Cadence string `json:"cadence,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// CreateHabit handles POST /api/v1/habits.
func (h *Handler) CreateHabit(w http.ResponseWriter, r *http.Request) {
	var req CreateHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateRequired("name", req.Name))
	c.Add(validation.ValidateUTF8("name", req.Name))
	c.Add(validation.ValidateNoNullBytes("name", req.Name))
	c.Add(validation.ValidateMaxLength("name", req.Name, maxNameLength))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	habit, err := h.store.CreateHabit(r.Context(), req.Name, req.Cadence, req.Notes)
	if err != nil {
		// A mutation that cannot be queued must not be reported as saved.
		slog.Error("create habit failed", "error", err)
		MapStoreError(w, r, err)
		return
	}

	h.engine.TriggerSync()
	writeJSON(w, http.StatusCreated, habit)
}

// ListHabits handles GET /api/v1/habits.
func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"

	habits, err := h.store.ListHabits(r.Context(), includeArchived)
	if err != nil {
		slog.Error("list habits failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	if habits == nil {
		habits = []types.Habit{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"habits": habits})
}

// pathID extracts and validates the {id} route parameter. On failure it
// writes the validation problem and returns false.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateULID("id", id); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return "", false
	}
	return id, true
}

// GetHabit handles GET /api/v1/habits/{id}.
func (h *Handler) GetHabit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	habit, err := h.store.GetHabit(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, habit)
}

// UpdateHabit handles PATCH /api/v1/habits/{id}.
func (h *Handler) UpdateHabit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var patch types.HabitPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if patch.Name != nil {
		var c validation.Collector
		c.Add(validation.ValidateRequired("name", *patch.Name))
		c.Add(validation.ValidateMaxLength("name", *patch.Name, maxNameLength))
		if c.HasErrors() {
			WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
			return
		}
	}

	habit, err := h.store.UpdateHabit(r.Context(), id, patch)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	h.engine.TriggerSync()
	writeJSON(w, http.StatusOK, habit)
}

// DeleteHabit handles DELETE /api/v1/habits/{id}.
func (h *Handler) DeleteHabit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteHabit(r.Context(), id); err != nil {
		MapStoreError(w, r, err)
		return
	}

	h.engine.TriggerSync()
	w.WriteHeader(http.StatusNoContent)
}

// CompleteHabitRequest is the POST /habits/{id}/completions body.
type CompleteHabitRequest struct {
	Day string `json:"day,omitempty"`
}

// CompleteHabit handles POST /api/v1/habits/{id}/completions.
// An omitted day defaults to today in the device's local time.
func (h *Handler) CompleteHabit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CompleteHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Day == "" {
		req.Day = time.Now().Format(types.DayFormat)
	}
	if err := validation.ValidateDay("day", req.Day); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	completion, err := h.store.CompleteHabit(r.Context(), id, req.Day)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	h.engine.TriggerSync()
	writeJSON(w, http.StatusCreated, completion)
}

// ListCompletions handles GET /api/v1/habits/{id}/completions.
func (h *Handler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	completions, err := h.store.ListCompletions(r.Context(), id, limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if completions == nil {
		completions = []types.Completion{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"completions": completions})
}

// RetryHabit handles POST /api/v1/habits/{id}/retry: re-enqueues a habit
// whose last sync attempt permanently failed.
func (h *Handler) RetryHabit(w http.ResponseWriter, r *http.Request) {
	h.retry(w, r, types.ResourceHabit)
}

// RetryCompletion handles POST /api/v1/completions/{id}/retry.
func (h *Handler) RetryCompletion(w http.ResponseWriter, r *http.Request) {
	h.retry(w, r, types.ResourceCompletion)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request, resource types.ResourceType) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.ReEnqueue(r.Context(), resource, id); err != nil {
		MapStoreError(w, r, err)
		return
	}

	h.engine.TriggerSync()
	w.WriteHeader(http.StatusAccepted)
}

// SyncStatusResponse is the GET /sync/status body.
type SyncStatusResponse struct {
	State      string `json:"state"`
	QueueDepth int    `json:"queue_depth"`
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := h.engine.QueueDepth(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, SyncStatusResponse{
		State:      string(h.engine.State()),
		QueueDepth: depth,
	})
}

// TriggerSync handles POST /api/v1/sync/trigger. Idempotent; a no-op when a
// drain is already running.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.engine.TriggerSync()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
