package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/queue"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// TaskHandlers serves the task submission and inspection endpoints.
type TaskHandlers struct {
	repo      *tasks.Repository
	processor *queue.Processor
	log       zerolog.Logger
}

// NewTaskHandlers creates the task handlers.
func NewTaskHandlers(repo *tasks.Repository, processor *queue.Processor, log zerolog.Logger) *TaskHandlers {
	return &TaskHandlers{
		repo:      repo,
		processor: processor,
		log:       log.With().Str("handlers", "tasks").Logger(),
	}
}

type createTaskRequest struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Priority    *int           `json:"priority,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
}

type taskResponse struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func toTaskResponse(t *tasks.Task) *taskResponse {
	return &taskResponse{
		ID:           t.ID,
		Name:         t.Name,
		Type:         string(t.Type),
		Priority:     t.Priority,
		Status:       string(t.Status),
		ScheduledAt:  t.ScheduledAt,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		Params:       t.Params,
		Result:       t.Result,
		ErrorMessage: t.ErrorMessage,
		CreatedBy:    t.CreatedBy,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// HandleCreate creates a new task and wakes the queue processor.
func (h *TaskHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task := &tasks.Task{
		Name:        req.Name,
		Type:        tasks.TaskType(req.Type),
		Priority:    tasks.PriorityDefault,
		MaxRetries:  3,
		ScheduledAt: req.ScheduledAt,
		Params:      req.Params,
		CreatedBy:   req.CreatedBy,
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	if task.CreatedBy == "" {
		task.CreatedBy = "api"
	}

	if err := h.repo.Create(task); err != nil {
		if tasks.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to create task")
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	// Wake the processor so due tasks start without waiting for the tick.
	h.processor.Trigger()

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// HandleList returns recent tasks, newest first.
func (h *TaskHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	list, err := h.repo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list tasks")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	out := make([]*taskResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "count": len(out)})
}

// HandleGet returns one task by id.
func (h *TaskHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := h.repo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("task_id", id).Msg("Failed to load task")
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// HandleCancel cancels a pending or running task.
func (h *TaskHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	cancelled, err := h.repo.Cancel(id)
	if err != nil {
		h.log.Error().Err(err).Int64("task_id", id).Msg("Failed to cancel task")
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "task is already terminal or does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "id": id})
}

// HandleQueueStats returns task counts by status.
func (h *TaskHandlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.processor.Stats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read queue stats")
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	byStatus := make(map[string]int, len(counts))
	total := 0
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": byStatus, "total": total})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
