package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/scheduler"
)

// JobHandlers serves the scheduled job control endpoints.
type JobHandlers struct {
	scheduler *scheduler.Scheduler
	log       zerolog.Logger
}

// NewJobHandlers creates the job handlers.
func NewJobHandlers(sched *scheduler.Scheduler, log zerolog.Logger) *JobHandlers {
	return &JobHandlers{
		scheduler: sched,
		log:       log.With().Str("handlers", "jobs").Logger(),
	}
}

// HandleList returns every registered job.
func (h *JobHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// HandleGet returns one job snapshot.
func (h *JobHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	info, err := h.scheduler.GetJobInfo(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleRunning returns jobs with executions in flight.
func (h *JobHandlers) HandleRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.scheduler.GetRunningJobs()})
}

// HandlePause suppresses future firings of a job.
func (h *JobHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.scheduler.PauseJob(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": true, "id": id})
}

// HandleResume re-enables firings of a paused job.
func (h *JobHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.scheduler.ResumeJob(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": false, "id": id})
}

// HandleTrigger fires a job immediately, outside its schedule.
func (h *JobHandlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.scheduler.TriggerJob(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggered": true, "id": id})
}

// HandleHistory returns recent executions of one job, newest first.
func (h *JobHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records := h.scheduler.GetExecutionHistory(id, historyLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "executions": records, "count": len(records)})
}

// HandleAllExecutions returns recent executions across every job.
func (h *JobHandlers) HandleAllExecutions(w http.ResponseWriter, r *http.Request) {
	records := h.scheduler.GetExecutionHistory("", historyLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"executions": records, "count": len(records)})
}

// HandleStatistics returns the 24h execution summary.
func (h *JobHandlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatistics())
}

func historyLimit(r *http.Request) int {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	return limit
}
