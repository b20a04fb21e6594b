package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one job firing.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	// ExecutionSkipped records a firing that was suppressed, with the reason.
	// Suppressed firings are always recorded, never silently dropped.
	ExecutionSkipped ExecutionStatus = "skipped"
)

// ExecutionRecord is one entry in the execution history.
type ExecutionRecord struct {
	ID         string            `json:"id"`
	JobID      string            `json:"job_id"`
	Status     ExecutionStatus   `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Retries    int               `json:"retries,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// History capacity: once the record count reaches historyCapacity the oldest
// records are pruned down to historyRetained, so pruning is amortized instead
// of happening on every append.
const (
	historyCapacity = 1000
	historyRetained = 500
)

// history is the bounded in-memory execution log, newest last. Stored
// records are mutated in place when an execution finishes, so every read
// path hands out copies, never the live records.
type history struct {
	mu      sync.RWMutex
	records []*ExecutionRecord
}

func newHistory() *history {
	return &history{records: make([]*ExecutionRecord, 0, historyCapacity)}
}

// append adds a record and prunes the oldest half when capacity is reached.
func (h *history) append(rec *ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) >= historyCapacity {
		keep := h.records[len(h.records)-historyRetained:]
		h.records = append(make([]*ExecutionRecord, 0, historyCapacity), keep...)
	}
}

// start records a new running execution and returns it. The returned record
// is owned by the firing goroutine until it is passed to finish.
func (h *history) start(jobID string, metadata map[string]string) *ExecutionRecord {
	rec := &ExecutionRecord{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    ExecutionRunning,
		Metadata:  metadata,
		StartedAt: time.Now().UTC(),
	}
	h.append(rec)
	return rec
}

// finish closes a running execution with its outcome and returns a copy of
// the final record.
func (h *history) finish(rec *ExecutionRecord, err error, retries int) ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Duration = now.Sub(rec.StartedAt)
	rec.Retries = retries
	if err != nil {
		rec.Status = ExecutionFailed
		rec.Error = err.Error()
	} else {
		rec.Status = ExecutionCompleted
	}
	return *rec
}

// skip records a suppressed firing.
func (h *history) skip(jobID, reason string) *ExecutionRecord {
	now := time.Now().UTC()
	rec := &ExecutionRecord{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Status:     ExecutionSkipped,
		Reason:     reason,
		StartedAt:  now,
		FinishedAt: &now,
	}
	h.append(rec)
	return rec
}

// forJob returns up to limit most recent records for a job, newest first.
// An empty jobID matches every job. Records are cloned under the lock so
// callers never observe an in-flight execution being finished.
func (h *history) forJob(jobID string, limit int) []*ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*ExecutionRecord, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		if jobID == "" || h.records[i].JobID == jobID {
			c := *h.records[i]
			out = append(out, &c)
		}
	}
	return out
}

// size returns the current record count.
func (h *history) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Statistics summarizes the job registry and execution outcomes over a
// rolling window.
type Statistics struct {
	TotalJobs    int `json:"total_jobs"`
	EnabledJobs  int `json:"enabled_jobs"`
	DisabledJobs int `json:"disabled_jobs"`
	RunningJobs  int `json:"running_jobs"`

	Window      time.Duration  `json:"window"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Running     int            `json:"running"`
	SuccessRate float64        `json:"success_rate"`
	AvgDuration time.Duration  `json:"avg_duration"`
	ByJob       map[string]int `json:"by_job"`
}

// stats aggregates records whose start falls within the window.
func (h *history) stats(window time.Duration) *Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	out := &Statistics{Window: window, ByJob: make(map[string]int)}

	var totalDuration time.Duration
	finished := 0
	for _, rec := range h.records {
		if rec.StartedAt.Before(cutoff) {
			continue
		}
		out.Total++
		out.ByJob[rec.JobID]++
		switch rec.Status {
		case ExecutionCompleted:
			out.Completed++
			totalDuration += rec.Duration
			finished++
		case ExecutionFailed:
			out.Failed++
			totalDuration += rec.Duration
			finished++
		case ExecutionSkipped:
			out.Skipped++
		case ExecutionRunning:
			out.Running++
		}
	}

	if finished > 0 {
		out.SuccessRate = float64(out.Completed) / float64(finished)
		out.AvgDuration = totalDuration / time.Duration(finished)
	}
	return out
}
