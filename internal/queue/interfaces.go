// Package queue drains the durable task table: it claims due tasks in
// priority order, runs their handlers with bounded concurrency, and applies
// capped exponential backoff on failure.
package queue

import (
	"time"

	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// TaskStore is the slice of the task repository the processor needs.
// Declared here so processor tests can substitute a mock.
type TaskStore interface {
	GetPendingByPriority(limit int) ([]*tasks.Task, error)
	MarkRunning(id int64) (bool, error)
	MarkCompleted(id int64, result map[string]any) error
	MarkFailed(id int64, errorMsg string) error
	ScheduleRetry(id int64, retryCount int, runAt time.Time, errorMsg string) error
	IsCancelled(id int64) (bool, error)
	CountByStatus() (map[tasks.Status]int, error)
}
