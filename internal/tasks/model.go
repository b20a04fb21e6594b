// Package tasks provides the durable task record and its repository.
// A Task is a persisted, retryable, priority-ordered unit of work processed
// by the queue processor outside the request path.
package tasks

import "time"

// TaskType identifies which handler processes a task. Closed enum.
type TaskType string

const (
	TypeDataSync       TaskType = "data_sync"
	TypeSentimentBatch TaskType = "sentiment_batch"
	TypeBacktest       TaskType = "backtest"
	TypePlanGeneration TaskType = "plan_generation"
	TypePositionUpdate TaskType = "position_update"
)

// KnownTypes lists every valid task type.
var KnownTypes = []TaskType{
	TypeDataSync,
	TypeSentimentBatch,
	TypeBacktest,
	TypePlanGeneration,
	TypePositionUpdate,
}

// IsValid returns true if the task type is a member of the closed enum.
func (t TaskType) IsValid() bool {
	for _, known := range KnownTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusRetrying exists only during the window between a failed attempt
	// and its rescheduled pending transition.
	StatusRetrying Status = "retrying"
)

// IsTerminal returns true for states a task never leaves.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusCancelled || next == StatusRetrying
	case StatusRetrying:
		return next == StatusPending || next == StatusFailed
	default:
		return false
	}
}

// Priority bounds: lower value = higher priority.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// Task is the durable unit of schedulable work.
type Task struct {
	ID       int64
	Name     string
	Type     TaskType
	Priority int // 1-10, lower value = higher priority

	Status      Status
	ScheduledAt *time.Time // Execution must not start before this instant

	RetryCount  int
	MaxRetries  int
	StartedAt   *time.Time
	CompletedAt *time.Time

	Params       map[string]any
	Result       map[string]any
	ErrorMessage *string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExecutionTime returns completed_at - started_at, or zero when either is unset.
func (t *Task) ExecutionTime() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Ready reports whether the task is eligible to start at the given instant.
func (t *Task) Ready(now time.Time) bool {
	if t.Status != StatusPending {
		return false
	}
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}
