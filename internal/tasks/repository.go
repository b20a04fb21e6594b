package tasks

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository provides persistence for task records.
// All status mutations go through read-modify-write statements guarded by
// the current status, so concurrent processors cannot double-claim a task.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new task repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "task_repository").Logger(),
	}
}

const taskColumns = `id, name, task_type, priority, status, scheduled_at,
	retry_count, max_retries, started_at, completed_at,
	params, result, error_message, created_by, created_at, updated_at`

// Create validates and persists a new task in pending state.
// The assigned id is written back onto the task.
func (r *Repository) Create(task *Task) error {
	if task.Name == "" {
		return &ValidationError{Field: "name", Message: "task name is required"}
	}
	if task.Priority < PriorityHighest || task.Priority > PriorityLowest {
		return &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("priority must be between %d and %d", PriorityHighest, PriorityLowest),
		}
	}
	if task.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Message: "max retries must not be negative"}
	}
	if err := ValidateParams(task.Type, task.Params); err != nil {
		return err
	}

	params, err := EncodePayload(task.Params)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Status = StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.CreatedBy == "" {
		task.CreatedBy = "system"
	}

	res, err := r.db.Exec(`
		INSERT INTO tasks (name, task_type, priority, status, scheduled_at,
			retry_count, max_retries, params, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		task.Name, string(task.Type), task.Priority, string(StatusPending),
		unixPtr(task.ScheduledAt), task.MaxRetries, params,
		task.CreatedBy, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted task id: %w", err)
	}
	task.ID = id

	r.log.Debug().
		Int64("task_id", id).
		Str("task_type", string(task.Type)).
		Int("priority", task.Priority).
		Msg("Task created")

	return nil
}

// GetByID returns a task by id, or nil when it does not exist.
func (r *Repository) GetByID(id int64) (*Task, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return task, nil
}

// GetPendingByPriority returns due pending tasks ordered by
// (priority ascending, created_at ascending), capped at limit.
// Equal-priority tasks preserve strict FIFO order; the id tie-break keeps
// ordering deterministic for tasks created within the same second.
func (r *Repository) GetPendingByPriority(limit int) ([]*Task, error) {
	now := time.Now().UTC().Unix()

	rows, err := r.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?`,
		string(StatusPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetRunningByType returns tasks of the given type that are currently running.
func (r *Repository) GetRunningByType(taskType TaskType) ([]*Task, error) {
	rows, err := r.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND task_type = ?
		ORDER BY started_at ASC`,
		string(StatusRunning), string(taskType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query running tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// List returns the most recently created tasks, newest first.
func (r *Repository) List(limit int) ([]*Task, error) {
	rows, err := r.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkRunning transitions a task pending -> running.
// Returns false when the task was not pending (already claimed, cancelled,
// or missing); the status guard in the WHERE clause makes the claim atomic.
func (r *Repository) MarkRunning(id int64) (bool, error) {
	now := time.Now().UTC()

	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusRunning), now.Unix(), now.Unix(), id, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark task %d running: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted transitions a task running -> completed and stores its result.
func (r *Repository) MarkCompleted(id int64, result map[string]any) error {
	blob, err := EncodePayload(result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, result = ?, completed_at = ?, updated_at = ?, error_message = NULL
		WHERE id = ? AND status = ?`,
		string(StatusCompleted), blob, now.Unix(), now.Unix(), id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %d completed: %w", id, err)
	}
	return requireAffected(res, id, StatusCompleted)
}

// MarkFailed transitions a task running -> failed. Terminal.
func (r *Repository) MarkFailed(id int64, errorMsg string) error {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusFailed), errorMsg, now.Unix(), now.Unix(), id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %d failed: %w", id, err)
	}
	return requireAffected(res, id, StatusFailed)
}

// ScheduleRetry transitions a failed attempt back to pending with a backoff
// schedule. The row passes through retrying inside the transaction so readers
// never observe a half-updated retry, but it can never stick there.
func (r *Repository) ScheduleRetry(id int64, retryCount int, runAt time.Time, errorMsg string) error {
	now := time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin retry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE tasks
		SET status = ?, retry_count = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ? AND retry_count < max_retries`,
		string(StatusRetrying), retryCount, errorMsg, now.Unix(), id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %d retrying: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("task %d is not eligible for retry", id)
	}

	_, err = tx.Exec(`
		UPDATE tasks
		SET status = ?, scheduled_at = ?, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusPending), runAt.UTC().Unix(), now.Unix(), id, string(StatusRetrying),
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule task %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retry for task %d: %w", id, err)
	}
	return nil
}

// Cancel transitions a pending or running task to cancelled.
// Returns false when the task was already terminal or missing.
// Cancellation of a running task is cooperative: the handler observes it at
// its next checkpoint, the record is terminal immediately.
func (r *Repository) Cancel(id int64) (bool, error) {
	now := time.Now().UTC()

	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusCancelled), now.Unix(), now.Unix(),
		id, string(StatusPending), string(StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// IsCancelled reports whether a task has been cancelled.
// Used by handlers as a cooperative cancellation checkpoint.
func (r *Repository) IsCancelled(id int64) (bool, error) {
	var status string
	err := r.db.QueryRow(`SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read task %d status: %w", id, err)
	}
	return Status(status) == StatusCancelled, nil
}

// CountByStatus returns task counts grouped by status.
func (r *Repository) CountByStatus() (map[Status]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// GetTerminalBefore returns terminal tasks completed before the cutoff.
// Used by the archive service to export history before cleanup.
func (r *Repository) GetTerminalBefore(cutoff time.Time) ([]*Task, error) {
	rows, err := r.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at ASC`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled),
		cutoff.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// DeleteTerminalBefore removes terminal tasks completed before the cutoff.
// Retention is an operational concern; the queue processor never deletes.
func (r *Repository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM tasks
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled),
		cutoff.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", err)
	}
	return res.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		task        Task
		taskType    string
		status      string
		scheduledAt sql.NullInt64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		params      []byte
		result      []byte
		errorMsg    sql.NullString
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(
		&task.ID, &task.Name, &taskType, &task.Priority, &status, &scheduledAt,
		&task.RetryCount, &task.MaxRetries, &startedAt, &completedAt,
		&params, &result, &errorMsg, &task.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Type = TaskType(taskType)
	task.Status = Status(status)
	task.ScheduledAt = timePtr(scheduledAt)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	task.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if errorMsg.Valid {
		task.ErrorMessage = &errorMsg.String
	}

	if task.Params, err = DecodePayload(params); err != nil {
		return nil, err
	}
	if task.Result, err = DecodePayload(result); err != nil {
		return nil, err
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, id int64, status Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("task %d could not transition to %s (not running)", id, status)
	}
	return nil
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
