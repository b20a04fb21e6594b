// Package orchestration provides the saga-style pipeline every business
// workflow is built on: pre-check, call collaborating services, aggregate
// results, with per-step failure tracking and best-effort compensating
// rollback.
package orchestration

import (
	"time"

	"github.com/google/uuid"
)

// RollbackAction is a recorded, replayable compensation for a side effect
// already performed by a pipeline phase.
type RollbackAction struct {
	Type       string // Dispatch tag, e.g. "delete_created_record"
	Data       map[string]any
	RecordedAt time.Time
}

// Context carries per-invocation state for one orchestration run.
// It is owned exclusively by the engine executing it and is never shared
// across concurrent invocations, so it needs no locking. Phases exchange
// data only through the session and results maps.
type Context struct {
	RequestID string
	ActorID   string

	session map[string]any
	results map[string]any

	rollbackActions []RollbackAction
	completedSteps  []string
	failedSteps     []string
	stepErrors      map[string]string

	startedAt time.Time
}

// NewContext creates a fresh context for one orchestration invocation.
func NewContext(actorID string) *Context {
	return &Context{
		RequestID:  uuid.New().String(),
		ActorID:    actorID,
		session:    make(map[string]any),
		results:    make(map[string]any),
		stepErrors: make(map[string]string),
		startedAt:  time.Now(),
	}
}

// StartedAt returns when this invocation began.
func (c *Context) StartedAt() time.Time {
	return c.startedAt
}

// SetSession stores a session value.
func (c *Context) SetSession(key string, value any) {
	c.session[key] = value
}

// Session returns a session value.
func (c *Context) Session(key string) (any, bool) {
	v, ok := c.session[key]
	return v, ok
}

// SetResult stores an intermediate result.
func (c *Context) SetResult(key string, value any) {
	c.results[key] = value
}

// Result returns an intermediate result.
func (c *Context) Result(key string) (any, bool) {
	v, ok := c.results[key]
	return v, ok
}

// Results returns a copy of the intermediate results map.
func (c *Context) Results() map[string]any {
	out := make(map[string]any, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// AddRollbackAction records a compensation for a side effect just performed.
// Actions are append-only during the forward pass and consumed in reverse
// insertion order on failure.
func (c *Context) AddRollbackAction(actionType string, data map[string]any) {
	c.rollbackActions = append(c.rollbackActions, RollbackAction{
		Type:       actionType,
		Data:       data,
		RecordedAt: time.Now(),
	})
}

// RollbackActions returns a copy of the recorded rollback actions in
// insertion order.
func (c *Context) RollbackActions() []RollbackAction {
	out := make([]RollbackAction, len(c.rollbackActions))
	copy(out, c.rollbackActions)
	return out
}

// MarkStepCompleted appends a step to the completion ledger.
func (c *Context) MarkStepCompleted(step string) {
	c.completedSteps = append(c.completedSteps, step)
}

// MarkStepFailed appends a step to the failure ledger with its error.
func (c *Context) MarkStepFailed(step string, err error) {
	c.failedSteps = append(c.failedSteps, step)
	if err != nil {
		c.stepErrors[step] = err.Error()
	}
}

// CompletedSteps returns the completed-step names in completion order.
func (c *Context) CompletedSteps() []string {
	out := make([]string, len(c.completedSteps))
	copy(out, c.completedSteps)
	return out
}

// FailedSteps returns the failed-step names in failure order.
func (c *Context) FailedSteps() []string {
	out := make([]string, len(c.failedSteps))
	copy(out, c.failedSteps)
	return out
}

// StepError returns the recorded error message for a failed step.
func (c *Context) StepError(step string) (string, bool) {
	msg, ok := c.stepErrors[step]
	return msg, ok
}
