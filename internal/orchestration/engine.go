package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pipeline phase names. Every flow executes exactly these three, in order.
const (
	StepPreCheck     = "pre_check"
	StepCallServices = "call_services"
	StepAggregate    = "aggregate_results"
)

// Request is the opaque input to one orchestration invocation.
type Request map[string]any

// Flow supplies the three pipeline phases of a concrete orchestrator.
// Flows differ only in what they validate, which collaborators they call,
// what rollback actions they register, and how they shape the aggregate
// result; the engine owns all control flow.
type Flow interface {
	// Name identifies the flow in logs and results.
	Name() string

	// PreCheck validates input and collaborator availability. It must fail
	// fast before any side effect is performed, so pre-check failures need
	// no rollback.
	PreCheck(ctx context.Context, req Request, oc *Context) error

	// CallServices performs the actual work by calling injected
	// collaborators. Any side effect that needs undoing on later failure
	// must register a rollback action in the same step.
	CallServices(ctx context.Context, req Request, oc *Context) (map[string]any, error)

	// Aggregate builds the final response from the collected service
	// results. Required fields missing from serviceResults are a hard
	// failure, not a soft default.
	Aggregate(ctx context.Context, serviceResults map[string]any, oc *Context) (map[string]any, error)
}

// Result is the structured outcome of one orchestration invocation.
// Callers never receive a raised error from Execute; they receive this.
type Result struct {
	Success        bool           `json:"success"`
	Flow           string         `json:"flow"`
	RequestID      string         `json:"request_id"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	StepsCompleted []string       `json:"steps_completed"`
	StepsFailed    []string       `json:"steps_failed,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// RollbackHandler compensates one kind of recorded side effect.
type RollbackHandler func(ctx context.Context, action RollbackAction) error

// Engine executes flows through the fixed three-phase pipeline and runs
// compensating rollback on failure.
type Engine struct {
	handlers map[string]RollbackHandler
	log      zerolog.Logger
}

// NewEngine creates a new orchestration engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		handlers: make(map[string]RollbackHandler),
		log:      log.With().Str("component", "orchestration").Logger(),
	}
}

// RegisterRollbackHandler registers the compensation handler for an action
// type. Registering the same type twice replaces the handler.
func (e *Engine) RegisterRollbackHandler(actionType string, handler RollbackHandler) {
	e.handlers[actionType] = handler
}

// Execute runs the flow's three phases sequentially against a fresh pass of
// the given context. On failure at any phase it records the failed step,
// runs rollback, and returns a failed result. It never raises past this
// boundary.
func (e *Engine) Execute(ctx context.Context, flow Flow, req Request, oc *Context) *Result {
	log := e.log.With().
		Str("flow", flow.Name()).
		Str("request_id", oc.RequestID).
		Logger()

	log.Info().Msg("Orchestration started")

	// Phase 1: pre-check. No side effects yet, so no rollback on failure.
	if err := flow.PreCheck(ctx, req, oc); err != nil {
		oc.MarkStepFailed(StepPreCheck, err)
		log.Warn().Err(err).Msg("Pre-check failed")
		return e.failed(flow, oc, err)
	}
	oc.MarkStepCompleted(StepPreCheck)

	// Phase 2: call services.
	serviceResults, err := flow.CallServices(ctx, req, oc)
	if err != nil {
		oc.MarkStepFailed(StepCallServices, err)
		log.Error().Err(err).Msg("Service calls failed, rolling back")
		e.Rollback(ctx, oc)
		return e.failed(flow, oc, err)
	}
	oc.MarkStepCompleted(StepCallServices)

	// Phase 3: aggregate.
	result, err := flow.Aggregate(ctx, serviceResults, oc)
	if err != nil {
		oc.MarkStepFailed(StepAggregate, err)
		log.Error().Err(err).Msg("Aggregation failed, rolling back")
		e.Rollback(ctx, oc)
		return e.failed(flow, oc, err)
	}
	oc.MarkStepCompleted(StepAggregate)

	duration := time.Since(oc.StartedAt())
	log.Info().
		Dur("duration", duration).
		Int("steps", len(oc.CompletedSteps())).
		Msg("Orchestration completed")

	return &Result{
		Success:        true,
		Flow:           flow.Name(),
		RequestID:      oc.RequestID,
		Result:         result,
		StepsCompleted: oc.CompletedSteps(),
		Duration:       duration,
	}
}

// Rollback runs the recorded compensation actions in reverse insertion
// order. A handler failure is logged and skipped; remaining actions still
// run. Best-effort compensation, not all-or-nothing.
func (e *Engine) Rollback(ctx context.Context, oc *Context) {
	actions := oc.RollbackActions()
	if len(actions) == 0 {
		return
	}

	log := e.log.With().Str("request_id", oc.RequestID).Logger()
	log.Info().Int("actions", len(actions)).Msg("Running rollback")

	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]

		handler, ok := e.handlers[action.Type]
		if !ok {
			log.Warn().
				Str("action_type", action.Type).
				Msg("No rollback handler registered, skipping")
			continue
		}

		if err := handler(ctx, action); err != nil {
			log.Error().
				Err(err).
				Str("action_type", action.Type).
				Msg("Rollback action failed, continuing with remaining actions")
		}
	}
}

func (e *Engine) failed(flow Flow, oc *Context, err error) *Result {
	return &Result{
		Success:        false,
		Flow:           flow.Name(),
		RequestID:      oc.RequestID,
		Error:          err.Error(),
		StepsCompleted: oc.CompletedSteps(),
		StepsFailed:    oc.FailedSteps(),
		Duration:       time.Since(oc.StartedAt()),
	}
}

// SafeCall wraps a collaborator call inside CallServices. On failure it
// records the step failure into the context and converts the error into an
// OrchestrationError carrying the collaborator name and original message.
func SafeCall[T any](oc *Context, service string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err != nil {
		step := fmt.Sprintf("%s:%s", StepCallServices, service)
		oc.MarkStepFailed(step, err)

		var zero T
		return zero, &OrchestrationError{
			Step:    StepCallServices,
			Service: service,
			Message: err.Error(),
			Err:     err,
		}
	}

	oc.MarkStepCompleted(fmt.Sprintf("%s:%s", StepCallServices, service))
	return result, nil
}
