package orchestration

import (
	"errors"
	"fmt"
)

// OrchestrationError indicates that a named pipeline phase or collaborator
// call failed. It triggers rollback and is surfaced through the result's
// Error field; it is never thrown past Execute.
type OrchestrationError struct {
	Step    string // Pipeline phase that failed (pre_check, call_services, aggregate)
	Service string // Collaborator that failed, empty for phase-level failures
	Message string
	Err     error
}

func (e *OrchestrationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("orchestration step %s failed: service %s: %s", e.Step, e.Service, e.Message)
	}
	return fmt.Sprintf("orchestration step %s failed: %s", e.Step, e.Message)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// AsOrchestrationError extracts an OrchestrationError from an error chain.
func AsOrchestrationError(err error) (*OrchestrationError, bool) {
	var oe *OrchestrationError
	ok := errors.As(err, &oe)
	return oe, ok
}

// MissingResultError marks a required field absent from the collected service
// results during aggregation. A hard failure, never a soft default.
func MissingResultError(field string) *OrchestrationError {
	return &OrchestrationError{
		Step:    StepAggregate,
		Message: fmt.Sprintf("required service result %q is missing", field),
	}
}
