package tasks

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates malformed input at task creation.
// Tasks that fail validation are rejected immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task parameter %q: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// dateLayout is the wire format for date-valued parameters.
const dateLayout = "2006-01-02"

// ValidateParams checks task parameters against the task type's contract.
// Validation happens before a task is created; invalid parameters are
// rejected, never silently coerced.
func ValidateParams(taskType TaskType, params map[string]any) error {
	if !taskType.IsValid() {
		return &ValidationError{Field: "task_type", Message: fmt.Sprintf("unknown task type %q", taskType)}
	}

	switch taskType {
	case TypeDataSync:
		return validateDataSync(params)
	case TypeSentimentBatch:
		return validateSentimentBatch(params)
	case TypeBacktest:
		return validateBacktest(params)
	case TypePlanGeneration:
		return validatePlanGeneration(params)
	case TypePositionUpdate:
		return validatePositionUpdate(params)
	}
	return nil
}

func validateDataSync(params map[string]any) error {
	symbols, ok := PayloadStrings(params, "symbols")
	if !ok || len(symbols) == 0 {
		return &ValidationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	for _, s := range symbols {
		if s == "" {
			return &ValidationError{Field: "symbols", Message: "symbols must be non-empty"}
		}
	}
	return nil
}

func validateSentimentBatch(params map[string]any) error {
	symbols, ok := PayloadStrings(params, "symbols")
	if !ok || len(symbols) == 0 {
		return &ValidationError{Field: "symbols", Message: "at least one symbol is required"}
	}
	if days, ok := PayloadFloat(params, "lookback_days"); ok && days <= 0 {
		return &ValidationError{Field: "lookback_days", Message: "must be positive"}
	}
	return nil
}

func validateBacktest(params map[string]any) error {
	strategy, ok := PayloadString(params, "strategy")
	if !ok || strategy == "" {
		return &ValidationError{Field: "strategy", Message: "strategy name is required"}
	}

	startStr, ok := PayloadString(params, "start_date")
	if !ok {
		return &ValidationError{Field: "start_date", Message: "start date is required"}
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return &ValidationError{Field: "start_date", Message: "must be formatted YYYY-MM-DD"}
	}

	endStr, ok := PayloadString(params, "end_date")
	if !ok {
		return &ValidationError{Field: "end_date", Message: "end date is required"}
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return &ValidationError{Field: "end_date", Message: "must be formatted YYYY-MM-DD"}
	}

	if !start.Before(end) {
		return &ValidationError{Field: "end_date", Message: "end date must be after start date"}
	}

	if capital, ok := PayloadFloat(params, "initial_capital"); ok && capital <= 0 {
		return &ValidationError{Field: "initial_capital", Message: "must be positive"}
	}
	return nil
}

func validatePlanGeneration(params map[string]any) error {
	portfolioID, ok := PayloadString(params, "portfolio_id")
	if !ok || portfolioID == "" {
		return &ValidationError{Field: "portfolio_id", Message: "portfolio id is required"}
	}
	return nil
}

func validatePositionUpdate(params map[string]any) error {
	symbol, ok := PayloadString(params, "symbol")
	if !ok || symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}

	qty, ok := PayloadFloat(params, "quantity")
	if !ok {
		return &ValidationError{Field: "quantity", Message: "quantity is required"}
	}
	if qty == 0 {
		return &ValidationError{Field: "quantity", Message: "quantity must be non-zero"}
	}

	side, ok := PayloadString(params, "side")
	if !ok {
		return &ValidationError{Field: "side", Message: "side is required"}
	}
	if side != "buy" && side != "sell" {
		return &ValidationError{Field: "side", Message: `side must be "buy" or "sell"`}
	}
	return nil
}
