package queue

import (
	"context"
	"fmt"

	"github.com/fulcrumtrading/fulcrum/internal/orchestration"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// FlowHandler bridges a flow into the queue: the task's params become the
// orchestration request, and a failed orchestration becomes a handler error
// so the processor's retry machinery applies.
func FlowHandler(engine *orchestration.Engine, flow orchestration.Flow) Handler {
	return func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		oc := orchestration.NewContext(task.CreatedBy)

		result := engine.Execute(ctx, flow, orchestration.Request(task.Params), oc)
		if !result.Success {
			return nil, fmt.Errorf("flow %s failed at %v: %s", result.Flow, result.StepsFailed, result.Error)
		}

		out := make(map[string]any, len(result.Result)+1)
		for k, v := range result.Result {
			out[k] = v
		}
		out["request_id"] = result.RequestID
		return out, nil
	}
}
