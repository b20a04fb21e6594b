package queue

import (
	"context"
	"fmt"

	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// TaskCreator persists new tasks. Satisfied by the task repository.
type TaskCreator interface {
	Create(task *tasks.Task) error
}

// SubmitterJob is a scheduled job that enqueues a fresh task each firing
// and wakes the processor. Recurring pipelines (nightly syncs, batch
// scoring) are built from these rather than running work inside the
// scheduler itself.
type SubmitterJob struct {
	name      string
	creator   TaskCreator
	processor *Processor
	template  func() *tasks.Task
}

// NewSubmitterJob creates a submitter job. template is invoked per firing
// so each submission gets fresh parameters and timestamps.
func NewSubmitterJob(name string, creator TaskCreator, processor *Processor, template func() *tasks.Task) *SubmitterJob {
	return &SubmitterJob{
		name:      name,
		creator:   creator,
		processor: processor,
		template:  template,
	}
}

func (j *SubmitterJob) Name() string { return j.name }

func (j *SubmitterJob) Run(ctx context.Context) error {
	task := j.template()
	if err := j.creator.Create(task); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", task.Type, err)
	}
	j.processor.Trigger()
	return nil
}
