package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// Retry backoff bounds. After retry_count is incremented, the task is
// rescheduled base * 2^retry_count later, capped at the maximum. The first
// retry therefore waits two minutes, not one.
const (
	retryBaseDelay = 60 * time.Second
	retryMaxDelay  = time.Hour
)

const (
	defaultPollInterval  = 10 * time.Second
	defaultMaxConcurrent = 4
)

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, task *tasks.Task) (map[string]any, error)

// Processor drains the task queue. A single loop goroutine polls for due
// tasks and dispatches them to worker goroutines, bounded by a semaphore.
type Processor struct {
	store         TaskStore
	log           zerolog.Logger
	pollInterval  time.Duration
	maxConcurrent int

	mu       sync.RWMutex
	handlers map[tasks.TaskType]Handler

	sem     chan struct{}
	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

// Options tunes the processor. Zero values fall back to defaults.
type Options struct {
	PollInterval  time.Duration
	MaxConcurrent int
}

// NewProcessor creates a new queue processor.
func NewProcessor(store TaskStore, log zerolog.Logger, opts Options) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	return &Processor{
		store:         store,
		log:           log.With().Str("component", "queue").Logger(),
		pollInterval:  opts.PollInterval,
		maxConcurrent: opts.MaxConcurrent,
		handlers:      make(map[tasks.TaskType]Handler),
		sem:           make(chan struct{}, opts.MaxConcurrent),
		trigger:       make(chan struct{}, 1),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// RegisterHandler registers the handler for a task type. Registering the
// same type twice replaces the handler.
func (p *Processor) RegisterHandler(taskType tasks.TaskType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = handler
}

// Start launches the poll loop. It returns immediately.
func (p *Processor) Start() {
	go p.run()
	p.log.Info().
		Dur("poll_interval", p.pollInterval).
		Int("max_concurrent", p.maxConcurrent).
		Msg("Queue processor started")
}

// Stop shuts the poll loop down and waits for in-flight tasks to finish.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.stopped
	p.wg.Wait()
	p.log.Info().Msg("Queue processor stopped")
}

// Trigger wakes the poll loop to check for work without waiting for the
// next tick. Non-blocking, safe from any goroutine.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Processor) run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.ProcessQueue(context.Background())
		case <-ticker.C:
			p.ProcessQueue(context.Background())
		}
	}
}

// ProcessQueue claims due pending tasks in priority order and dispatches as
// many as the concurrency budget allows. Tasks that do not fit stay pending
// for the next pass.
func (p *Processor) ProcessQueue(ctx context.Context) {
	due, err := p.store.GetPendingByPriority(p.maxConcurrent * 2)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to fetch pending tasks")
		return
	}

	for _, task := range due {
		select {
		case p.sem <- struct{}{}:
		default:
			// Concurrency budget exhausted, the rest waits.
			return
		}

		claimed, err := p.store.MarkRunning(task.ID)
		if err != nil {
			p.log.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to claim task")
			<-p.sem
			continue
		}
		if !claimed {
			// Another worker got it first, or it was cancelled.
			<-p.sem
			continue
		}

		p.wg.Add(1)
		go func(task *tasks.Task) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.ExecuteTask(ctx, task)
		}(task)
	}
}

// ExecuteTask runs one already-claimed task through its handler and records
// the outcome: completed, retried with backoff, or terminally failed.
func (p *Processor) ExecuteTask(ctx context.Context, task *tasks.Task) {
	log := p.log.With().
		Int64("task_id", task.ID).
		Str("task_type", string(task.Type)).
		Int("retry_count", task.RetryCount).
		Logger()

	// Cooperative cancellation checkpoint before any work happens.
	cancelled, err := p.store.IsCancelled(task.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check cancellation")
	}
	if cancelled {
		log.Info().Msg("Task cancelled before execution")
		return
	}

	handler := p.handlerFor(task.Type)
	if handler == nil {
		log.Error().Msg("No handler registered for task type")
		if err := p.store.MarkFailed(task.ID, fmt.Sprintf("no handler registered for task type %q", task.Type)); err != nil {
			log.Error().Err(err).Msg("Failed to mark task failed")
		}
		return
	}

	start := time.Now()
	result, err := handler(ctx, task)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Task attempt failed")
		p.RetryOrFail(task, err)
		return
	}

	if err := p.store.MarkCompleted(task.ID, result); err != nil {
		log.Error().Err(err).Msg("Failed to mark task completed")
		return
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Task completed")
}

// RetryOrFail reschedules a failed task with exponential backoff, or marks
// it terminally failed once its retry budget is spent.
func (p *Processor) RetryOrFail(task *tasks.Task, cause error) {
	if task.RetryCount >= task.MaxRetries {
		if err := p.store.MarkFailed(task.ID, cause.Error()); err != nil {
			p.log.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
		}
		p.log.Error().
			Int64("task_id", task.ID).
			Int("attempts", task.RetryCount+1).
			Msg("Task failed terminally, retry budget spent")
		return
	}

	nextRetry := task.RetryCount + 1
	delay := Backoff(nextRetry)
	runAt := time.Now().Add(delay)
	if err := p.store.ScheduleRetry(task.ID, nextRetry, runAt, cause.Error()); err != nil {
		p.log.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to schedule retry")
		return
	}

	p.log.Info().
		Int64("task_id", task.ID).
		Int("retry_count", nextRetry).
		Dur("backoff", delay).
		Time("run_at", runAt).
		Msg("Task scheduled for retry")
}

// Backoff returns the delay applied when a task reaches the given
// retry_count: base * 2^retryCount, capped at the maximum.
func Backoff(retryCount int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}

// Stats returns current task counts by status.
func (p *Processor) Stats() (map[tasks.Status]int, error) {
	return p.store.CountByStatus()
}

func (p *Processor) handlerFor(taskType tasks.TaskType) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[taskType]
}
