// Package scheduler manages recurring and one-shot background jobs with
// cron, interval, and date triggers. Every firing is wrapped: outcomes are
// recorded in a bounded execution history and concurrent firings of one job
// are capped.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// TriggerType selects how a job fires.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerDate     TriggerType = "date"
)

// Trigger describes when a job fires. Exactly one of the type-specific
// fields is consulted.
type Trigger struct {
	Type     TriggerType
	Cron     string        // cron expression, seconds field optional
	Interval time.Duration // fixed delay between firings
	At       time.Time     // single firing instant
}

// Describe renders the trigger for listings and logs.
func (t Trigger) Describe() string {
	switch t.Type {
	case TriggerCron:
		return fmt.Sprintf("cron[%s]", t.Cron)
	case TriggerInterval:
		return fmt.Sprintf("every %s", t.Interval)
	case TriggerDate:
		return fmt.Sprintf("once at %s", t.At.Format(time.RFC3339))
	}
	return "unknown"
}

const (
	// defaultMaxInstances caps concurrent firings of one job. Firings
	// beyond the cap are recorded as skipped.
	defaultMaxInstances = 3
	// defaultRetryDelay separates attempts when a job allows retries but
	// its config does not set a delay.
	defaultRetryDelay = 30 * time.Second
)

// JobConfig registers one job with the scheduler.
type JobConfig struct {
	ID           string
	Job          Job
	Trigger      Trigger
	MaxInstances int           // 0 means defaultMaxInstances
	MaxRetries   int           // extra attempts within one firing after a failure
	RetryDelay   time.Duration // wait between attempts, 0 means defaultRetryDelay
	Timeout      time.Duration // per-attempt deadline, 0 means none
	Disabled     bool          // register paused; ResumeJob enables firing
	Metadata     map[string]string
}

// JobInfo is a read-only snapshot of one registered job.
type JobInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Trigger       string            `json:"trigger"`
	Paused        bool              `json:"paused"`
	Running       int               `json:"running"`
	Successes     int               `json:"successes"`
	Failures      int               `json:"failures"`
	NextRun       *time.Time        `json:"next_run,omitempty"`
	LastExecution *ExecutionRecord  `json:"last_execution,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type jobState struct {
	config    JobConfig
	entryID   cron.EntryID // cron and interval triggers
	timer     *time.Timer  // date triggers
	paused    bool
	running   int
	successes int
	failures  int
	lastExec  *ExecutionRecord
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron    *cron.Cron
	history *history
	log     zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState

	wg sync.WaitGroup
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		history: newHistory(),
		log:     log.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]*jobState),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops firing new executions and waits for running ones to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	for _, state := range s.jobs {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// RegisterJob registers a job under its config ID. The ID must be unused.
func (s *Scheduler) RegisterJob(cfg JobConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if cfg.Job == nil {
		return fmt.Errorf("job %s has no implementation", cfg.ID)
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = defaultMaxInstances
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("job %s max retries must not be negative", cfg.ID)
	}
	if cfg.MaxRetries > 0 && cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.ID]; exists {
		return fmt.Errorf("job %s is already registered", cfg.ID)
	}

	state := &jobState{config: cfg, paused: cfg.Disabled}

	switch cfg.Trigger.Type {
	case TriggerCron:
		entryID, err := s.cron.AddFunc(cfg.Trigger.Cron, func() { s.fire(cfg.ID) })
		if err != nil {
			return fmt.Errorf("invalid cron expression for job %s: %w", cfg.ID, err)
		}
		state.entryID = entryID

	case TriggerInterval:
		if cfg.Trigger.Interval <= 0 {
			return fmt.Errorf("job %s interval must be positive", cfg.ID)
		}
		entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cfg.Trigger.Interval), func() { s.fire(cfg.ID) })
		if err != nil {
			return fmt.Errorf("invalid interval for job %s: %w", cfg.ID, err)
		}
		state.entryID = entryID

	case TriggerDate:
		delay := time.Until(cfg.Trigger.At)
		if delay < 0 {
			return fmt.Errorf("job %s fire time is in the past", cfg.ID)
		}
		state.timer = time.AfterFunc(delay, func() { s.fire(cfg.ID) })

	default:
		return fmt.Errorf("job %s has unknown trigger type %q", cfg.ID, cfg.Trigger.Type)
	}

	s.jobs[cfg.ID] = state
	s.log.Info().
		Str("job", cfg.ID).
		Str("trigger", cfg.Trigger.Describe()).
		Int("max_instances", cfg.MaxInstances).
		Bool("disabled", cfg.Disabled).
		Msg("Job registered")
	return nil
}

// RemoveJob unregisters a job. Running executions finish normally.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s is not registered", id)
	}
	if state.entryID != 0 {
		s.cron.Remove(state.entryID)
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	delete(s.jobs, id)
	s.log.Info().Str("job", id).Msg("Job removed")
	return nil
}

// PauseJob suppresses future firings. The trigger keeps ticking; fired
// executions are recorded as skipped while paused.
func (s *Scheduler) PauseJob(id string) error {
	return s.setPaused(id, true)
}

// ResumeJob re-enables firings of a paused job.
func (s *Scheduler) ResumeJob(id string) error {
	return s.setPaused(id, false)
}

func (s *Scheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s is not registered", id)
	}
	state.paused = paused
	s.log.Info().Str("job", id).Bool("paused", paused).Msg("Job pause state changed")
	return nil
}

// TriggerJob fires a job immediately, outside its schedule. The instance
// cap still applies.
func (s *Scheduler) TriggerJob(id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not registered", id)
	}

	s.log.Info().Str("job", id).Msg("Job triggered manually")
	s.fire(id)
	return nil
}

// fire runs one execution of a job through the wrapping harness.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	state, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if state.paused {
		s.mu.Unlock()
		s.history.skip(id, "job is paused")
		return
	}
	if state.running >= state.config.MaxInstances {
		running := state.running
		s.mu.Unlock()
		s.history.skip(id, fmt.Sprintf("max instances reached (%d running)", running))
		s.log.Warn().Str("job", id).Int("running", running).Msg("Firing skipped, instance cap reached")
		return
	}
	state.running++
	cfg := state.config
	s.mu.Unlock()

	rec := s.history.start(id, cfg.Metadata)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if st, ok := s.jobs[id]; ok {
				st.running--
			}
			s.mu.Unlock()
		}()

		log := s.log.With().Str("job", id).Str("execution_id", rec.ID).Logger()
		log.Debug().Msg("Running job")

		var err error
		retries := 0
		for {
			err = runAttempt(cfg.Job, cfg.Timeout)
			if err == nil || retries >= cfg.MaxRetries {
				break
			}
			retries++
			log.Warn().Err(err).Int("attempt", retries).Msg("Job attempt failed, retrying")
			time.Sleep(cfg.RetryDelay)
		}

		final := s.history.finish(rec, err, retries)

		s.mu.Lock()
		if st, ok := s.jobs[id]; ok {
			if err != nil {
				st.failures++
			} else {
				st.successes++
			}
			st.lastExec = &final
		}
		s.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Dur("duration", final.Duration).Msg("Job failed")
		} else {
			log.Debug().Dur("duration", final.Duration).Msg("Job completed")
		}
	}()
}

// runAttempt invokes the job once, under a deadline when one is configured.
func runAttempt(job Job, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return job.Run(ctx)
}

// GetJobInfo returns a snapshot of one job.
func (s *Scheduler) GetJobInfo(id string) (*JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s is not registered", id)
	}
	return s.snapshot(id, state), nil
}

// ListJobs returns snapshots of every registered job.
func (s *Scheduler) ListJobs() []*JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*JobInfo, 0, len(s.jobs))
	for id, state := range s.jobs {
		out = append(out, s.snapshot(id, state))
	}
	return out
}

// GetRunningJobs returns the ids of jobs with at least one execution in
// flight, with their in-flight counts.
func (s *Scheduler) GetRunningJobs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int)
	for id, state := range s.jobs {
		if state.running > 0 {
			out[id] = state.running
		}
	}
	return out
}

// GetExecutionHistory returns up to limit most recent execution records,
// newest first. An empty jobID matches every job.
func (s *Scheduler) GetExecutionHistory(jobID string, limit int) []*ExecutionRecord {
	if limit <= 0 {
		limit = 50
	}
	return s.history.forJob(jobID, limit)
}

// GetStatistics summarizes the job registry and the last 24 hours of
// executions.
func (s *Scheduler) GetStatistics() *Statistics {
	stats := s.history.stats(24 * time.Hour)

	s.mu.Lock()
	for _, state := range s.jobs {
		stats.TotalJobs++
		if state.paused {
			stats.DisabledJobs++
		} else {
			stats.EnabledJobs++
		}
		if state.running > 0 {
			stats.RunningJobs++
		}
	}
	s.mu.Unlock()
	return stats
}

func (s *Scheduler) snapshot(id string, state *jobState) *JobInfo {
	info := &JobInfo{
		ID:        id,
		Name:      state.config.Job.Name(),
		Trigger:   state.config.Trigger.Describe(),
		Paused:    state.paused,
		Running:   state.running,
		Successes: state.successes,
		Failures:  state.failures,
		Metadata:  state.config.Metadata,
	}
	if state.lastExec != nil {
		c := *state.lastExec
		info.LastExecution = &c
	}
	if state.entryID != 0 {
		next := s.cron.Entry(state.entryID).Next
		if !next.IsZero() {
			info.NextRun = &next
		}
	}
	return info
}
