package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumtrading/fulcrum/internal/tasks"
)

// mockStore is an in-memory TaskStore that records every mutation.
type mockStore struct {
	mu      sync.Mutex
	pending []*tasks.Task

	claims    []int64
	completed map[int64]map[string]any
	failed    map[int64]string
	retries   []retryCall
	cancelled map[int64]bool

	claimErr error
}

type retryCall struct {
	id         int64
	retryCount int
	runAt      time.Time
}

func newMockStore(pending ...*tasks.Task) *mockStore {
	return &mockStore{
		pending:   pending,
		completed: make(map[int64]map[string]any),
		failed:    make(map[int64]string),
		cancelled: make(map[int64]bool),
	}
}

func (m *mockStore) GetPendingByPriority(limit int) ([]*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	if n > limit {
		n = limit
	}
	out := make([]*tasks.Task, n)
	copy(out, m.pending[:n])
	return out, nil
}

func (m *mockStore) MarkRunning(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	for i, t := range m.pending {
		if t.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.claims = append(m.claims, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) MarkCompleted(id int64, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = result
	return nil
}

func (m *mockStore) MarkFailed(id int64, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errorMsg
	return nil
}

func (m *mockStore) ScheduleRetry(id int64, retryCount int, runAt time.Time, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, retryCall{id: id, retryCount: retryCount, runAt: runAt})
	return nil
}

func (m *mockStore) IsCancelled(id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id], nil
}

func (m *mockStore) CountByStatus() (map[tasks.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[tasks.Status]int{tasks.StatusPending: len(m.pending)}, nil
}

func (m *mockStore) claimOrder() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.claims))
	copy(out, m.claims)
	return out
}

func (m *mockStore) completedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

func newTask(id int64, taskType tasks.TaskType, priority, retryCount, maxRetries int) *tasks.Task {
	return &tasks.Task{
		ID:         id,
		Name:       fmt.Sprintf("task-%d", id),
		Type:       taskType,
		Priority:   priority,
		Status:     tasks.StatusPending,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		Params:     map[string]any{},
		CreatedAt:  time.Now(),
	}
}

func TestBackoffSchedule(t *testing.T) {
	// Backoff takes the post-increment retry_count, so retry_count=1 is the
	// first retry.
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 480 * time.Second},
		{5, 1920 * time.Second},
		{6, 3600 * time.Second},
		{7, 3600 * time.Second},
		{100, 3600 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.retryCount), "retry_count=%d", tc.retryCount)
	}
}

func TestBackoffIsMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := Backoff(i)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, time.Hour)
		prev = d
	}
}

func TestExecuteTaskCompletes(t *testing.T) {
	task := newTask(1, tasks.TypeDataSync, 5, 0, 3)
	store := newMockStore()
	p := NewProcessor(store, zerolog.Nop(), Options{})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return map[string]any{"candles_synced": 7}, nil
	})

	p.ExecuteTask(context.Background(), task)

	require.Contains(t, store.completed, int64(1))
	assert.Equal(t, 7, store.completed[1]["candles_synced"])
	assert.Empty(t, store.failed)
	assert.Empty(t, store.retries)
}

func TestExecuteTaskSchedulesRetryWithBackoff(t *testing.T) {
	// A fresh task failing its first attempt lands on retry_count 1, so the
	// delay is 60 * 2^1 seconds, not the base delay.
	task := newTask(1, tasks.TypeDataSync, 5, 0, 3)
	store := newMockStore()
	p := NewProcessor(store, zerolog.Nop(), Options{})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return nil, fmt.Errorf("upstream timeout")
	})

	before := time.Now()
	p.ExecuteTask(context.Background(), task)

	require.Len(t, store.retries, 1)
	retry := store.retries[0]
	assert.Equal(t, int64(1), retry.id)
	assert.Equal(t, 1, retry.retryCount)
	assert.WithinDuration(t, before.Add(120*time.Second), retry.runAt, 2*time.Second)
	assert.Empty(t, store.failed)
}

func TestExecuteTaskSecondRetryDoublesBackoff(t *testing.T) {
	task := newTask(1, tasks.TypeDataSync, 5, 1, 3)
	store := newMockStore()
	p := NewProcessor(store, zerolog.Nop(), Options{})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return nil, fmt.Errorf("upstream timeout")
	})

	before := time.Now()
	p.ExecuteTask(context.Background(), task)

	require.Len(t, store.retries, 1)
	assert.Equal(t, 2, store.retries[0].retryCount)
	assert.WithinDuration(t, before.Add(240*time.Second), store.retries[0].runAt, 2*time.Second)
}

func TestExecuteTaskFailsTerminallyWhenBudgetSpent(t *testing.T) {
	// retry_count == max_retries means this attempt is the last allowed one.
	task := newTask(1, tasks.TypeDataSync, 5, 3, 3)
	store := newMockStore()
	p := NewProcessor(store, zerolog.Nop(), Options{})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return nil, fmt.Errorf("upstream timeout")
	})

	p.ExecuteTask(context.Background(), task)

	assert.Empty(t, store.retries, "a task out of budget must not be rescheduled")
	require.Contains(t, store.failed, int64(1))
	assert.Equal(t, "upstream timeout", store.failed[1])
}

func TestExecuteTaskWithoutHandlerFailsTask(t *testing.T) {
	task := newTask(1, tasks.TypeBacktest, 5, 0, 3)
	store := newMockStore()
	p := NewProcessor(store, zerolog.Nop(), Options{})

	p.ExecuteTask(context.Background(), task)

	require.Contains(t, store.failed, int64(1))
	assert.Contains(t, store.failed[1], "no handler registered")
	assert.Empty(t, store.retries)
}

func TestExecuteTaskSkipsCancelledTask(t *testing.T) {
	task := newTask(1, tasks.TypeDataSync, 5, 0, 3)
	store := newMockStore()
	store.cancelled[1] = true

	ran := false
	p := NewProcessor(store, zerolog.Nop(), Options{})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		ran = true
		return nil, nil
	})

	p.ExecuteTask(context.Background(), task)

	assert.False(t, ran, "cancelled task must not execute")
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

func TestProcessQueueClaimsInStoreOrder(t *testing.T) {
	// The store returns tasks already ordered by (priority, created_at, id);
	// the processor must claim them in exactly that order.
	store := newMockStore(
		newTask(3, tasks.TypeDataSync, 1, 0, 3),
		newTask(1, tasks.TypeDataSync, 5, 0, 3),
		newTask(2, tasks.TypeDataSync, 5, 0, 3),
	)
	p := NewProcessor(store, zerolog.Nop(), Options{MaxConcurrent: 4})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return map[string]any{}, nil
	})

	p.ProcessQueue(context.Background())

	assert.Equal(t, []int64{3, 1, 2}, store.claimOrder())
	assert.Eventually(t, func() bool { return store.completedCount() == 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestProcessQueueRespectsConcurrencyBudget(t *testing.T) {
	store := newMockStore(
		newTask(1, tasks.TypeDataSync, 5, 0, 3),
		newTask(2, tasks.TypeDataSync, 5, 0, 3),
		newTask(3, tasks.TypeDataSync, 5, 0, 3),
		newTask(4, tasks.TypeDataSync, 5, 0, 3),
	)

	release := make(chan struct{})
	p := NewProcessor(store, zerolog.Nop(), Options{MaxConcurrent: 2})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	})

	p.ProcessQueue(context.Background())
	assert.Len(t, store.claimOrder(), 2, "only the concurrency budget may be claimed per pass")

	close(release)
	assert.Eventually(t, func() bool { return store.completedCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	// Later passes pick up the remaining tasks once workers free up.
	assert.Eventually(t, func() bool {
		p.ProcessQueue(context.Background())
		return store.completedCount() == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerWakesProcessor(t *testing.T) {
	store := newMockStore(newTask(1, tasks.TypeDataSync, 5, 0, 3))
	p := NewProcessor(store, zerolog.Nop(), Options{PollInterval: time.Hour})
	p.RegisterHandler(tasks.TypeDataSync, func(ctx context.Context, task *tasks.Task) (map[string]any, error) {
		return map[string]any{}, nil
	})

	p.Start()
	defer p.Stop()

	p.Trigger()
	assert.Eventually(t, func() bool { return store.completedCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}
