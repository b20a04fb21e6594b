package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumtrading/fulcrum/internal/queue"
	"github.com/fulcrumtrading/fulcrum/internal/scheduler"
	"github.com/fulcrumtrading/fulcrum/internal/tasks"
	testhelpers "github.com/fulcrumtrading/fulcrum/internal/testing"
)

func newTestServer(t *testing.T) (*Server, *tasks.Repository, *scheduler.Scheduler) {
	t.Helper()

	db, cleanup := testhelpers.NewTestDB(t, "tasks")
	t.Cleanup(cleanup)

	repo := tasks.NewRepository(db.Conn(), zerolog.Nop())
	processor := queue.NewProcessor(repo, zerolog.Nop(), queue.Options{PollInterval: time.Hour})
	sched := scheduler.New(zerolog.Nop())
	sched.Start()
	t.Cleanup(sched.Stop)

	srv := New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		TaskRepo:  repo,
		Processor: processor,
		Scheduler: sched,
	})
	return srv, repo, sched
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateTaskEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/tasks", map[string]any{
		"name":   "nightly sync",
		"type":   "data_sync",
		"params": map[string]any{"symbols": []string{"AAPL"}},
	})

	require.Equal(t, http.StatusCreated, rec.Code, "body: %v", body)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(5), body["priority"], "default priority applies")
	assert.NotZero(t, body["id"])
}

func TestCreateTaskRejectsInvalidParams(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodPost, "/api/tasks", map[string]any{
		"name":   "bad",
		"type":   "data_sync",
		"params": map[string]any{"symbols": []string{}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "symbols")
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, _ := doJSON(t, srv.Router(), http.MethodPost, "/api/tasks", map[string]any{
		"name": "bad",
		"type": "mystery",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskEndpoint(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	task := &tasks.Task{
		Name:       "sync",
		Type:       tasks.TypeDataSync,
		Priority:   tasks.PriorityDefault,
		MaxRetries: 3,
		Params:     map[string]any{"symbols": []string{"AAPL"}},
		CreatedBy:  "test",
	}
	require.NoError(t, repo.Create(task))

	rec, body := doJSON(t, srv.Router(), http.MethodGet, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sync", body["name"])

	rec, _ = doJSON(t, srv.Router(), http.MethodGet, "/api/tasks/999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, srv.Router(), http.MethodGet, "/api/tasks/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTaskEndpoint(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	task := &tasks.Task{
		Name:       "sync",
		Type:       tasks.TypeDataSync,
		Priority:   tasks.PriorityDefault,
		MaxRetries: 3,
		Params:     map[string]any{"symbols": []string{"AAPL"}},
		CreatedBy:  "test",
	}
	require.NoError(t, repo.Create(task))

	rec, _ := doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/tasks/%d/cancel", task.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancellation is sticky; a second cancel conflicts.
	rec, _ = doJSON(t, srv.Router(), http.MethodPost, fmt.Sprintf("/api/tasks/%d/cancel", task.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		task := &tasks.Task{
			Name:       fmt.Sprintf("sync-%d", i),
			Type:       tasks.TypeDataSync,
			Priority:   tasks.PriorityDefault,
			MaxRetries: 3,
			Params:     map[string]any{"symbols": []string{"AAPL"}},
			CreatedBy:  "test",
		}
		require.NoError(t, repo.Create(task))
	}

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])

	byStatus := body["by_status"].(map[string]any)
	assert.Equal(t, float64(3), byStatus["pending"])
}

type stubServerJob struct{ name string }

func (j *stubServerJob) Name() string                 { return j.name }
func (j *stubServerJob) Run(ctx context.Context) error { return nil }

func TestJobEndpoints(t *testing.T) {
	srv, _, sched := newTestServer(t)

	require.NoError(t, sched.RegisterJob(scheduler.JobConfig{
		ID:      "sync",
		Job:     &stubServerJob{name: "sync"},
		Trigger: scheduler.Trigger{Type: scheduler.TriggerInterval, Interval: time.Hour},
	}))

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = doJSON(t, srv.Router(), http.MethodPost, "/api/jobs/sync/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, srv.Router(), http.MethodGet, "/api/jobs/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["paused"])

	rec, _ = doJSON(t, srv.Router(), http.MethodPost, "/api/jobs/sync/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, srv.Router(), http.MethodPost, "/api/jobs/sync/trigger", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		_, body := doJSON(t, srv.Router(), http.MethodGet, "/api/jobs/sync/history", nil)
		return body["count"].(float64) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ = doJSON(t, srv.Router(), http.MethodGet, "/api/jobs/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, srv.Router(), http.MethodPost, "/api/jobs/missing/trigger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLivenessEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
