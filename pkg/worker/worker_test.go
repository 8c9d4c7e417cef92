package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
)

// memQueue is an in-memory Queue with the same retry rules as the sqlite store.
type memQueue struct {
	mu       sync.Mutex
	tasks    []*stores.Task
	claimErr error
}

func (q *memQueue) EnqueueTask(_ context.Context, task *stores.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = stores.TaskStatusPending
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *memQueue) ClaimTask(_ context.Context) (*stores.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.claimErr != nil {
		return nil, q.claimErr
	}
	for _, task := range q.tasks {
		if task.Status == stores.TaskStatusPending && !task.RunAt.After(time.Now()) {
			task.Status = stores.TaskStatusRunning
			task.Attempts++
			claimed := *task
			return &claimed, nil
		}
	}
	return nil, stores.ErrNotFound
}

func (q *memQueue) CompleteTask(_ context.Context, id, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.find(id)
	if task == nil {
		return stores.ErrNotFound
	}
	task.Status = stores.TaskStatusSucceeded
	task.Result = &result
	return nil
}

func (q *memQueue) FailTask(_ context.Context, id string, f stores.TaskFailure) (stores.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.find(id)
	if task == nil {
		return "", stores.ErrNotFound
	}
	msg := f.Message
	task.Error = &msg
	task.Status = stores.TaskStatusFailed
	if !f.Permanent && task.Attempts <= task.MaxRetries {
		task.Status = stores.TaskStatusPending
		task.RunAt = time.Now().Add(f.RetryAfter)
	}
	return task.Status, nil
}

func (q *memQueue) find(id string) *stores.Task {
	for _, task := range q.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

func (q *memQueue) get(t *testing.T, id string) stores.Task {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.find(id)
	require.NotNil(t, task, "task %s", id)
	return *task
}

func noRetryDelay() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	return cfg
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()
	run := func(context.Context, json.RawMessage) (string, error) { return "", nil }

	require.NoError(t, registry.Register(Task{Name: "b", Run: run}))
	require.NoError(t, registry.Register(Task{Name: "a", MaxRetries: 3, Run: run}))

	assert.Error(t, registry.Register(Task{Name: "a", Run: run}), "duplicate name")
	assert.Error(t, registry.Register(Task{Run: run}), "missing name")
	assert.Error(t, registry.Register(Task{Name: "c"}), "missing handler")
	assert.Error(t, registry.Register(Task{Name: "d", MaxRetries: -1, Run: run}), "negative retries")

	assert.Equal(t, []string{"a", "b"}, registry.Names())

	task, ok := registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, task.MaxRetries)

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w := New(&memQueue{}, NewRegistry(), DefaultConfig())

	processed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRunOnceClaimError(t *testing.T) {
	w := New(&memQueue{claimErr: errors.New("database is locked")}, NewRegistry(), DefaultConfig())

	processed, err := w.RunOnce(context.Background())
	assert.False(t, processed)
	assert.ErrorContains(t, err, "database is locked")
}

func TestRunOnceSuccess(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name: "echo",
		Run: func(_ context.Context, payload json.RawMessage) (string, error) {
			var p struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return "", Permanent(err)
			}
			return "value=" + p.Value, nil
		},
	}))

	task, err := Enqueue(ctx, queue, registry, "echo", map[string]string{"value": "hello"})
	require.NoError(t, err)

	w := New(queue, registry, DefaultConfig())
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got := queue.get(t, task.ID)
	assert.Equal(t, stores.TaskStatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "value=hello", *got.Result)
}

func TestRunOnceRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()

	calls := 0
	require.NoError(t, registry.Register(Task{
		Name:       "flaky",
		MaxRetries: 2,
		Run: func(context.Context, json.RawMessage) (string, error) {
			calls++
			return "", errors.New("device unreachable")
		},
	}))

	task, err := Enqueue(ctx, queue, registry, "flaky", nil)
	require.NoError(t, err)

	w := New(queue, registry, noRetryDelay())
	for i := 0; i < 3; i++ {
		processed, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", i+1)
	}

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "no attempts should remain")

	got := queue.get(t, task.ID)
	assert.Equal(t, 3, calls)
	assert.Equal(t, stores.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "device unreachable")
}

func TestRunOncePermanentFailure(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name:       "broken",
		MaxRetries: 5,
		Run: func(context.Context, json.RawMessage) (string, error) {
			return "", Permanent(errors.New("bad payload"))
		},
	}))

	task, err := Enqueue(ctx, queue, registry, "broken", nil)
	require.NoError(t, err)

	w := New(queue, registry, noRetryDelay())
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got := queue.get(t, task.ID)
	assert.Equal(t, stores.TaskStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestRunOnceUnknownTask(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	require.NoError(t, queue.EnqueueTask(ctx, &stores.Task{ID: "t1", Name: "gone", MaxRetries: 3}))

	w := New(queue, NewRegistry(), noRetryDelay())
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got := queue.get(t, "t1")
	assert.Equal(t, stores.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "unknown task")
}

func TestRunOnceRecoversPanic(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name: "panics",
		Run: func(context.Context, json.RawMessage) (string, error) {
			panic("boom")
		},
	}))

	task, err := Enqueue(ctx, queue, registry, "panics", nil)
	require.NoError(t, err)

	w := New(queue, registry, noRetryDelay())
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got := queue.get(t, task.ID)
	assert.Equal(t, stores.TaskStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "panicked: boom")
}

func TestRunOnceTaskTimeout(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name: "slow",
		Run: func(ctx context.Context, _ json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	task, err := Enqueue(ctx, queue, registry, "slow", nil)
	require.NoError(t, err)

	cfg := noRetryDelay()
	cfg.TaskTimeout = 20 * time.Millisecond
	w := New(queue, registry, cfg)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	got := queue.get(t, task.ID)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, context.DeadlineExceeded.Error())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveTask(ctx context.Context, task, _ string, attempt int, run func(context.Context) error) error {
	o.mu.Lock()
	o.calls = append(o.calls, task)
	o.mu.Unlock()
	return run(ctx)
}

func TestObserverWrapsAttempts(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name: "noop",
		Run:  func(context.Context, json.RawMessage) (string, error) { return "ok", nil },
	}))

	_, err := Enqueue(ctx, queue, registry, "noop", nil)
	require.NoError(t, err)

	observer := &recordingObserver{}
	w := New(queue, registry, DefaultConfig(), WithObserver(observer))
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"noop"}, observer.calls)
}

func TestRunDrainsQueueUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name: "noop",
		Run:  func(context.Context, json.RawMessage) (string, error) { return "ok", nil },
	}))

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := Enqueue(ctx, queue, registry, "noop", nil)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	cfg.PollInterval = 10 * time.Millisecond
	w := New(queue, registry, cfg)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if queue.get(t, id).Status != stores.TaskStatusSucceeded {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Second
	cfg.MaxRetryDelay = 5 * time.Second
	w := New(&memQueue{}, NewRegistry(), cfg)

	assert.Equal(t, time.Second, w.backoff(0))
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 5*time.Second, w.backoff(4))
	assert.Equal(t, 5*time.Second, w.backoff(80))
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	queue := &memQueue{}
	registry := NewRegistry()
	require.NoError(t, registry.Register(Task{
		Name:       "test",
		MaxRetries: 3,
		Run:        func(context.Context, json.RawMessage) (string, error) { return "", nil },
	}))

	_, err := Enqueue(ctx, queue, registry, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = Enqueue(ctx, queue, registry, "test", json.RawMessage(`{broken`))
	assert.Error(t, err)

	task, err := Enqueue(ctx, queue, registry, "test", json.RawMessage(`{"str_attr":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 3, task.MaxRetries)
	assert.JSONEq(t, `{"str_attr":"x"}`, string(task.Payload))

	task, err = Enqueue(ctx, queue, registry, "test", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(task.Payload))
}

func TestErrorClassification(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.Nil(t, Transient(nil))

	base := errors.New("boom")
	perm := Permanent(base)
	assert.True(t, IsPermanent(perm))
	assert.ErrorIs(t, perm, base)
	assert.True(t, IsPermanent(errors.Join(errors.New("outer"), perm)))

	assert.False(t, IsPermanent(Transient(base)))
	assert.False(t, IsPermanent(base))
	assert.True(t, IsPermanent(ErrUnknownTask))
}

func TestWorkerWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: filepath.Join(t.TempDir(), "worker.db")})
	require.NoError(t, err)
	defer store.Close()

	registry := NewRegistry()
	attempts := 0
	require.NoError(t, registry.Register(Task{
		Name:       "eventually",
		MaxRetries: 3,
		Run: func(context.Context, json.RawMessage) (string, error) {
			attempts++
			if attempts < 2 {
				return "", errors.New("not yet")
			}
			return "done", nil
		},
	}))

	task, err := Enqueue(ctx, store, registry, "eventually", nil)
	require.NoError(t, err)

	w := New(store, registry, noRetryDelay())
	for i := 0; i < 2; i++ {
		processed, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, stores.TaskStatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", *got.Result)
}
