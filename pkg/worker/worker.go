package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
)

// Queue is the part of the task store the worker consumes.
type Queue interface {
	ClaimTask(ctx context.Context) (*stores.Task, error)
	CompleteTask(ctx context.Context, id, result string) error
	FailTask(ctx context.Context, id string, f stores.TaskFailure) (stores.TaskStatus, error)
}

// Enqueuer adds tasks to the queue.
type Enqueuer interface {
	EnqueueTask(ctx context.Context, task *stores.Task) error
}

// Observer wraps a single task attempt. telemetry.Telemetry implements it.
type Observer interface {
	ObserveTask(ctx context.Context, task, id string, attempt int, run func(context.Context) error) error
}

type nopObserver struct{}

func (nopObserver) ObserveTask(ctx context.Context, _, _ string, _ int, run func(context.Context) error) error {
	return run(ctx)
}

// Config controls polling and retry behaviour.
type Config struct {
	// Concurrency is the number of tasks executed in parallel.
	Concurrency int

	// PollInterval is how long an idle slot waits before polling again.
	PollInterval time.Duration

	// RetryDelay is the base delay before a failed task is retried.
	// The delay doubles on every attempt.
	RetryDelay time.Duration

	// MaxRetryDelay caps the retry delay.
	MaxRetryDelay time.Duration

	// TaskTimeout bounds a single attempt. Zero means no limit.
	TaskTimeout time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   2,
		PollInterval:  time.Second,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: 5 * time.Minute,
		TaskTimeout:   5 * time.Minute,
	}
}

// Worker claims tasks from a Queue and executes them.
type Worker struct {
	queue    Queue
	registry *Registry
	config   Config
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithObserver wraps every attempt with o.
func WithObserver(o Observer) Option {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a worker.
func New(queue Queue, registry *Registry, config Config, opts ...Option) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	w := &Worker{
		queue:    queue,
		registry: registry,
		config:   config,
		observer: nopObserver{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "worker").Logger()
	return w
}

// Run executes tasks until ctx is canceled. In-flight attempts are allowed
// to observe the cancellation and their outcome is still recorded.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.config.Concurrency).
		Strs("tasks", w.registry.Names()).
		Msg("Worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()

	w.logger.Info().Msg("Worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping.
		for ctx.Err() == nil {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Warn().Err(err).Int("slot", slot).Msg("Task bookkeeping failed")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes a single due task. It reports whether a task
// was found. Task failures are recorded in the queue and are not returned;
// the error is reserved for queue failures.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.ClaimTask(ctx)
	if errors.Is(err, stores.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("claim task: %w", err)
	}

	return true, w.process(ctx, task)
}

func (w *Worker) process(ctx context.Context, task *stores.Task) error {
	logger := w.logger.With().
		Str("task", task.Name).
		Str("task_id", task.ID).
		Int("attempt", task.Attempts).
		Logger()

	// The outcome is recorded even when ctx is canceled mid-attempt.
	record := context.WithoutCancel(ctx)

	def, ok := w.registry.Get(task.Name)
	if !ok {
		return w.fail(record, logger, task, fmt.Errorf("%w: %s", ErrUnknownTask, task.Name))
	}

	var result string
	err := w.observer.ObserveTask(ctx, task.Name, task.ID, task.Attempts, func(ctx context.Context) error {
		if w.config.TaskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.config.TaskTimeout)
			defer cancel()
		}

		var runErr error
		result, runErr = execute(ctx, def, task.Payload)
		return runErr
	})
	if err != nil {
		return w.fail(record, logger, task, err)
	}

	if err := w.queue.CompleteTask(record, task.ID, result); err != nil {
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	logger.Info().Msg("Task succeeded")
	return nil
}

func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, task *stores.Task, cause error) error {
	status, err := w.queue.FailTask(ctx, task.ID, stores.TaskFailure{
		Message:    cause.Error(),
		RetryAfter: w.backoff(task.Attempts),
		Permanent:  IsPermanent(cause),
	})
	if err != nil {
		return fmt.Errorf("fail task %s: %w", task.ID, err)
	}

	event := logger.Warn()
	if status == stores.TaskStatusFailed {
		event = logger.Error()
	}
	event.Err(cause).Str("status", string(status)).Msg("Task attempt failed")
	return nil
}

// backoff returns the delay before the next attempt: RetryDelay doubled per
// completed attempt, capped at MaxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.config.RetryDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := w.config.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if w.config.MaxRetryDelay > 0 && (delay > w.config.MaxRetryDelay || delay <= 0) {
		delay = w.config.MaxRetryDelay
	}
	return delay
}

// execute runs the handler, turning a panic into an error.
func execute(ctx context.Context, task Task, payload json.RawMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx, payload)
}

// Enqueue queues a registered task for immediate execution. payload is
// encoded as JSON; nil yields an empty object.
func Enqueue(ctx context.Context, q Enqueuer, registry *Registry, name string, payload any) (*stores.Task, error) {
	return EnqueueAt(ctx, q, registry, name, payload, time.Time{})
}

// EnqueueAt queues a registered task to run no earlier than runAt.
func EnqueueAt(ctx context.Context, q Enqueuer, registry *Registry, name string, payload any, runAt time.Time) (*stores.Task, error) {
	def, ok := registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", name, err)
	}

	task := &stores.Task{
		Name:       def.Name,
		Payload:    raw,
		MaxRetries: def.MaxRetries,
		RunAt:      runAt,
	}
	if err := q.EnqueueTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
