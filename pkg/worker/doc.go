// Package worker runs background tasks stored in the task queue.
//
// Tasks are registered by name in a Registry and enqueued with a JSON
// payload. A Worker polls the queue with a fixed number of slots, executes
// each claimed task and records the outcome. Failed attempts are re-queued
// with exponential backoff until the task's retries are used up; errors
// wrapped with Permanent, and tasks whose name is not registered, fail
// immediately.
//
// Example:
//
//	registry := worker.NewRegistry()
//	registry.Register(worker.Task{Name: "test", MaxRetries: 3, Run: run})
//
//	w := worker.New(store, registry, worker.DefaultConfig(),
//		worker.WithObserver(tel), worker.WithLogger(logger))
//	go w.Run(ctx)
//
//	worker.Enqueue(ctx, store, registry, "test", map[string]string{"str_attr": "x"})
package worker
