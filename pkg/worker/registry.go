package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one attempt of a task. The returned string is stored as
// the task result.
type Handler func(ctx context.Context, payload json.RawMessage) (string, error)

// Task describes a named unit of background work.
type Task struct {
	// Name identifies the task in the queue.
	Name string

	// MaxRetries is how many times a failed attempt is re-queued.
	MaxRetries int

	// Run is the task body.
	Run Handler
}

// Registry maps task names to their definitions.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Names must be unique.
func (r *Registry) Register(task Task) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Run == nil {
		return fmt.Errorf("task %s: handler is required", task.Name)
	}
	if task.MaxRetries < 0 {
		return fmt.Errorf("task %s: max retries must not be negative", task.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return fmt.Errorf("task %s already registered", task.Name)
	}
	r.tasks[task.Name] = task
	return nil
}

// Get looks up a task by name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	return task, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
