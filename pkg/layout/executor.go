package layout

import (
	"context"
	"errors"
	"reflect"
)

// StageKind distinguishes sections from the page handler.
type StageKind string

const (
	// StageSection is a registered before or after section.
	StageSection StageKind = "section"
	// StageHandler is the page's own handler.
	StageHandler StageKind = "handler"
)

// StageInfo describes the stage being executed.
type StageInfo struct {
	Page     string
	Name     string
	Kind     StageKind
	Phase    Phase
	Position int
	Async    bool
}

// Observer wraps every stage of a render. Implementations must call run
// exactly once and return its error.
type Observer interface {
	ObserveStage(ctx context.Context, stage StageInfo, run func(context.Context) error) error
}

type nopObserver struct{}

func (nopObserver) ObserveStage(ctx context.Context, _ StageInfo, run func(context.Context) error) error {
	return run(ctx)
}

// Executor runs one page's pipeline: before sections, the handler, then
// after sections, strictly one after the other.
type Executor struct {
	page     string
	registry *Registry
	handler  Handler
	observer Observer
}

// NewExecutor creates an executor for handler h over a closed registry.
// The registry is finalized if it is still open.
func NewExecutor(page string, registry *Registry, h Handler, observer Observer) *Executor {
	registry.Finalize()
	if observer == nil {
		observer = nopObserver{}
	}
	return &Executor{
		page:     page,
		registry: registry,
		handler:  h,
		observer: observer,
	}
}

// Execute renders once with a fresh pool seeded from input and returns the
// page handler's result.
func (e *Executor) Execute(ctx context.Context, input map[string]any) (any, error) {
	return e.Run(ctx, NewPool(input))
}

// Run renders once using pool. Results of after sections stay in the pool
// and are not part of the returned value.
func (e *Executor) Run(ctx context.Context, pool *Pool) (any, error) {
	for _, s := range e.registry.frozen(PhaseBefore) {
		if _, err := e.runSection(ctx, pool, s); err != nil {
			return nil, err
		}
	}

	info := StageInfo{
		Page:  e.page,
		Name:  BodyKey,
		Kind:  StageHandler,
		Async: e.handler.IsAsync(),
	}
	result, err := e.runStage(ctx, pool, info, BodyKey, e.handler)
	if err != nil {
		return nil, err
	}

	for _, s := range e.registry.frozen(PhaseAfter) {
		if _, err := e.runSection(ctx, pool, s); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Executor) runSection(ctx context.Context, pool *Pool, s Section) (any, error) {
	info := StageInfo{
		Page:     e.page,
		Name:     s.Name,
		Kind:     StageSection,
		Phase:    s.Phase,
		Position: s.Position,
		Async:    s.Handler.IsAsync(),
	}
	return e.runStage(ctx, pool, info, s.Name, s.Handler)
}

// runStage binds arguments, calls h and stores a non-nil result under key.
func (e *Executor) runStage(ctx context.Context, pool *Pool, info StageInfo, key string, h Handler) (any, error) {
	var result any
	err := e.observer.ObserveStage(ctx, info, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		args, err := pool.bind(info.Name, h.params)
		if err != nil {
			return err
		}

		v, err := h.call(ctx, args)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			return newStageFailed(info.Name, err)
		}
		if isNil(v) {
			return nil
		}
		if err := pool.Insert(info.Name, key, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// isNil reports whether v is nil or a nil pointer, map, slice, func,
// chan or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
