package layout

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Reserved pool names.
const (
	// RequestParam is the pool name of the per-call request context.
	RequestParam = "request"

	// ClientParam is the pool name of the per-connection client context.
	ClientParam = "client"

	// BodyKey is the pool key the page handler's result is stored under.
	BodyKey = "body"
)

// Param declares one named input of a section or page handler.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter that must be present in the pool.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter that falls back to def when absent.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Args holds the arguments bound for one stage invocation.
type Args map[string]any

// Has reports whether name was bound.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Arg returns args[name] as T. It fails when the argument is missing or
// holds a different type. A bound nil yields the zero T.
func Arg[T any](args Args, name string) (T, error) {
	var zero T
	v, ok := args[name]
	if !ok {
		return zero, fmt.Errorf("argument %q not bound", name)
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q is %T, want %T", name, v, zero)
	}
	return t, nil
}

// SyncFunc computes a stage value immediately.
type SyncFunc func(ctx context.Context, args Args) (any, error)

// AsyncFunc starts a stage and delivers its value on the returned channel.
// The channel must yield exactly one Result.
type AsyncFunc func(ctx context.Context, args Args) <-chan Result

// Result is the outcome of an asynchronous stage.
type Result struct {
	Value any
	Err   error
}

// Handler is the tagged Sync | Async variant used for sections and pages.
// Its declared parameters are fixed when it is built.
type Handler struct {
	name   string
	params []Param
	sync   SyncFunc
	async  AsyncFunc
}

// Sync builds a handler that runs fn inline.
func Sync(fn SyncFunc, params ...Param) Handler {
	return Handler{
		name:   funcName(fn),
		params: params,
		sync:   fn,
	}
}

// Async builds a handler whose result arrives later on a channel.
func Async(fn AsyncFunc, params ...Param) Handler {
	return Handler{
		name:   funcName(fn),
		params: params,
		async:  fn,
	}
}

// Named returns a copy of h with an explicit name.
func (h Handler) Named(name string) Handler {
	h.name = name
	return h
}

// Name is the handler's own name, used when a section is registered
// without an explicit one.
func (h Handler) Name() string {
	return h.name
}

// Params returns the declared parameters.
func (h Handler) Params() []Param {
	out := make([]Param, len(h.params))
	copy(out, h.params)
	return out
}

// IsAsync reports whether h was built with Async.
func (h Handler) IsAsync() bool {
	return h.async != nil
}

// valid reports whether h wraps a function.
func (h Handler) valid() bool {
	return h.sync != nil || h.async != nil
}

// call invokes the handler and waits for an async result. Cancellation of
// ctx abandons the wait.
func (h Handler) call(ctx context.Context, args Args) (any, error) {
	if h.sync != nil {
		return h.sync(ctx, args)
	}

	ch := h.async(ctx, args)
	if ch == nil {
		return nil, fmt.Errorf("async handler %q returned a nil channel", h.name)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("async handler %q closed its channel without a result", h.name)
		}
		return res.Value, res.Err
	}
}

// funcName returns the unqualified Go name of fn ("header" for
// "github.com/x/ui.header"). Closures come out as "func1" and so on.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
