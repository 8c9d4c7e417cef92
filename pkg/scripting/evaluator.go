// Package scripting turns Starlark scripts into layout sections.
//
// A script sees each declared parameter as a predeclared global and
// publishes its section value by assigning the global "result". Values
// implementing AttrProvider are exposed as structs, so a script can read
// request.path or client.id.
//
//	# nav_hint.star
//	result = "You are on " + client.path
package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
)

// ResultGlobal is the global a script assigns its section value to.
const ResultGlobal = "result"

// DefaultTimeout bounds a script run when the evaluator has none.
const DefaultTimeout = 2 * time.Second

// Script is a loaded section script.
type Script struct {
	Name     string
	Filename string
	Source   string
	Params   []layout.Param
}

// Load reads the script file of section. Relative paths are resolved
// against baseDir. A parameter written as "name?" is optional and binds
// None when absent.
func Load(section config.ScriptSection, baseDir string) (*Script, error) {
	path := section.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script section %s: %w", section.Name, err)
	}

	params := make([]layout.Param, 0, len(section.Params))
	for _, p := range section.Params {
		name, optional := strings.CutSuffix(strings.TrimSpace(p), "?")
		if name == "" || name == ResultGlobal {
			return nil, fmt.Errorf("script section %s: invalid parameter %q", section.Name, p)
		}
		if optional {
			params = append(params, layout.Optional(name, nil))
		} else {
			params = append(params, layout.Required(name))
		}
	}

	return &Script{
		Name:     section.Name,
		Filename: path,
		Source:   string(src),
		Params:   params,
	}, nil
}

// Evaluator executes scripts with a per-run deadline.
type Evaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(timeout time.Duration, logger zerolog.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{
		timeout: timeout,
		logger:  logger.With().Str("component", "scripting").Logger(),
	}
}

// Eval runs script with args predeclared and returns the value of its
// result global, or nil when the script leaves it unset or None.
func (e *Evaluator) Eval(ctx context.Context, script *Script, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for name, v := range args {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		predeclared[name] = sv
	}

	logger := e.logger.With().Str("script", script.Name).Logger()
	thread := &starlark.Thread{
		Name: script.Name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Msg(msg)
		},
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()

	globals, err := starlark.ExecFile(thread, script.Filename, script.Source, predeclared)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("script %s: %w", script.Name, ctxErr)
		}
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("script %s: %s", script.Name, evalErr.Backtrace())
		}
		return nil, fmt.Errorf("script %s: %w", script.Name, err)
	}

	result, ok := globals[ResultGlobal]
	if !ok {
		return nil, nil
	}
	v, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("script %s: result: %w", script.Name, err)
	}
	return v, nil
}

// Handler wraps script as a synchronous layout handler named after it.
func (e *Evaluator) Handler(script *Script) layout.Handler {
	return layout.Sync(func(ctx context.Context, args layout.Args) (any, error) {
		return e.Eval(ctx, script, args)
	}, script.Params...).Named(script.Name)
}

// Register loads every script section and registers it on l.
func Register(l *layout.Layout, e *Evaluator, sections []config.ScriptSection, baseDir string) error {
	for _, section := range sections {
		script, err := Load(section, baseDir)
		if err != nil {
			return err
		}

		opts := []layout.SectionOption{layout.WithName(section.Name)}
		if section.Phase != "" {
			opts = append(opts, layout.WithPhase(layout.Phase(section.Phase)))
		}
		if section.Position != nil {
			opts = append(opts, layout.WithPosition(*section.Position))
		}

		if _, err := l.Section(e.Handler(script), opts...); err != nil {
			return err
		}
	}
	return nil
}
