package policy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// AccessPolicy decides whether a client may render a page.
type AccessPolicy struct {
	mu    sync.RWMutex
	query rego.PreparedEvalQuery
	name  string

	logger zerolog.Logger
}

// NewAccessPolicy compiles the default module, which allows everything.
func NewAccessPolicy(ctx context.Context, logger zerolog.Logger) (*AccessPolicy, error) {
	p := &AccessPolicy{
		logger: logger.With().Str("component", "access-policy").Logger(),
	}
	if err := p.Compile(ctx, "default.rego", DefaultAccessModule); err != nil {
		return nil, fmt.Errorf("failed to compile default access policy: %w", err)
	}
	return p, nil
}

// LoadAccessPolicy compiles the module in path. An empty path yields the
// default policy.
func LoadAccessPolicy(ctx context.Context, path string, logger zerolog.Logger) (*AccessPolicy, error) {
	p, err := NewAccessPolicy(ctx, logger)
	if err != nil || path == "" {
		return p, err
	}
	if err := p.CompileFile(ctx, path); err != nil {
		return nil, err
	}
	return p, nil
}

// CompileFile replaces the active module with the contents of path.
func (p *AccessPolicy) CompileFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}
	return p.Compile(ctx, path, string(data))
}

// Compile replaces the active module. On error the previous module stays
// in effect.
func (p *AccessPolicy) Compile(ctx context.Context, name, module string) error {
	parsed, err := ast.ParseModule(name, module)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if pkg := parsed.Package.Path.String(); pkg != AccessPackage {
		return fmt.Errorf("policy %s declares package %s, want %s", name, pkg, AccessPackage)
	}

	query, err := rego.New(
		rego.Query(AccessQuery),
		rego.ParsedModule(parsed),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	p.mu.Lock()
	p.query = query
	p.name = name
	p.mu.Unlock()

	p.logger.Debug().Str("policy", name).Msg("Access policy compiled")
	return nil
}

// Name returns the name of the active module.
func (p *AccessPolicy) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Allowed evaluates the active module against input. An undefined or
// non-boolean allow denies.
func (p *AccessPolicy) Allowed(ctx context.Context, input AccessInput) (bool, error) {
	p.mu.RLock()
	query := p.query
	name := p.name
	p.mu.RUnlock()

	start := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}

	allowed := results.Allowed()
	p.logger.Debug().
		Str("policy", name).
		Str("path", input.Path).
		Str("client_id", input.ClientID).
		Bool("allowed", allowed).
		Dur("duration", time.Since(start)).
		Msg("Access evaluated")

	return allowed, nil
}
