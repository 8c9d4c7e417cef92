package layout

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Phase places a section relative to the page handler.
type Phase string

const (
	// PhaseBefore sections run before the page handler.
	PhaseBefore Phase = "before"

	// PhaseAfter sections run after the page handler.
	PhaseAfter Phase = "after"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseBefore || p == PhaseAfter
}

// RegistryState is the lifecycle state of a Registry.
type RegistryState string

const (
	// RegistryOpen accepts new sections.
	RegistryOpen RegistryState = "open"

	// RegistryClosed is terminal; the registry is read-only.
	RegistryClosed RegistryState = "closed"
)

// Section is a registered extension contributing to every page of a layout.
type Section struct {
	Name     string
	Phase    Phase
	Position int
	Handler  Handler
}

// SectionOption configures a section registration.
type SectionOption func(*sectionConfig)

type sectionConfig struct {
	name        string
	phase       Phase
	position    int
	hasPosition bool
}

// WithName overrides the handler's own name.
func WithName(name string) SectionOption {
	return func(c *sectionConfig) {
		c.name = name
	}
}

// WithPhase sets the phase (default PhaseBefore).
func WithPhase(phase Phase) SectionOption {
	return func(c *sectionConfig) {
		c.phase = phase
	}
}

// WithPosition sets an explicit ordering key within the phase.
func WithPosition(position int) SectionOption {
	return func(c *sectionConfig) {
		c.position = position
		c.hasPosition = true
	}
}

// Registry holds the sections of one layout.
type Registry struct {
	// mu guards the open state. Once closed is set, before and after
	// are never written again and are read without locking.
	mu       sync.Mutex
	closed   atomic.Bool
	sections map[string]*Section
	order    []*Section

	before []Section
	after  []Section

	logger zerolog.Logger
}

// NewRegistry creates an empty, open registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sections: make(map[string]*Section),
		logger:   logger.With().Str("component", "section-registry").Logger(),
	}
}

// Register adds a section and returns h unchanged.
func (r *Registry) Register(h Handler, opts ...SectionOption) (Handler, error) {
	cfg := sectionConfig{phase: PhaseBefore}
	for _, opt := range opts {
		opt(&cfg)
	}
	name := cfg.name
	if name == "" {
		name = h.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return h, newSetupError(name, "cannot add sections after the layout has been finalized")
	}
	if name == "" {
		return h, newSetupError("", "section has no name")
	}
	if !h.valid() {
		return h, newSetupError(name, "section has no handler function")
	}
	if !cfg.phase.Valid() {
		return h, newSetupError(name, "unknown phase %q", cfg.phase)
	}
	if _, exists := r.sections[name]; exists {
		return h, newSetupError(name, "section with name %q is already defined", name)
	}

	position := cfg.position
	if !cfg.hasPosition {
		position = r.nextPosition(cfg.phase)
	}

	s := &Section{
		Name:     name,
		Phase:    cfg.phase,
		Position: position,
		Handler:  h,
	}
	r.sections[name] = s
	r.order = append(r.order, s)

	r.logger.Debug().
		Str("section", name).
		Str("phase", string(cfg.phase)).
		Int("position", position).
		Bool("async", h.IsAsync()).
		Msg("Section registered")

	return h, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(h Handler, opts ...SectionOption) Handler {
	h, err := r.Register(h, opts...)
	if err != nil {
		panic(err)
	}
	return h
}

// nextPosition is one past the last position in phase, or 1 if empty.
// Callers hold r.mu.
func (r *Registry) nextPosition(phase Phase) int {
	sorted := r.sortedLocked(phase)
	if len(sorted) == 0 {
		return 1
	}
	return sorted[len(sorted)-1].Position + 1
}

// sortedLocked returns the sections of phase ordered by position, ties by
// registration order. Callers hold r.mu.
func (r *Registry) sortedLocked(phase Phase) []Section {
	var out []Section
	for _, s := range r.order {
		if s.Phase == phase {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// SectionsFor returns the sections of phase in execution order.
func (r *Registry) SectionsFor(phase Phase) []Section {
	if r.closed.Load() {
		return copySections(r.frozen(phase))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return copySections(r.frozen(phase))
	}
	return r.sortedLocked(phase)
}

// frozen returns the snapshot taken by Finalize without copying.
func (r *Registry) frozen(phase Phase) []Section {
	switch phase {
	case PhaseBefore:
		return r.before
	case PhaseAfter:
		return r.after
	default:
		return nil
	}
}

// Finalize closes the registry. Calling it again is a no-op.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return
	}
	r.before = r.sortedLocked(PhaseBefore)
	r.after = r.sortedLocked(PhaseAfter)
	r.closed.Store(true)

	r.logger.Info().
		Int("before", len(r.before)).
		Int("after", len(r.after)).
		Msg("Layout finalized")
}

// State returns the lifecycle state.
func (r *Registry) State() RegistryState {
	if r.closed.Load() {
		return RegistryClosed
	}
	return RegistryOpen
}

// Names returns all section names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.order))
	for _, s := range r.order {
		names = append(names, s.Name)
	}
	return names
}

// Len returns the number of registered sections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func copySections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	copy(out, in)
	return out
}
