package layout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultResponseTimeout applies when PageOptions.ResponseTimeout is zero.
const DefaultResponseTimeout = 3 * time.Second

// PageOptions is the page metadata forwarded to the host.
type PageOptions struct {
	// Path is the route the host serves the page on.
	Path string

	// Title is the document title; empty means the host default.
	Title string

	// Viewport is the viewport meta content; empty means the host default.
	Viewport string

	// Favicon is a favicon URL or path; empty means the host default.
	Favicon string

	// Dark selects dark mode; nil means the host default.
	Dark *bool

	// Language is the document language; empty means the host default.
	Language string

	// ResponseTimeout bounds a single render.
	ResponseTimeout time.Duration

	// ReconnectTimeout is passed to the host; zero means the host default.
	ReconnectTimeout time.Duration

	// Extra carries host-specific options verbatim.
	Extra map[string]any
}

// Host is the paging subsystem composed pages are registered with.
type Host interface {
	RegisterPage(opts PageOptions, page *ComposedPage) error
}

// ComposedPage is the re-signed function handed to the host.
type ComposedPage struct {
	signature Signature
	options   PageOptions
	executor  *Executor
}

// Signature returns the parameters the host must supply.
func (p *ComposedPage) Signature() Signature {
	out := make(Signature, len(p.signature))
	copy(out, p.signature)
	return out
}

// Options returns the page metadata.
func (p *ComposedPage) Options() PageOptions {
	return p.options
}

// Invoke renders the page once. input holds the host's per-call values
// (request, client, path and query parameters).
func (p *ComposedPage) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return p.executor.Execute(ctx, input)
}

// Option configures a Layout.
type Option func(*Layout)

// WithObserver installs a stage observer on every page of the layout.
func WithObserver(o Observer) Option {
	return func(l *Layout) {
		l.observer = o
	}
}

// WithLogger sets the layout's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Layout) {
		l.logger = logger
	}
}

// Layout owns a section registry and binds pages against it.
type Layout struct {
	host     Host
	registry *Registry
	observer Observer
	logger   zerolog.Logger
}

// New creates a layout whose pages are registered with host.
func New(host Host, opts ...Option) *Layout {
	l := &Layout{
		host:   host,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.registry = NewRegistry(l.logger)
	return l
}

// Registry returns the layout's section registry.
func (l *Layout) Registry() *Registry {
	return l.registry
}

// Section registers a section on the layout and returns h unchanged.
func (l *Layout) Section(h Handler, opts ...SectionOption) (Handler, error) {
	return l.registry.Register(h, opts...)
}

// MustSection is like Section but panics on error.
func (l *Layout) MustSection(h Handler, opts ...SectionOption) Handler {
	return l.registry.MustRegister(h, opts...)
}

// Page finalizes the layout, composes h with its sections and registers
// the result with the host. h is returned unchanged.
func (l *Layout) Page(opts PageOptions, h Handler) (Handler, error) {
	l.registry.Finalize()

	if !h.valid() {
		return h, newSetupError(BodyKey, "page %q has no handler function", opts.Path)
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}

	page := &ComposedPage{
		signature: Project(h, l.registry.Names()),
		options:   opts,
		executor:  NewExecutor(opts.Path, l.registry, h, l.observer),
	}

	if l.host == nil {
		return h, newSetupError(BodyKey, "layout has no host to register page %q with", opts.Path)
	}
	if err := l.host.RegisterPage(opts, page); err != nil {
		return h, &Error{
			Kind:    ErrorKindSetup,
			Message: fmt.Sprintf("host rejected page %q", opts.Path),
			Err:     err,
		}
	}

	l.logger.Info().
		Str("path", opts.Path).
		Str("signature", page.signature.String()).
		Msg("Page bound")

	return h, nil
}

// MustPage is like Page but panics on error.
func (l *Layout) MustPage(opts PageOptions, h Handler) Handler {
	h, err := l.Page(opts, h)
	if err != nil {
		panic(err)
	}
	return h
}
