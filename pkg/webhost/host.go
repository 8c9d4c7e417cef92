// Package webhost serves composed layout pages over HTTP.
package webhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/ui/view"
)

// Errors stages return to select the response status.
var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// Config holds the document defaults applied when a page leaves an
// option empty.
type Config struct {
	// Prefix is prepended to every page path, e.g. "/ui".
	Prefix string

	Title            string
	Viewport         string
	Favicon          string
	Dark             bool
	Language         string
	ReconnectTimeout time.Duration

	// StorageSecret signs the session cookie.
	StorageSecret string
}

// RenderObserver wraps a complete page render. telemetry.Telemetry
// implements it.
type RenderObserver interface {
	ObserveRender(ctx context.Context, page, requestID string, render func(context.Context) error) error
}

type nopRenderObserver struct{}

func (nopRenderObserver) ObserveRender(ctx context.Context, _, _ string, render func(context.Context) error) error {
	return render(ctx)
}

// PageInfo describes a registered page.
type PageInfo struct {
	Path      string
	Route     string
	Options   layout.PageOptions
	Signature layout.Signature
}

type page struct {
	info     PageInfo
	composed *layout.ComposedPage
}

// Host implements layout.Host on an http.ServeMux.
type Host struct {
	config   Config
	sessions *sessions
	observer RenderObserver
	logger   zerolog.Logger

	mu    sync.RWMutex
	mux   *http.ServeMux
	pages map[string]*page
}

// Option configures a Host.
type Option func(*Host)

// WithObserver wraps every render with o.
func WithObserver(o RenderObserver) Option {
	return func(h *Host) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithLogger sets the host logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// New creates a host.
func New(config Config, opts ...Option) *Host {
	cookiePath := config.Prefix
	if cookiePath == "" {
		cookiePath = "/"
	}

	h := &Host{
		config:   config,
		sessions: &sessions{secret: []byte(config.StorageSecret), path: cookiePath},
		observer: nopRenderObserver{},
		logger:   zerolog.Nop(),
		mux:      http.NewServeMux(),
		pages:    make(map[string]*page),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "webhost").Logger()
	return h
}

// RegisterPage mounts composed under GET <prefix><opts.Path>.
func (h *Host) RegisterPage(opts layout.PageOptions, composed *layout.ComposedPage) (err error) {
	if opts.Path == "" || opts.Path[0] != '/' {
		return fmt.Errorf("page path %q must start with /", opts.Path)
	}
	route := h.config.Prefix + opts.Path

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.pages[route]; exists {
		return fmt.Errorf("page %s already registered", route)
	}

	p := &page{
		info: PageInfo{
			Path:      opts.Path,
			Route:     route,
			Options:   opts,
			Signature: composed.Signature(),
		},
		composed: composed,
	}

	// ServeMux panics on invalid or conflicting patterns.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cannot mount page %s: %v", route, r)
		}
	}()
	h.mux.Handle("GET "+route, h.pageHandler(p))
	h.pages[route] = p

	h.logger.Debug().
		Str("route", route).
		Str("signature", p.info.Signature.String()).
		Msg("Page mounted")
	return nil
}

// Pages returns the registered pages ordered by route.
func (h *Host) Pages() []PageInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]PageInfo, 0, len(h.pages))
	for _, p := range h.pages {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Route < out[j].Route
	})
	return out
}

// ServeHTTP implements http.Handler.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Host) pageHandler(p *page) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{ID: uuid.NewString(), HTTP: r}
		client := &Client{
			ID:         h.sessions.clientID(w, r),
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			Document:   h.document(p.info.Options),
		}

		logger := h.logger.With().
			Str("request_id", req.ID).
			Str("page", p.info.Route).
			Logger()

		input := map[string]any{
			layout.RequestParam: req,
			layout.ClientParam:  client,
		}
		for _, param := range p.info.Signature {
			if param.Name == layout.RequestParam || param.Name == layout.ClientParam {
				continue
			}
			if v := r.PathValue(param.Name); v != "" {
				input[param.Name] = v
			} else if q := r.URL.Query(); q.Has(param.Name) {
				input[param.Name] = q.Get(param.Name)
			}
		}

		timeout := p.info.Options.ResponseTimeout
		if timeout <= 0 {
			timeout = layout.DefaultResponseTimeout
		}
		ctx, cancel := context.WithTimeout(logger.WithContext(r.Context()), timeout)
		defer cancel()

		start := time.Now()
		var result any
		err := h.observer.ObserveRender(ctx, p.info.Path, req.ID, func(ctx context.Context) error {
			var err error
			result, err = p.composed.Invoke(ctx, input)
			return err
		})
		if err != nil {
			h.writeError(w, logger, err)
			return
		}

		if redirect, ok := result.(Redirect); ok {
			http.Redirect(w, r, redirect.To, http.StatusSeeOther)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := client.Document.Render(w); err != nil {
			logger.Error().Err(err).Msg("Failed to write document")
			return
		}
		logger.Debug().Dur("duration", time.Since(start)).Msg("Page rendered")
	})
}

// document creates the page document, falling back to host defaults.
func (h *Host) document(opts layout.PageOptions) *view.Document {
	doc := &view.Document{
		Title:            h.config.Title,
		Viewport:         h.config.Viewport,
		Favicon:          h.config.Favicon,
		Dark:             h.config.Dark,
		Language:         h.config.Language,
		ReconnectTimeout: h.config.ReconnectTimeout,
	}
	if opts.Title != "" {
		doc.Title = opts.Title
	}
	if opts.Viewport != "" {
		doc.Viewport = opts.Viewport
	}
	if opts.Favicon != "" {
		doc.Favicon = opts.Favicon
	}
	if opts.Dark != nil {
		doc.Dark = *opts.Dark
	}
	if opts.Language != "" {
		doc.Language = opts.Language
	}
	if opts.ReconnectTimeout != 0 {
		doc.ReconnectTimeout = opts.ReconnectTimeout
	}
	return doc
}

// StatusOf maps a render error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case layout.IsMissingInput(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Host) writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := StatusOf(err)

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Int("status", status).Msg("Page render failed")

	doc := &view.Document{Title: http.StatusText(status), Language: h.config.Language}
	doc.Add(view.Heading(1, http.StatusText(status)))
	if status < http.StatusInternalServerError {
		doc.Add(view.El("p", view.Text(err.Error())))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = doc.Render(w)
}
