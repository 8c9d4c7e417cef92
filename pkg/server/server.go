// Package server assembles the HTTP surface of MikroTik Manager: the
// composed UI pages, the root redirect, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/pidfile"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/scripting"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/telemetry"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/ui"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/webhost"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Store is the store used by the server.
type Store interface {
	ui.Store
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Settings *config.Settings
	Store    Store

	// Telemetry is optional. When set it observes every render and stage
	// and serves metrics.
	Telemetry *telemetry.Telemetry

	Access    ui.AccessChecker
	Scripts   *scripting.Evaluator
	ScriptDir string

	Logger zerolog.Logger
}

// Server serves the UI.
type Server struct {
	settings *config.Settings
	store    Store
	host     *webhost.Host
	layout   *layout.Layout
	handler  http.Handler
	logger   zerolog.Logger
}

// New builds the layout and the HTTP handler.
func New(deps Deps) (*Server, error) {
	if deps.Settings == nil || deps.Store == nil {
		return nil, fmt.Errorf("settings and store are required")
	}
	s := deps.Settings
	logger := deps.Logger.With().Str("component", "server").Logger()

	hostOpts := []webhost.Option{webhost.WithLogger(deps.Logger)}
	uiDeps := ui.Deps{
		Settings:  s,
		Store:     deps.Store,
		Access:    deps.Access,
		Scripts:   deps.Scripts,
		ScriptDir: deps.ScriptDir,
		Logger:    deps.Logger,
	}
	if deps.Telemetry != nil {
		hostOpts = append(hostOpts, webhost.WithObserver(deps.Telemetry))
		uiDeps.Observer = deps.Telemetry
	}

	host := webhost.New(HostConfig(s), hostOpts...)
	l, err := ui.Build(host, uiDeps)
	if err != nil {
		return nil, fmt.Errorf("failed to build layout: %w", err)
	}

	srv := &Server{
		settings: s,
		store:    deps.Store,
		host:     host,
		layout:   l,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle(s.UIPrefix()+"/", host)
	mux.HandleFunc("GET /health", srv.health)
	mux.HandleFunc("GET /{$}", srv.redirectToStart)
	if root := s.App.RootWebPath; root != "" {
		mux.HandleFunc("GET "+root+"/{$}", srv.redirectToStart)
	}
	if deps.Telemetry != nil && s.Metrics.Enabled {
		mux.Handle("GET "+s.Metrics.Path, deps.Telemetry.Metrics.Handler())
	}
	srv.handler = mux

	return srv, nil
}

// HostConfig derives the page host defaults from settings.
func HostConfig(s *config.Settings) webhost.Config {
	return webhost.Config{
		Prefix:           s.UIPrefix(),
		Title:            s.Branding.Title,
		Viewport:         s.UI.Viewport,
		Favicon:          s.UI.Favicon,
		Dark:             s.UI.Dark,
		Language:         s.UI.Language,
		ReconnectTimeout: s.UI.ReconnectTimeout,
		StorageSecret:    s.UI.StorageSecret,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Host returns the page host.
func (s *Server) Host() *webhost.Host {
	return s.host
}

// Layout returns the composed layout.
func (s *Server) Layout() *layout.Layout {
	return s.layout
}

func (s *Server) redirectToStart(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.settings.StartPath(), http.StatusFound)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// Run listens on the configured address and serves until ctx is done.
// The pid file from settings is held while serving.
func (s *Server) Run(ctx context.Context) error {
	if path := s.settings.App.PIDFile; path != "" {
		pf, err := pidfile.Acquire(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove pid file")
			}
		}()
	}

	ln, err := net.Listen("tcp", s.settings.App.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.settings.App.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Str("start", s.settings.StartPath()).
			Msg("Server listening")
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Debug().Msg("Server shut down gracefully")
	return nil
}
