package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/tasks"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/telemetry"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

// app holds what every command needs: settings, telemetry and the store.
type app struct {
	loader    *config.Loader
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
}

func newApp(ctx context.Context) (*app, error) {
	loader := config.NewLoader(zerolog.Nop())
	settings, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Loggers are built at trace level; the global level is the effective one.
	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.LogLevel()))
	logger := tel.Logger.Zerolog()

	store, err := stores.Open(ctx, stores.Config{Path: settings.Database.Path})
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &app{
		loader:    config.NewLoader(logger),
		settings:  settings,
		telemetry: tel,
		logger:    logger,
		store:     store,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close store")
	}
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// taskRegistry registers every task against the app store.
func (a *app) taskRegistry() (*worker.Registry, error) {
	registry := worker.NewRegistry()
	err := tasks.Register(registry, tasks.Deps{
		BrandingTitle: a.settings.Branding.Title,
		Store:         a.store,
		Dial:          tasks.NewSSHDialer(a.settings.Devices, a.logger),
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func telemetryConfig(s *config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if s.Branding.Version != "" {
		cfg.ServiceVersion = s.Branding.Version
	}

	cfg.Logging.Level = "trace"
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.Path = s.Metrics.Path
	return cfg
}
