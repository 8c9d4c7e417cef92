package commands

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/policy"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/scripting"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/server"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface",
		Long: `Serve the web interface on the configured listen address.

The pid file from app.pid_file is held while serving. With --watch the log
level follows changes to the settings file and the access policy is
recompiled when its file changes.`,
		Example: `  # Serve with the default settings.yaml
  mtmanager serve

  # Serve with a custom settings file
  mtmanager serve --config /etc/mtmanager/settings.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			s := a.settings
			access, err := policy.LoadAccessPolicy(ctx, s.UI.AccessPolicy, a.logger)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Deps{
				Settings:  s,
				Store:     a.store,
				Telemetry: a.telemetry,
				Access:    access,
				Scripts:   scripting.NewEvaluator(scripting.DefaultTimeout, a.logger),
				ScriptDir: filepath.Dir(configPath),
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}

			if watch {
				err := a.loader.Watch(ctx, configPath, func(next *config.Settings) {
					zerolog.SetGlobalLevel(telemetry.ParseLevel(next.LogLevel()))
					a.logger.Info().Str("level", next.LogLevel()).Msg("Settings reloaded")
				})
				if err != nil {
					return err
				}
				if s.UI.AccessPolicy != "" {
					if err := access.Watch(ctx, s.UI.AccessPolicy); err != nil {
						return err
					}
				}
			}

			a.logger.Info().
				Str("listen", s.App.Listen).
				Int("pages", len(srv.Host().Pages())).
				Str("policy", access.Name()).
				Msg("Starting server")

			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reload the log level and access policy on file changes")

	return cmd
}
