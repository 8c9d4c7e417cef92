package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "settings.yaml"

var (
	configPath string
	version    = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mtmanager",
		Short: "MikroTik Manager - web UI and task worker for MikroTik devices",
		Long: `MikroTik Manager serves a web interface for managing MikroTik devices and
runs background tasks against them over SSH.

Pages are composed from shared layout sections (access policy, header,
scripted sections, footer) and bound to the HTTP server at startup.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "settings file path")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newEnqueueCommand())
	rootCmd.AddCommand(newDevicesCommand())
	rootCmd.AddCommand(newPagesCommand())

	return rootCmd
}
