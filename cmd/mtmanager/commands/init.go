package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the settings file and database",
		Long: `Create the settings file with defaults when it does not exist yet, then
create the database and run all migrations.`,
		Example: `  mtmanager init
  mtmanager init --config /etc/mtmanager/settings.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Settings: %s\n", configPath)
			fmt.Fprintf(out, "✓ Database: %s\n", a.settings.Database.Path)
			fmt.Fprintf(out, "\nStart the web interface with:\n  mtmanager serve --config %s\n", configPath)
			return nil
		},
	}

	return cmd
}
