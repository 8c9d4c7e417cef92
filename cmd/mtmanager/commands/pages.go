package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/policy"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/scripting"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/server"
)

func newPagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Print the composed signature of every page",
		Long: `Build the layout exactly as serve does and print every page route with
the parameters a caller has to provide. Section names never appear in a
signature; client and request always lead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			access, err := policy.LoadAccessPolicy(ctx, a.settings.UI.AccessPolicy, a.logger)
			if err != nil {
				return err
			}
			srv, err := server.New(server.Deps{
				Settings:  a.settings,
				Store:     a.store,
				Access:    access,
				Scripts:   scripting.NewEvaluator(scripting.DefaultTimeout, a.logger),
				ScriptDir: filepath.Dir(configPath),
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Sections"))
			for _, name := range srv.Layout().Registry().Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			fmt.Fprintln(out)

			w := newTable(out)
			fmt.Fprintln(out, headerStyle.Render("Pages"))
			fmt.Fprintln(w, "ROUTE\tTITLE\tSIGNATURE")
			for _, p := range srv.Host().Pages() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Route, p.Options.Title, p.Signature.String())
			}
			return w.Flush()
		},
	}

	return cmd
}
