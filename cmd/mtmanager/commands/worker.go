package commands

import (
	"github.com/spf13/cobra"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/pidfile"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

func newWorkerCommand() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background task worker",
		Long: `Run the background task worker.

The worker polls the task queue in the database and runs device probes,
configuration backups and test tasks. Failed tasks are retried with an
exponential delay until their retry budget is spent.`,
		Example: `  # Run with the configured concurrency
  mtmanager worker

  # Run four tasks in parallel
  mtmanager worker --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			s := a.settings
			if s.Worker.PIDFile != "" {
				pf, err := pidfile.Acquire(s.Worker.PIDFile)
				if err != nil {
					return err
				}
				defer pf.Release()
			}

			registry, err := a.taskRegistry()
			if err != nil {
				return err
			}

			cfg := worker.DefaultConfig()
			cfg.Concurrency = s.Worker.Concurrency
			cfg.PollInterval = s.Worker.PollInterval
			cfg.RetryDelay = s.Worker.RetryDelay
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}

			w := worker.New(a.store, registry, cfg,
				worker.WithObserver(a.telemetry),
				worker.WithLogger(a.logger),
			)
			return w.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency from the settings")

	return cmd
}
