package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

func newEnqueueCommand() *cobra.Command {
	var (
		payload string
		delay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue <task>",
		Short: "Queue a background task",
		Long: `Queue a background task for the worker.

Known tasks:
  test            log str_attr (default "qwerty")
  device.probe    read the device identity over SSH
  device.backup   store the output of /export`,
		Example: `  mtmanager enqueue test --payload '{"str_attr":"hello"}'
  mtmanager enqueue device.backup --payload '{"device_id":"..."}' --delay 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			registry, err := a.taskRegistry()
			if err != nil {
				return err
			}

			var body any
			if payload != "" {
				body = json.RawMessage(payload)
			}
			task, err := worker.EnqueueAt(ctx, a.store, registry, args[0], body, time.Now().Add(delay))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s task %s\n", task.Name, task.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run the task after this delay")

	return cmd
}
