package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/tasks"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

func newDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage devices",
	}

	cmd.AddCommand(newDevicesAddCommand())
	cmd.AddCommand(newDevicesListCommand())
	cmd.AddCommand(newDevicesTaskCommand("probe", tasks.DeviceProbeTask, "Queue an identity probe for a device"))
	cmd.AddCommand(newDevicesTaskCommand("backup", tasks.DeviceBackupTask, "Queue a configuration backup for a device"))

	return cmd
}

func newDevicesAddCommand() *cobra.Command {
	var (
		host     string
		port     int
		username string
		probe    bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a device",
		Example: `  mtmanager devices add core-router --host 10.0.0.1
  mtmanager devices add edge --host 10.0.0.2 --port 2222 --user admin --probe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			device := &stores.Device{
				Name:     args[0],
				Host:     host,
				Port:     port,
				Username: username,
			}
			if device.Port == 0 {
				device.Port = a.settings.Devices.Port
			}
			if device.Username == "" {
				device.Username = a.settings.Devices.Username
			}

			if err := a.store.CreateDevice(ctx, device); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added device %s (%s)\n", device.Name, device.ID)

			if probe {
				registry, err := a.taskRegistry()
				if err != nil {
					return err
				}
				task, err := worker.Enqueue(ctx, a.store, registry, tasks.DeviceProbeTask, tasks.DevicePayload{DeviceID: device.ID})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s task %s\n", task.Name, task.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "device address")
	cmd.Flags().IntVar(&port, "port", 0, "SSH port (defaults to devices.port)")
	cmd.Flags().StringVar(&username, "user", "", "SSH user (defaults to devices.username)")
	cmd.Flags().BoolVar(&probe, "probe", false, "queue an identity probe after adding")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}

func newDevicesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			devices, err := a.store.ListDevices(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No devices."))
				return nil
			}

			w := newTable(out)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tIDENTITY\tLAST SEEN")
			for _, d := range devices {
				seen := "never"
				if d.LastSeenAt != nil {
					seen = d.LastSeenAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\n", d.ID, d.Name, d.Host, d.Port, d.Identity, seen)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newDevicesTaskCommand(use, task, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if _, err := a.store.GetDevice(ctx, args[0]); err != nil {
				return err
			}

			registry, err := a.taskRegistry()
			if err != nil {
				return err
			}
			queued, err := worker.Enqueue(ctx, a.store, registry, task, tasks.DevicePayload{DeviceID: args[0]})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s task %s\n", queued.Name, queued.ID)
			return nil
		},
	}
}
