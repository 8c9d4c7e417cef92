package tasks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/config"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/telemetry"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/transports/ssh"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

// RouterOS commands issued by the device tasks.
const (
	identityCommand = "/system identity print"
	exportCommand   = "/export"

	// exportFile is written on the device by "/export file=" and fetched
	// over SFTP. RouterOS appends the .rsc extension.
	exportFile = "mtmanager-export"
)

// Backup sources.
const (
	SourceExport = "export"
	SourceFile   = "file"
)

// Dialer returns a command runner for a device.
type Dialer func(device *stores.Device) (ssh.Runner, error)

// NewSSHDialer returns a Dialer that connects with the shared device
// credentials. The device's own port and username take precedence.
func NewSSHDialer(settings config.DeviceSettings, logger zerolog.Logger) Dialer {
	return func(device *stores.Device) (ssh.Runner, error) {
		user := device.Username
		if user == "" {
			user = settings.Username
		}

		cfg := ssh.DefaultConfig(device.Host, user)
		if device.Port > 0 {
			cfg.Port = device.Port
		} else if settings.Port > 0 {
			cfg.Port = settings.Port
		}
		if settings.PrivateKeyPath != "" {
			cfg.AuthMethod = ssh.AuthMethodKey
			cfg.PrivateKeyPath = settings.PrivateKeyPath
		} else {
			cfg.Password = settings.Password
		}
		cfg.KnownHostsPath = settings.KnownHostsPath
		if settings.ConnectTimeout > 0 {
			cfg.ConnectionTimeout = settings.ConnectTimeout
		}
		if settings.CommandTimeout > 0 {
			cfg.CommandTimeout = settings.CommandTimeout
		}

		return ssh.NewClient(cfg, logger)
	}
}

// DevicePayload addresses a single device.
type DevicePayload struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// BackupPayload selects how the export is read. SourceExport (the default)
// captures the output of /export; SourceFile writes the export to a file on
// the device and downloads it.
type BackupPayload struct {
	DevicePayload
	Source string `json:"source,omitempty" validate:"omitempty,oneof=export file"`
}

type deviceTasks struct {
	store DeviceStore
	dial  Dialer
}

// probe reads the device identity and records it, marking the device as seen.
func (d *deviceTasks) probe(ctx context.Context, raw json.RawMessage) (string, error) {
	var payload DevicePayload
	if err := decode(raw, &payload); err != nil {
		return "", err
	}

	device, runner, err := d.open(ctx, payload)
	if err != nil {
		return "", err
	}

	out, err := runner.Run(ctx, identityCommand)
	if err != nil {
		return "", classify(err)
	}

	identity, err := parseIdentity(out)
	if err != nil {
		return "", worker.Permanent(err)
	}

	if err := d.store.UpdateDeviceIdentity(ctx, device.ID, identity); err != nil {
		return "", classify(err)
	}

	telemetry.FromContext(ctx).
		WithFields(map[string]interface{}{"device": device.Name, "identity": identity}).
		Info("Device probed")
	return identity, nil
}

// backup exports the device configuration and stores it.
func (d *deviceTasks) backup(ctx context.Context, raw json.RawMessage) (string, error) {
	var payload BackupPayload
	if err := decode(raw, &payload); err != nil {
		return "", err
	}

	device, runner, err := d.open(ctx, payload.DevicePayload)
	if err != nil {
		return "", err
	}

	var out string
	if payload.Source == SourceFile {
		out, err = exportViaFile(ctx, runner)
	} else {
		out, err = runner.Run(ctx, exportCommand)
	}
	if err != nil {
		return "", classify(err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("device %s returned an empty export", device.Name)
	}

	backup := &stores.DeviceBackup{DeviceID: device.ID, Content: out}
	if err := d.store.SaveBackup(ctx, backup); err != nil {
		return "", classify(err)
	}

	telemetry.FromContext(ctx).
		WithFields(map[string]interface{}{"device": device.Name, "backup_id": backup.ID, "bytes": len(out)}).
		Info("Device backed up")
	return backup.ID, nil
}

// exportViaFile writes the export to a file on the device, downloads it and
// removes it again.
func exportViaFile(ctx context.Context, runner ssh.Runner) (string, error) {
	files, ok := runner.(ssh.FileReader)
	if !ok {
		return "", worker.Permanent(errors.New("transport cannot read files"))
	}

	if _, err := runner.Run(ctx, exportCommand+" file="+exportFile); err != nil {
		return "", err
	}

	name := exportFile + ".rsc"
	data, err := files.ReadFile(ctx, name)
	if err != nil {
		return "", err
	}

	if err := files.RemoveFile(ctx, name); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to remove export file")
	}
	return string(data), nil
}

func (d *deviceTasks) open(ctx context.Context, payload DevicePayload) (*stores.Device, ssh.Runner, error) {
	device, err := d.store.GetDevice(ctx, payload.DeviceID)
	if err != nil {
		return nil, nil, classify(err)
	}

	runner, err := d.dial(device)
	if err != nil {
		return nil, nil, worker.Permanent(fmt.Errorf("device %s: %w", device.Name, err))
	}
	return device, runner, nil
}

// classify marks errors that cannot succeed on retry as permanent.
func classify(err error) error {
	if errors.Is(err, stores.ErrNotFound) {
		return worker.Permanent(err)
	}
	var te *ssh.TransportError
	if errors.As(err, &te) && te.IsAuthError {
		return worker.Permanent(err)
	}
	return err
}

// parseIdentity extracts the name from "/system identity print" output.
func parseIdentity(out string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if ok && strings.TrimSpace(key) == "name" {
			if name := strings.TrimSpace(value); name != "" {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("no identity in output %q", out)
}
