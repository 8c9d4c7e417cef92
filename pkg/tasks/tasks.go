// Package tasks defines the background tasks run by the worker.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/stores"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/telemetry"
	"github.com/mikrotik-manager/mikrotik-manager/pkg/worker"
)

// Task names.
const (
	TestTask         = "test"
	DeviceProbeTask  = "device.probe"
	DeviceBackupTask = "device.backup"
)

// DeviceStore is the part of the store device tasks need.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*stores.Device, error)
	UpdateDeviceIdentity(ctx context.Context, id, identity string) error
	SaveBackup(ctx context.Context, backup *stores.DeviceBackup) error
}

// Deps are the dependencies shared by all tasks.
type Deps struct {
	// BrandingTitle is included in the test task's log line.
	BrandingTitle string

	// Store and Dial are required by the device tasks.
	Store DeviceStore
	Dial  Dialer
}

// Register adds every task to registry.
func Register(registry *worker.Registry, deps Deps) error {
	if deps.Store == nil || deps.Dial == nil {
		return fmt.Errorf("device store and dialer are required")
	}

	devices := &deviceTasks{store: deps.Store, dial: deps.Dial}
	all := []worker.Task{
		{Name: TestTask, MaxRetries: 3, Run: testTask(deps.BrandingTitle)},
		{Name: DeviceProbeTask, MaxRetries: 3, Run: devices.probe},
		{Name: DeviceBackupTask, MaxRetries: 2, Run: devices.backup},
	}
	for _, task := range all {
		if err := registry.Register(task); err != nil {
			return err
		}
	}
	return nil
}

var validate = validator.New()

// decode unmarshals and validates a payload. Malformed payloads never succeed
// on retry, so they fail permanently.
func decode(raw json.RawMessage, v any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v); err != nil {
			return worker.Permanent(fmt.Errorf("decode payload: %w", err))
		}
	}
	if err := validate.Struct(v); err != nil {
		return worker.Permanent(fmt.Errorf("invalid payload: %w", err))
	}
	return nil
}

// TestPayload is the payload of the test task.
type TestPayload struct {
	StrAttr string `json:"str_attr"`
}

func testTask(title string) worker.Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		payload := TestPayload{StrAttr: "qwerty"}
		if err := decode(raw, &payload); err != nil {
			return "", err
		}

		telemetry.FromContext(ctx).
			WithField("str_attr", payload.StrAttr).
			Debugf("Test task called with str_attr=%s for '%s'", payload.StrAttr, title)
		return "str_attr=" + payload.StrAttr, nil
	}
}
