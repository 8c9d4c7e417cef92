package stores

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("record already exists")
)

// TaskStatus represents the status of a queued task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Device represents a managed router
type Device struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	Identity   string     `json:"identity"` // reported by /system identity
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DeviceBackup is an exported device configuration
type DeviceBackup struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of background work
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Status     TaskStatus      `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	RunAt      time.Time       `json:"run_at"`
	Result     *string         `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TaskFailure describes how a failed attempt should be recorded.
type TaskFailure struct {
	// Message is stored as the task error.
	Message string

	// RetryAfter delays the next attempt when the task is re-queued.
	RetryAfter time.Duration

	// Permanent fails the task regardless of remaining retries.
	Permanent bool
}
