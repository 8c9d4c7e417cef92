package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists devices, backups and the task queue in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.Path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite",
		s.cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateDevice inserts a device, assigning ID and timestamps when unset.
func (s *SQLiteStore) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Port == 0 {
		device.Port = 22
	}
	now := s.now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (id, name, host, port, username, identity, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.Host,
		device.Port,
		device.Username,
		device.Identity,
		device.LastSeenAt,
		device.CreatedAt,
		device.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("device %q: %w", device.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

const deviceColumns = `id, name, host, port, username, identity, last_seen_at, created_at, updated_at`

// GetDevice retrieves a device by ID
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	device, err := scanDevice(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices lists devices ordered by name
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

// CountDevices returns the number of managed devices
func (s *SQLiteStore) CountDevices(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// UpdateDeviceIdentity records the identity a device reported and marks it seen.
func (s *SQLiteStore) UpdateDeviceIdentity(ctx context.Context, id, identity string) error {
	now := s.now()
	query := `
		UPDATE devices
		SET identity = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, identity, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update device identity: %w", err)
	}

	return expectRow(result, "device", id)
}

// DeleteDevice deletes a device and, through the foreign key, its backups.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	return expectRow(result, "device", id)
}

// SaveBackup stores an exported configuration for a device
func (s *SQLiteStore) SaveBackup(ctx context.Context, backup *DeviceBackup) error {
	if backup.ID == "" {
		backup.ID = uuid.NewString()
	}
	backup.CreatedAt = s.now()

	query := `
		INSERT INTO device_backups (id, device_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, backup.ID, backup.DeviceID, backup.Content, backup.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("device %s: %w", backup.DeviceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save backup: %w", err)
	}

	return nil
}

// ListBackups lists a device's backups, newest first
func (s *SQLiteStore) ListBackups(ctx context.Context, deviceID string, limit int) ([]*DeviceBackup, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, device_id, content, created_at
		FROM device_backups
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	backups := []*DeviceBackup{}
	for rows.Next() {
		backup := &DeviceBackup{}
		if err := rows.Scan(&backup.ID, &backup.DeviceID, &backup.Content, &backup.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, backup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return backups, nil
}

// EnqueueTask adds a pending task. A zero RunAt means "now".
func (s *SQLiteStore) EnqueueTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if len(task.Payload) == 0 {
		task.Payload = []byte("{}")
	}
	now := s.now()
	if task.RunAt.IsZero() {
		task.RunAt = now
	}
	task.RunAt = task.RunAt.UTC()
	task.Status = TaskStatusPending
	task.Attempts = 0
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, name, payload, status, attempts, max_retries, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Name,
		string(task.Payload),
		task.Status,
		task.Attempts,
		task.MaxRetries,
		task.RunAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

const taskColumns = `id, name, payload, status, attempts, max_retries, run_at, result, error, created_at, updated_at`

// GetTask retrieves a task by ID
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ClaimTask moves the oldest due pending task to running and returns it.
// It returns ErrNotFound when nothing is due.
func (s *SQLiteStore) ClaimTask(ctx context.Context) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at, created_at
		LIMIT 1
	`

	task, err := scanTask(tx.QueryRowContext(ctx, query, TaskStatusPending, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select task: %w", err)
	}

	task.Status = TaskStatusRunning
	task.Attempts++
	task.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		task.Status, task.Attempts, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return task, nil
}

// CompleteTask marks a running task as succeeded
func (s *SQLiteStore) CompleteTask(ctx context.Context, id, result string) error {
	query := `
		UPDATE tasks
		SET status = ?, result = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, TaskStatusSucceeded, result, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	return expectRow(res, "task", id)
}

// FailTask records a failed attempt. The task is re-queued after
// f.RetryAfter while attempts do not exceed its max retries and the failure
// is not permanent; otherwise it is marked failed. The resulting status is
// returned.
func (s *SQLiteStore) FailTask(ctx context.Context, id string, f TaskFailure) (TaskStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin fail: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts, maxRetries int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_retries FROM tasks WHERE id = ?`, id).Scan(&attempts, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load task: %w", err)
	}

	now := s.now()
	status := TaskStatusFailed
	runAt := now
	if !f.Permanent && attempts <= maxRetries {
		status = TaskStatusPending
		runAt = now.Add(f.RetryAfter)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		status, f.Message, runAt, now, id,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record task failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit failure: %w", err)
	}

	return status, nil
}

// ListTasks lists tasks, newest first, optionally filtered by status
func (s *SQLiteStore) ListTasks(ctx context.Context, status *TaskStatus, limit, offset int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	device := &Device{}
	err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Host,
		&device.Port,
		&device.Username,
		&device.Identity,
		&device.LastSeenAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return device, nil
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var payload string
	err := row.Scan(
		&task.ID,
		&task.Name,
		&payload,
		&task.Status,
		&task.Attempts,
		&task.MaxRetries,
		&task.RunAt,
		&task.Result,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Payload = []byte(payload)
	return task, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE") ||
		isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, "UNIQUE")
}

func isForeignKeyViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY")
}

// isConstraint matches the extended result code, falling back to the
// primary code plus message when extended codes are not reported.
func isConstraint(err error, extended int, text string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), text)
}
