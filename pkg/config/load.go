package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variables that override settings.
const EnvPrefix = "MTM_"

// reloadDelay debounces bursts of file system events.
const reloadDelay = 500 * time.Millisecond

// Loader reads, validates and watches settings files.
type Loader struct {
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewLoader creates a settings loader.
func NewLoader(logger zerolog.Logger) *Loader {
	v := validator.New()
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return slices.Contains(Languages, fl.Field().String())
	})

	return &Loader{
		validate: v,
		logger:   logger.With().Str("component", "config").Logger(),
	}
}

// Load reads settings with the default loader.
func Load(path string) (*Settings, error) {
	return NewLoader(zerolog.Nop()).Load(path)
}

// Load reads the settings file at path.
//
// A .env file next to the settings file is loaded first without overriding
// variables already present in the environment. ${VAR} references in the
// YAML are expanded. When the file does not exist the defaults are written
// to it. MTM_* environment variables are applied last, then the result is
// validated.
func (l *Loader) Load(path string) (*Settings, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	settings := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-provided configuration
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := Save(path, settings); err != nil {
			return nil, err
		}
		l.logger.Info().Str("path", path).Msg("Settings file created with defaults")
	case err != nil:
		return nil, fmt.Errorf("config: read settings: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), settings); err != nil {
			return nil, fmt.Errorf("config: parse settings: %w", err)
		}
	}

	if err := applyEnv(settings); err != nil {
		return nil, err
	}

	if err := l.Validate(settings); err != nil {
		return nil, err
	}

	l.logger.Debug().Str("path", path).Msg("Settings loaded")
	return settings, nil
}

// Validate checks the settings against their validation tags.
func (l *Loader) Validate(s *Settings) error {
	if err := l.validate.Struct(s); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// Save writes settings to path as YAML, creating parent directories.
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create settings directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}

// applyEnv overrides a small set of keys from MTM_* variables.
func applyEnv(s *Settings) error {
	strs := map[string]*string{
		"APP_LISTEN":        &s.App.Listen,
		"APP_ROOT_WEB_PATH": &s.App.RootWebPath,
		"APP_PID_FILE":      &s.App.PIDFile,
		"DATABASE_PATH":     &s.Database.Path,
		"LOG_LEVEL":         &s.Logging.Level,
		"UI_LANGUAGE":       &s.UI.Language,
		"UI_STORAGE_SECRET": &s.UI.StorageSecret,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"APP_DEBUG": &s.App.Debug,
		"UI_DARK":   &s.UI.Dark,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	if v, ok := os.LookupEnv(EnvPrefix + "WORKER_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sWORKER_CONCURRENCY: %w", EnvPrefix, err)
		}
		s.Worker.Concurrency = n
	}

	return nil
}

// Watch reloads the settings file whenever it changes and passes the new
// settings to fn. Invalid files are logged and skipped. Watch returns once
// the watcher is running; it stops when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, path string, fn func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	go l.processEvents(ctx, watcher, filepath.Clean(path), fn)

	l.logger.Info().Str("path", path).Msg("Watching settings file")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, fn func(*Settings)) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Settings file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				settings, err := l.Load(path)
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload settings")
					return
				}
				fn(settings)
				l.logger.Info().Msg("Settings reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
