package config

import (
	"time"
)

// Languages accepted by UISettings.Language.
var Languages = []string{
	"ar", "ar-TN", "az-Latn", "bg", "bn", "ca", "cs", "da", "de", "el", "en-GB", "en-US",
	"eo", "es", "et", "eu", "fa", "fa-IR", "fi", "fr", "gn", "he", "hr", "hu", "id", "is", "it", "ja",
	"kk", "km", "ko-KR", "kur-CKB", "lt", "lu", "lv", "ml", "mm", "ms", "my", "nb-NO", "nl", "pl", "pt",
	"pt-BR", "ro", "ru", "sk", "sl", "sm", "sr", "sr-CYR", "sv", "ta", "th", "tr", "ug", "uk", "uz-Cyrl",
	"uz-Latn", "vi", "zh-CN", "zh-TW",
}

// Settings is the complete process configuration.
type Settings struct {
	Branding BrandingSettings `yaml:"branding"`
	App      AppSettings      `yaml:"app"`
	UI       UISettings       `yaml:"ui"`
	Database DatabaseSettings `yaml:"database"`
	Worker   WorkerSettings   `yaml:"worker"`
	Devices  DeviceSettings   `yaml:"devices"`
	Logging  LoggingSettings  `yaml:"logging"`
	Tracing  TracingSettings  `yaml:"tracing"`
	Metrics  MetricsSettings  `yaml:"metrics"`
}

// BrandingSettings describes the product shown in the header.
type BrandingSettings struct {
	Title       string `yaml:"title" validate:"required"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version,omitempty"`
}

// AppSettings configures the web process.
type AppSettings struct {
	// Debug enables debug logging regardless of the logging level.
	Debug bool `yaml:"debug"`

	// RootWebPath is prefixed to every route, e.g. "/manager".
	RootWebPath string `yaml:"root_web_path" validate:"omitempty,startswith=/"`

	// PIDFile is written while serving when non-empty.
	PIDFile string `yaml:"pid_file,omitempty"`

	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// UISettings configures the page layer.
type UISettings struct {
	WebPath          string          `yaml:"web_path" validate:"required,startswith=/"`
	DefaultPath      string          `yaml:"default_path" validate:"omitempty,startswith=/"`
	Viewport         string          `yaml:"viewport"`
	Favicon          string          `yaml:"favicon,omitempty"`
	Dark             bool            `yaml:"dark"`
	Language         string          `yaml:"language" validate:"required,language"`
	ResponseTimeout  time.Duration   `yaml:"response_timeout" validate:"gt=0"`
	ReconnectTimeout time.Duration   `yaml:"reconnect_timeout" validate:"gte=0"`
	StorageSecret    string          `yaml:"storage_secret" validate:"required,min=4"`
	AccessPolicy     string          `yaml:"access_policy,omitempty"`
	Scripts          []ScriptSection `yaml:"scripts,omitempty" validate:"dive"`
}

// ScriptSection declares a layout section backed by a Starlark script.
type ScriptSection struct {
	Name     string   `yaml:"name" validate:"required"`
	Phase    string   `yaml:"phase,omitempty" validate:"omitempty,oneof=before after"`
	Position *int     `yaml:"position,omitempty"`
	Params   []string `yaml:"params,omitempty"`
	File     string   `yaml:"file" validate:"required"`
}

// DatabaseSettings configures the sqlite store.
type DatabaseSettings struct {
	Path string `yaml:"path" validate:"required"`
}

// WorkerSettings configures the background worker.
type WorkerSettings struct {
	PIDFile      string        `yaml:"pid_file,omitempty"`
	Concurrency  int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	RetryDelay   time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

// DeviceSettings holds SSH defaults applied to every managed device.
type DeviceSettings struct {
	Port           int           `yaml:"port" validate:"gte=1,lte=65535"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	PrivateKeyPath string        `yaml:"private_key_path,omitempty"`
	KnownHostsPath string        `yaml:"known_hosts_path,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gt=0"`
}

// LoggingSettings mirrors telemetry.LoggingConfig.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output,omitempty"`
}

// TracingSettings mirrors telemetry.TracingConfig.
type TracingSettings struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsSettings mirrors telemetry.MetricsConfig.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// Default returns the settings used when no file or override is present.
func Default() *Settings {
	return &Settings{
		Branding: BrandingSettings{
			Title:       "MikroTik Manager",
			Description: "Manage MikroTik devices from a single web interface.",
			Version:     "dev",
		},
		App: AppSettings{
			Listen: "127.0.0.1:8080",
		},
		UI: UISettings{
			WebPath:          "/ui",
			DefaultPath:      "/dashboard",
			Viewport:         "width=device-width, initial-scale=1",
			Favicon:          "logo.png",
			Language:         "en-US",
			ResponseTimeout:  3 * time.Second,
			ReconnectTimeout: 3 * time.Second,
			StorageSecret:    "change-me",
		},
		Database: DatabaseSettings{
			Path: "mikrotik-manager.db",
		},
		Worker: WorkerSettings{
			Concurrency:  2,
			PollInterval: time.Second,
			RetryDelay:   5 * time.Second,
		},
		Devices: DeviceSettings{
			Port:           22,
			Username:       "admin",
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsSettings{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// UIPrefix is the route prefix pages are mounted under.
func (s *Settings) UIPrefix() string {
	return s.App.RootWebPath + s.UI.WebPath
}

// StartPath is where "/" redirects to.
func (s *Settings) StartPath() string {
	return s.UIPrefix() + s.UI.DefaultPath
}

// LogLevel is the effective log level, honouring App.Debug.
func (s *Settings) LogLevel() string {
	if s.App.Debug {
		return "debug"
	}
	return s.Logging.Level
}
