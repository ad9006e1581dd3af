package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete majordomo gateway configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Transport TransportConfig `yaml:"transport"`
	Registry  RegistryConfig  `yaml:"registry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Listeners ListenersConfig `yaml:"listeners"`
	Flow      FlowConfig      `yaml:"flow"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// TransportConfig defines the chat platform connection.
type TransportConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig defines the Telegram bot connection.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// RegistryConfig defines the remote read-only config store.
type RegistryConfig struct {
	BaseURL           string        `yaml:"base_url"`
	DefaultChatConfig string        `yaml:"default_chat_config"`
	Timeout           time.Duration `yaml:"timeout"`
	DocumentTTL       time.Duration `yaml:"document_ttl"`
	FetchRetries      int           `yaml:"fetch_retries"`
}

// SnapshotConfig defines routing snapshot caching.
type SnapshotConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SandboxConfig defines sandboxed execution settings.
type SandboxConfig struct {
	// BwrapPath overrides bubblewrap autodetection. The value "none"
	// selects plain-process mode with no isolation (development only).
	BwrapPath      string        `yaml:"bwrap_path"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	Workdir        string        `yaml:"workdir"`
}

// ListenersConfig caps listener fan-out per chat.
type ListenersConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	RatePerMinute int `yaml:"rate_per_minute"`
}

// FlowConfig defines conversation state settings.
type FlowConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	ConflictRetries int           `yaml:"conflict_retries"`
}

// SchedulerConfig defines periodic dispatch settings.
type SchedulerConfig struct {
	Tick        time.Duration `yaml:"tick"`
	JitterMax   time.Duration `yaml:"jitter_max"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// JournalConfig defines invocation journal retention.
type JournalConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines the ops HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines ops API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StatePath returns the SQLite database path under the data directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "majordomo.db")
}

// ArtifactDir returns the directory holding resolved service artifacts.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// RunDir returns the scratch directory for per-invocation sandbox workdirs.
func (c *Config) RunDir() string {
	if c.Sandbox.Workdir != "" {
		return c.Sandbox.Workdir
	}
	return filepath.Join(c.DataDir, "run")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "majordomo.lock")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Registry: RegistryConfig{
			Timeout:      10 * time.Second,
			DocumentTTL:  5 * time.Minute,
			FetchRetries: 3,
		},
		Snapshot: SnapshotConfig{
			TTL: 90 * time.Second,
		},
		Sandbox: SandboxConfig{
			DefaultTimeout: 8 * time.Second,
			MaxTimeout:     30 * time.Second,
		},
		Listeners: ListenersConfig{
			MaxConcurrent: 4,
			RatePerMinute: 20,
		},
		Flow: FlowConfig{
			TTL:             30 * time.Minute,
			ConflictRetries: 3,
		},
		Scheduler: SchedulerConfig{
			Tick:        time.Minute,
			JitterMax:   10 * time.Second,
			BackoffBase: 2 * time.Minute,
			BackoffMax:  2 * time.Hour,
		},
		Journal: JournalConfig{
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8321",
		},
	}
}
