package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the gateway configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $MAJORDOMO_CONFIG, ~/.config/majordomo/config.yaml,
// /etc/majordomo/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("MAJORDOMO_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "majordomo", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/majordomo/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $MAJORDOMO_CONFIG, ~/.config/majordomo, /etc/majordomo, ./config.yaml)")
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = defaults.Registry.Timeout
	}
	if cfg.Registry.DocumentTTL == 0 {
		cfg.Registry.DocumentTTL = defaults.Registry.DocumentTTL
	}
	if cfg.Registry.FetchRetries == 0 {
		cfg.Registry.FetchRetries = defaults.Registry.FetchRetries
	}

	if cfg.Snapshot.TTL == 0 {
		cfg.Snapshot.TTL = defaults.Snapshot.TTL
	}

	if cfg.Sandbox.DefaultTimeout == 0 {
		cfg.Sandbox.DefaultTimeout = defaults.Sandbox.DefaultTimeout
	}
	if cfg.Sandbox.MaxTimeout == 0 {
		cfg.Sandbox.MaxTimeout = defaults.Sandbox.MaxTimeout
	}

	if cfg.Listeners.MaxConcurrent == 0 {
		cfg.Listeners.MaxConcurrent = defaults.Listeners.MaxConcurrent
	}
	if cfg.Listeners.RatePerMinute == 0 {
		cfg.Listeners.RatePerMinute = defaults.Listeners.RatePerMinute
	}

	if cfg.Flow.TTL == 0 {
		cfg.Flow.TTL = defaults.Flow.TTL
	}
	if cfg.Flow.ConflictRetries == 0 {
		cfg.Flow.ConflictRetries = defaults.Flow.ConflictRetries
	}

	if cfg.Scheduler.Tick == 0 {
		cfg.Scheduler.Tick = defaults.Scheduler.Tick
	}
	if cfg.Scheduler.JitterMax == 0 {
		cfg.Scheduler.JitterMax = defaults.Scheduler.JitterMax
	}
	if cfg.Scheduler.BackoffBase == 0 {
		cfg.Scheduler.BackoffBase = defaults.Scheduler.BackoffBase
	}
	if cfg.Scheduler.BackoffMax == 0 {
		cfg.Scheduler.BackoffMax = defaults.Scheduler.BackoffMax
	}

	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// requireResolved reports an unresolved ${VAR} placeholder in a config value.
func requireResolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	// Transport validation
	if cfg.Transport.Telegram.Token == "" {
		return fmt.Errorf("transport.telegram.token is required")
	}
	if err := requireResolved("transport.telegram.token", cfg.Transport.Telegram.Token); err != nil {
		return err
	}

	// Registry validation
	if cfg.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	base, err := url.Parse(cfg.Registry.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("registry.base_url must be an http(s) URL (got %q)", cfg.Registry.BaseURL)
	}
	if cfg.Registry.DefaultChatConfig == "" {
		return fmt.Errorf("registry.default_chat_config is required")
	}
	if cfg.Registry.Timeout <= 0 {
		return fmt.Errorf("registry.timeout must be positive")
	}
	if cfg.Registry.FetchRetries < 1 {
		return fmt.Errorf("registry.fetch_retries must be at least 1")
	}

	// Snapshot validation
	if cfg.Snapshot.TTL <= 0 {
		return fmt.Errorf("snapshot.ttl must be positive")
	}

	// Sandbox validation
	if cfg.Sandbox.DefaultTimeout <= 0 {
		return fmt.Errorf("sandbox.default_timeout must be positive")
	}
	if cfg.Sandbox.MaxTimeout < cfg.Sandbox.DefaultTimeout {
		return fmt.Errorf("sandbox.max_timeout must be at least sandbox.default_timeout")
	}

	// Listener validation
	if cfg.Listeners.MaxConcurrent < 1 {
		return fmt.Errorf("listeners.max_concurrent must be at least 1")
	}
	if cfg.Listeners.RatePerMinute < 1 {
		return fmt.Errorf("listeners.rate_per_minute must be at least 1")
	}

	// Flow validation
	if cfg.Flow.TTL <= 0 {
		return fmt.Errorf("flow.ttl must be positive")
	}
	if cfg.Flow.ConflictRetries < 1 {
		return fmt.Errorf("flow.conflict_retries must be at least 1")
	}

	// Scheduler validation
	if cfg.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be positive")
	}
	if cfg.Scheduler.JitterMax < 0 {
		return fmt.Errorf("scheduler.jitter_max must not be negative")
	}
	if cfg.Scheduler.JitterMax >= cfg.Scheduler.Tick {
		return fmt.Errorf("scheduler.jitter_max must be shorter than scheduler.tick")
	}
	if cfg.Scheduler.BackoffBase <= 0 {
		return fmt.Errorf("scheduler.backoff_base must be positive")
	}
	if cfg.Scheduler.BackoffMax < cfg.Scheduler.BackoffBase {
		return fmt.Errorf("scheduler.backoff_max must be at least scheduler.backoff_base")
	}

	// Journal validation
	if cfg.Journal.Retention <= 0 {
		return fmt.Errorf("journal.retention must be positive")
	}

	// API auth validation
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth.tokens must be non-empty when api.enabled is true")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := requireResolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}
