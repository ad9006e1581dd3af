package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

var validKinds = map[string]bool{
	KindSingleCommand:   true,
	KindCommandFlow:     true,
	KindListener:        true,
	KindPeriodicCommand: true,
}

// ParseChatConfig decodes and structurally validates a chat config document.
func ParseChatConfig(data []byte) (*ChatConfig, error) {
	var cfg ChatConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("chat config is not valid JSON: %w", err)
	}
	if err := validateChatConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateChatConfig(cfg *ChatConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("chat config missing id")
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("chat config %q: invalid timezone %q", cfg.ID, cfg.Timezone)
		}
	}
	for i, b := range cfg.Services {
		if b.ServiceRef == "" {
			return fmt.Errorf("chat config %q: services[%d] missing service_ref", cfg.ID, i)
		}
	}
	for i, b := range cfg.Listeners {
		if b.ServiceRef == "" {
			return fmt.Errorf("chat config %q: listeners[%d] missing service_ref", cfg.ID, i)
		}
	}
	for i, b := range cfg.Periodic {
		if b.ServiceRef == "" {
			return fmt.Errorf("chat config %q: periodic[%d] missing service_ref", cfg.ID, i)
		}
		if b.Schedule == "" {
			return fmt.Errorf("chat config %q: periodic[%d] missing schedule", cfg.ID, i)
		}
	}
	return nil
}

// ParseServiceConfig decodes and structurally validates a service config
// document.
func ParseServiceConfig(data []byte) (*ServiceConfig, error) {
	var cfg ServiceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("service config is not valid JSON: %w", err)
	}
	if err := validateServiceConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateServiceConfig(cfg *ServiceConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("service config missing id")
	}
	if !validKinds[cfg.Kind] {
		return fmt.Errorf("service config %q: invalid kind %q", cfg.ID, cfg.Kind)
	}
	if err := validateSource(cfg.Source); err != nil {
		return fmt.Errorf("service config %q: %w", cfg.ID, err)
	}
	if cfg.Capabilities != nil {
		if cfg.Capabilities.TimeoutMs < 0 {
			return fmt.Errorf("service config %q: timeoutMs must not be negative", cfg.ID)
		}
		for _, h := range cfg.Capabilities.NetworkAllowlist {
			if h == "" {
				return fmt.Errorf("service config %q: empty host in networkAllowlist", cfg.ID)
			}
		}
	}
	for i, ref := range DatasetRefs(cfg.DefaultConfig) {
		if ref.Key == "" || ref.URL == "" || ref.Schema == "" {
			return fmt.Errorf("service config %q: datasets[%d] requires key, url and schema", cfg.ID, i)
		}
	}
	return nil
}

func validateSource(src Source) error {
	set := 0
	if src.Package != "" {
		set++
		if src.Version == "" {
			return fmt.Errorf("package source requires version")
		}
	}
	if src.Repo != "" {
		set++
		if src.Commit == "" {
			return fmt.Errorf("repo source requires a pinned commit")
		}
	}
	if src.URL != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("source must declare exactly one of package, repo, url")
	}
	return nil
}

// DatasetRefs extracts the dataset declarations from a (merged) service
// config. The declarations live under the "datasets" key as an array of
// {key, url, schema, ttl_seconds} objects; anything malformed is dropped
// silently here and caught by validation at load time.
func DatasetRefs(cfg map[string]any) []DatasetRef {
	raw, ok := cfg["datasets"]
	if !ok {
		return nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var refs []DatasetRef
	if err := json.Unmarshal(blob, &refs); err != nil {
		return nil
	}
	return refs
}
