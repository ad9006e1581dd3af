package registry

// Service kinds form a closed set. A document declaring anything else is
// rejected at load time, never routed around.
const (
	KindSingleCommand   = "single_command"
	KindCommandFlow     = "command_flow"
	KindListener        = "listener"
	KindPeriodicCommand = "periodic_command"
)

// ServiceBinding attaches a service to a chat with chat-specific overrides.
type ServiceBinding struct {
	ServiceRef string         `json:"service_ref"`
	Overrides  map[string]any `json:"overrides,omitempty"`
	Expose     bool           `json:"expose"`
	AdminOnly  bool           `json:"admin_only,omitempty"`
}

// ListenerBinding attaches a listener service to a chat's message stream.
type ListenerBinding struct {
	ServiceRef string         `json:"service_ref"`
	Enabled    bool           `json:"enabled"`
	Overrides  map[string]any `json:"overrides,omitempty"`
}

// PeriodicBinding attaches a periodic service with a five-field cron schedule.
type PeriodicBinding struct {
	ServiceRef string         `json:"service_ref"`
	Schedule   string         `json:"schedule"`
	Overrides  map[string]any `json:"overrides,omitempty"`
}

// ChatConfig is a chat's published configuration document. Documents are
// immutable: a change is published as a new document and the chat repointed,
// never patched in place.
type ChatConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Locale    string            `json:"locale,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`
	Services  []ServiceBinding  `json:"services,omitempty"`
	Listeners []ListenerBinding `json:"listeners,omitempty"`
	Periodic  []PeriodicBinding `json:"periodic,omitempty"`
}

// Source locates a service's executable artifact. Exactly one of Package,
// Repo, or URL is set; all three resolve to an immutable artifact.
type Source struct {
	Package string `json:"package,omitempty"`
	Version string `json:"version,omitempty"`
	Repo    string `json:"repo,omitempty"`
	Commit  string `json:"commit,omitempty"`
	URL     string `json:"url,omitempty"`
	// ContentHash optionally pins the artifact to a blake3 hex digest.
	ContentHash string `json:"content_hash,omitempty"`
}

// Capabilities is the per-service permission declaration. Absence of a field
// means zero grant of that kind; the default is deny-all.
type Capabilities struct {
	AllowNetwork     bool     `json:"allowNetwork,omitempty"`
	NetworkAllowlist []string `json:"networkAllowlist,omitempty"`
	TimeoutMs        int      `json:"timeoutMs,omitempty"`
	Env              []string `json:"env,omitempty"`
	Read             []string `json:"read,omitempty"`
	Write            []string `json:"write,omitempty"`
}

// DatasetRef declares a dataset a service wants resolved before invocation.
type DatasetRef struct {
	Key        string `json:"key"`
	URL        string `json:"url"`
	Schema     string `json:"schema"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// ServiceConfig is a service's published configuration document.
type ServiceConfig struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Kind          string         `json:"kind"`
	Source        Source         `json:"source"`
	Capabilities  *Capabilities  `json:"capabilities,omitempty"`
	DefaultConfig map[string]any `json:"default_config,omitempty"`
}

// MergeConfig applies chat-specific overrides onto a service's default
// config: shallow key overwrite, override wins. Neither input is mutated.
func MergeConfig(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
