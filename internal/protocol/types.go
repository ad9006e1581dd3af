package protocol

import (
	"encoding/json"
	"time"
)

// Version is the execution protocol version carried in every payload.
const Version = 1

// Event types.
const (
	EventCommand   = "command"
	EventCallback  = "callback"
	EventMessage   = "message"
	EventScheduled = "scheduled"
)

// Result kinds.
const (
	KindReply = "reply"
	KindEdit  = "edit"
	KindNone  = "none"
	KindError = "error"
)

// State directive operations.
const (
	OpClear   = "clear"
	OpReplace = "replace"
	OpMerge   = "merge"
)

// Sender identifies the chat user behind an inbound event.
type Sender struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
}

// Event is the tagged union describing what triggered an invocation.
// Type selects which of the remaining fields are meaningful.
type Event struct {
	Type      string            `json:"type"`
	Command   string            `json:"command,omitempty"`
	Args      string            `json:"args,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	MessageID int64             `json:"message_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	From      *Sender           `json:"from,omitempty"`
	FiredAt   time.Time         `json:"fired_at,omitzero"`
}

// NetworkGrant tells a sandboxed service how to reach its allowlisted hosts.
// All egress goes through the proxy socket; direct connections are impossible
// inside the sandbox.
type NetworkGrant struct {
	ProxySocket  string   `json:"proxy_socket"`
	AllowedHosts []string `json:"allowed_hosts"`
}

// Context carries everything a service may read during one invocation.
// Plain serializable data only; no live handles ever cross this boundary.
type Context struct {
	ChatID       string                     `json:"chat_id"`
	ServiceID    string                     `json:"service_id"`
	Locale       string                     `json:"locale,omitempty"`
	Timezone     string                     `json:"timezone,omitempty"`
	Config       map[string]any             `json:"config"`
	Datasets     map[string]json.RawMessage `json:"datasets,omitempty"`
	State        json.RawMessage            `json:"state,omitempty"`
	StateVersion int64                      `json:"state_version,omitempty"`
	Network      *NetworkGrant              `json:"network,omitempty"`
}

// Payload is the envelope written to a sandboxed service on stdin,
// one JSON line per invocation.
type Payload struct {
	Protocol     int     `json:"protocol"`
	InvocationID string  `json:"invocation_id"`
	Event        Event   `json:"event"`
	Context      Context `json:"context"`
}

// Button is one inline keyboard button returned by a service. The gateway
// encodes the callback data itself, so a service can only ever address its
// own callbacks.
type Button struct {
	Label  string            `json:"label"`
	Params map[string]string `json:"params,omitempty"`
}

// StateDirective tells the gateway how to mutate flow state after a run.
type StateDirective struct {
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Result is the single JSON document a service writes to stdout.
// Kind selects which of the remaining fields are required.
type Result struct {
	Kind      string          `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ParseMode string          `json:"parse_mode,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	Buttons   [][]Button      `json:"buttons,omitempty"`
	Message   string          `json:"message,omitempty"`
	State     *StateDirective `json:"state,omitempty"`
}
