package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	SnapshotsCached int    `json:"snapshots_cached"`
}

// RouteSummary is the redacted view of one resolved route. Merged config
// values never leave the gateway; only routing metadata is exposed.
type RouteSummary struct {
	ServiceID string   `json:"service_id"`
	ShortID   string   `json:"short_id"`
	Kind      string   `json:"kind"`
	Expose    bool     `json:"expose,omitempty"`
	AdminOnly bool     `json:"admin_only,omitempty"`
	Datasets  []string `json:"datasets,omitempty"`
}

// PeriodicSummary is a RouteSummary plus its cron schedule.
type PeriodicSummary struct {
	RouteSummary
	Schedule string `json:"schedule"`
}

// SnapshotSummary is returned by GET /api/v1/chats/{chatID}/snapshot.
type SnapshotSummary struct {
	ChatID    string                  `json:"chat_id"`
	BuiltAt   time.Time               `json:"built_at"`
	Locale    string                  `json:"locale,omitempty"`
	Timezone  string                  `json:"timezone,omitempty"`
	Commands  map[string]RouteSummary `json:"commands"`
	Listeners []RouteSummary          `json:"listeners,omitempty"`
	Periodic  []PeriodicSummary       `json:"periodic,omitempty"`
}

// JournalEntryResponse is one invocation record in GET /api/v1/journal.
type JournalEntryResponse struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	ServiceID   string    `json:"service_id"`
	Kind        string    `json:"kind"`
	Trigger     string    `json:"trigger"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// JournalResponse is returned by GET /api/v1/journal.
type JournalResponse struct {
	Entries []JournalEntryResponse `json:"entries"`
}

// EventResponse is one buffered ops event in GET /api/v1/events.
type EventResponse struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// EventsResponse is returned by GET /api/v1/events.
type EventsResponse struct {
	Events []EventResponse `json:"events"`
}
