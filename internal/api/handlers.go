package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/majordomo/internal/registry"
	"github.com/mattjoyce/majordomo/internal/snapshot"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		SnapshotsCached: len(s.snapshots.Known()),
	})
}

// handleGetSnapshot handles GET /api/v1/chats/{chatID}/snapshot.
// A cache miss triggers a build, so this also answers "what would this chat
// resolve to right now".
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	snap, err := s.snapshots.Get(r.Context(), chatID)
	if err != nil {
		s.logger.Error("snapshot lookup failed", "chat_id", chatID, "error", err)
		s.writeError(w, http.StatusBadGateway, "snapshot unavailable: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, summarizeSnapshot(snap))
}

// handleInvalidateSnapshot handles DELETE /api/v1/chats/{chatID}/snapshot.
// Idempotent; the next inbound event for the chat rebuilds.
func (s *Server) handleInvalidateSnapshot(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	s.snapshots.Invalidate(chatID)
	w.WriteHeader(http.StatusNoContent)
}

// handleJournal handles GET /api/v1/journal?chat=&limit=.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), chatID, limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}

	resp := JournalResponse{Entries: make([]JournalEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, JournalEntryResponse{
			ID:          e.ID,
			ChatID:      e.ChatID,
			ServiceID:   e.ServiceID,
			Kind:        e.Kind,
			Trigger:     e.Trigger,
			Status:      e.Status,
			Error:       e.Error,
			StartedAt:   e.StartedAt,
			CompletedAt: e.CompletedAt,
			DurationMS:  e.Duration().Milliseconds(),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func summarizeSnapshot(snap *snapshot.Snapshot) SnapshotSummary {
	out := SnapshotSummary{
		ChatID:   snap.ChatID,
		BuiltAt:  snap.BuiltAt,
		Locale:   snap.Locale,
		Timezone: snap.Timezone,
		Commands: make(map[string]RouteSummary, len(snap.Commands)),
	}
	for cmd, route := range snap.Commands {
		out.Commands[cmd] = summarizeRoute(route)
	}
	for _, route := range snap.Listeners {
		out.Listeners = append(out.Listeners, summarizeRoute(route))
	}
	for _, route := range snap.Periodic {
		out.Periodic = append(out.Periodic, PeriodicSummary{
			RouteSummary: summarizeRoute(route.Route),
			Schedule:     route.Schedule,
		})
	}
	return out
}

func summarizeRoute(route snapshot.Route) RouteSummary {
	return RouteSummary{
		ServiceID: route.ServiceID,
		ShortID:   route.ShortID,
		Kind:      route.Kind,
		Expose:    route.Expose,
		AdminOnly: route.AdminOnly,
		Datasets:  datasetKeys(route.Datasets),
	}
}

func datasetKeys(refs []registry.DatasetRef) []string {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Key)
	}
	sort.Strings(keys)
	return keys
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
