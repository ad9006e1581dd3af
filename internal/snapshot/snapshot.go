package snapshot

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/majordomo/internal/registry"
)

// shortIDLen is the number of hex characters in a short service id, the
// compact form carried inside inline-button callback data.
const shortIDLen = 8

// Route is one resolved binding: everything dispatch needs to invoke the
// service without further registry round-trips.
type Route struct {
	ServiceID    string
	ShortID      string
	Kind         string
	Expose       bool
	AdminOnly    bool
	Capabilities *registry.Capabilities
	Config       map[string]any
	Datasets     []registry.DatasetRef
	Source       registry.Source
}

// PeriodicRoute is a Route plus its cron schedule.
type PeriodicRoute struct {
	Route
	Schedule string
}

// Snapshot is the per-chat routing projection, derived purely from the
// chat's config document and its referenced service documents.
type Snapshot struct {
	ChatID   string
	BuiltAt  time.Time
	Locale   string
	Timezone string

	// Commands maps lowercase command tokens to their routes.
	Commands map[string]Route
	// Listeners fan out on every plain message, in binding order.
	Listeners []Route
	// Periodic are cron-scheduled routes evaluated by the scheduler.
	Periodic []PeriodicRoute
	// ShortIDs resolves callback short ids back to full service ids.
	ShortIDs map[string]string
}

// ShortServiceID derives the stable compact id for a service. Derived only
// from the service id, so it survives snapshot rebuilds and old inline
// buttons keep resolving.
func ShortServiceID(serviceID string) string {
	sum := blake3.Sum256([]byte(serviceID))
	return hex.EncodeToString(sum[:])[:shortIDLen]
}

// Lookup returns the route for a short id, if the snapshot knows it.
func (s *Snapshot) Lookup(shortID string) (Route, bool) {
	serviceID, ok := s.ShortIDs[shortID]
	if !ok {
		return Route{}, false
	}
	for _, r := range s.Commands {
		if r.ServiceID == serviceID {
			return r, true
		}
	}
	for _, r := range s.Listeners {
		if r.ServiceID == serviceID {
			return r, true
		}
	}
	for _, r := range s.Periodic {
		if r.ServiceID == serviceID {
			return r.Route, true
		}
	}
	return Route{}, false
}
