// Package events defines the event types published on the pingcache event bus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Content events
	EventReload            EventType = "reload"
	EventMaintenanceChange EventType = "maintenance_changed"
	EventWhitelistChange   EventType = "whitelist_changed"

	// Occupancy events
	EventOccupancyUpdated EventType = "occupancy_updated"
	EventPlayersSet       EventType = "players_set"

	// Connection events
	EventImproperPing EventType = "improper_ping"
	EventLoginKicked  EventType = "login_kicked"

	// System events
	EventHealth            EventType = "health"
	EventShutdown          EventType = "shutdown"
	EventShutdownScheduled EventType = "shutdown_scheduled"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// New creates an event stamped with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// ReloadPayload describes a completed content rebuild.
type ReloadPayload struct {
	Generation int64         `json:"generation"`
	Holders    int           `json:"holders"`
	Bytes      int           `json:"bytes"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration_ns"`
}

// MaintenancePayload is emitted when maintenance mode is switched.
type MaintenancePayload struct {
	Enabled bool   `json:"enabled"`
	Actor   string `json:"actor"`
}

// ShutdownPayload is emitted when the shutdown scheduler is switched or
// stops the process.
type ShutdownPayload struct {
	Enabled bool   `json:"enabled"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason,omitempty"`
}

// WhitelistPayload is emitted when the kick whitelist changes.
type WhitelistPayload struct {
	Entry   string `json:"entry"`
	Added   bool   `json:"added"`
	Actor   string `json:"actor"`
	Entries int    `json:"entries"`
}

// OccupancyPayload carries the values patched into the holders.
type OccupancyPayload struct {
	Reported          int `json:"reported"`
	Online            int `json:"online"`
	Max               int `json:"max"`
	MaintenanceOnline int `json:"maintenance_online"`
	MaintenanceMax    int `json:"maintenance_max"`
	Failed            int `json:"failed"`
}

// PlayersPayload is emitted when the static player count is set.
type PlayersPayload struct {
	Count int    `json:"count"`
	Actor string `json:"actor"`
}

// ConnectionPayload describes a notable client connection.
type ConnectionPayload struct {
	Remote      string `json:"remote"`
	Protocol    int    `json:"protocol"`
	VirtualHost string `json:"virtual_host"`
	Reason      string `json:"reason"`
}

// HealthPayload carries the result of a health check round.
type HealthPayload struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency_ns"`
	CPU       float64       `json:"cpu_percent"`
	Memory    float64       `json:"memory_percent"`
	LastError string        `json:"last_error,omitempty"`
}
