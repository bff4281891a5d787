// Package events defines the events the game server publishes for its
// outer surfaces (telemetry, web console, CLI).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// EventAny subscribes a handler to every event type.
	EventAny EventType = "*"

	// Server lifecycle
	EventServerStarted  EventType = "server_started"
	EventServerStopping EventType = "server_stopping"
	EventServerStatus   EventType = "server_status"
	EventConfigReloaded EventType = "config_reloaded"
	EventHeartbeat      EventType = "heartbeat"
	EventLongTick       EventType = "long_tick"

	// Players
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerChat         EventType = "player_chat"
	EventPlayerCommand      EventType = "player_command"
	EventPlayerBanned       EventType = "player_banned"
	EventPlayerLevelChanged EventType = "player_level_changed"

	// Levels
	EventLevelCreated EventType = "level_created"
	EventLevelSaved   EventType = "level_saved"
	EventLevelChanged EventType = "level_changed"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// New creates an event stamped with the current time.
func New(t EventType, source string, payload interface{}) Event {
	return Event{Type: t, Source: source, Time: time.Now(), Payload: payload}
}

// PlayerPayload describes a player joining or leaving.
type PlayerPayload struct {
	Name     string `json:"name"`
	ID       int    `json:"id"`
	IP       string `json:"ip,omitempty"`
	Software string `json:"software,omitempty"`
	Level    string `json:"level,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ChatPayload is a chat line or a command.
type ChatPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Local   bool   `json:"local,omitempty"`
	Level   string `json:"level,omitempty"`
}

// BanPayload describes a ban.
type BanPayload struct {
	Name   string `json:"name"`
	IP     string `json:"ip,omitempty"`
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// LevelPayload describes a level event.
type LevelPayload struct {
	Name     string `json:"name"`
	SizeX    int    `json:"size_x,omitempty"`
	SizeY    int    `json:"size_y,omitempty"`
	SizeZ    int    `json:"size_z,omitempty"`
	Property string `json:"property,omitempty"`
	Value    string `json:"value,omitempty"`
}

// LongTickPayload reports a tick that overran its budget.
type LongTickPayload struct {
	Duration time.Duration `json:"duration_ns"`
	Budget   time.Duration `json:"budget_ns"`
	Players  int           `json:"players"`
}

// HeartbeatPayload reports the outcome of a master server heartbeat.
type HeartbeatPayload struct {
	JoinURL string `json:"join_url,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
