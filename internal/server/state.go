// Package server implements the session registry: accepted connections,
// the per-player state machine, levels, the periodic tick and the command
// set.
package server

import (
	"time"

	"github.com/cubeforge-project/cubeforge/internal/world"
)

// State is the lifecycle position of a player connection.
type State int32

const (
	StateConnected State = iota
	StateHandshakeReceived
	StateNegotiating
	StateLoggedIn
	StateDisconnecting
	StateClosed
)

var stateNames = map[State]string{
	StateConnected:         "connected",
	StateHandshakeReceived: "handshake_received",
	StateNegotiating:       "negotiating",
	StateLoggedIn:          "logged_in",
	StateDisconnecting:     "disconnecting",
	StateClosed:            "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// PlayerInfo is a point-in-time view of a player for the API and console.
type PlayerInfo struct {
	Name        string         `json:"name"`
	ID          int            `json:"id"`
	IP          string         `json:"ip"`
	Software    string         `json:"software"`
	State       string         `json:"state"`
	Level       string         `json:"level,omitempty"`
	Rank        int            `json:"rank"`
	Model       string         `json:"model,omitempty"`
	Extensions  int            `json:"extensions"`
	Position    world.Position `json:"position"`
	ConnectedAt time.Time      `json:"connected_at"`
}

// LevelInfo describes a loaded level.
type LevelInfo struct {
	Name     string `json:"name"`
	SizeX    int    `json:"size_x"`
	SizeY    int    `json:"size_y"`
	SizeZ    int    `json:"size_z"`
	Players  int    `json:"players"`
	Entities int    `json:"entities"`
	Weather  string `json:"weather"`
	Textures string `json:"textures,omitempty"`
	Dirty    bool   `json:"dirty"`
}

// Status summarizes the server for the status API and the heartbeat.
type Status struct {
	Name       string    `json:"name"`
	MOTD       string    `json:"motd"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	Levels     int       `json:"levels"`
	Ticks      uint64    `json:"ticks"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     string    `json:"uptime"`
}
