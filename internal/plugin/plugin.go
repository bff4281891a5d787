// Package plugin defines the hooks server extensions can implement and the
// dispatcher that aggregates their verdicts.
package plugin

import (
	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// Result is a hook verdict.
type Result struct {
	Denied bool
	Reason string
}

// Allow lets the action proceed.
func Allow() Result { return Result{} }

// Deny blocks the action. reason may be shown to the player.
func Deny(reason string) Result { return Result{Denied: true, Reason: reason} }

// Allowed reports whether the verdict lets the action proceed.
func (r Result) Allowed() bool { return !r.Denied }

// Sender is anything that can run commands: a player or the console.
type Sender interface {
	Name() string
	HasRank(rank int) bool
	SendMessage(msg string)
}

// Player is the view of a logged in player that plugins get.
type Player interface {
	Sender
	Supports(ext protocol.Extension) bool
	Extensions() []protocol.Extension
	SendTypedMessage(msg string, messageType int8)
	SetClickDistance(distance float64) bool
	HoldBlock(block byte, preventChange bool) bool
	SetHotbar(block byte, index uint8) bool
}

// Host is what a plugin can reach of the server while loaded.
type Host interface {
	Logger() zerolog.Logger
	Broadcast(msg string)
	Extensions() []protocol.Extension
}

// Plugin is a server extension.
type Plugin interface {
	Name() string
	Load(host Host) error
	Unload()
}

// LoginHook runs after a player logged in. Deny disconnects the player
// with the reason.
type LoginHook interface {
	OnLogin(p Player) Result
}

// DisconnectHook runs after a player left.
type DisconnectHook interface {
	OnDisconnect(p Player)
}

// MessageHook runs before a chat message is broadcast.
type MessageHook interface {
	OnMessage(p Player, msg string) Result
}

// MoveHook runs before a position update is accepted. Deny snaps the player
// back.
type MoveHook interface {
	OnMove(p Player, to world.Position) Result
}

// BlockEdit is a block change requested by a player.
type BlockEdit struct {
	Level   string
	X, Y, Z int
	Place   bool
	Block   byte
	Old     byte
}

// BlockEditHook runs before a block edit is applied. Deny reverts the block
// on the player's client.
type BlockEditHook interface {
	OnBlockEdit(p Player, edit BlockEdit) Result
}

// CommandProvider contributes commands. A command with the name of an
// existing one replaces it.
type CommandProvider interface {
	Commands() []Command
}
