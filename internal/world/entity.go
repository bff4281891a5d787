package world

import (
	"sync"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

// DefaultModel is the model every new entity starts with.
const DefaultModel = "humanoid"

// Position is an absolute position in block units plus rotation in degrees.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Viewer is a connection that can be shown level data and entities.
type Viewer interface {
	Supports(ext protocol.Extension) bool
	ConvertBlock(b byte) byte
	Send(p protocol.Packet)
	SendBatch(pkts []protocol.Packet)
}

// Entity is anything with a position in a level. Player entities have an
// owner; the owner sees its own entity under protocol.SelfID.
type Entity struct {
	mu        sync.Mutex
	id        uint8
	name      string
	skin      string
	model     string
	pos       Position
	broadcast Position
	level     *Level
	owner     Viewer
}

// NewEntity creates an entity. owner may be nil.
func NewEntity(name string, owner Viewer) *Entity {
	return &Entity{name: name, skin: name, model: DefaultModel, owner: owner}
}

func (e *Entity) ID() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Entity) Name() string  { return e.name }
func (e *Entity) Skin() string  { return e.skin }
func (e *Entity) Owner() Viewer { return e.owner }

func (e *Entity) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// SetModel changes the model. Callers notify viewers with ModelPacket.
func (e *Entity) SetModel(model string) {
	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
}

func (e *Entity) Position() Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// Level returns the level the entity is in, or nil.
func (e *Entity) Level() *Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Move records a new position. Viewers learn about it on the next
// position sync.
func (e *Entity) Move(pos Position) {
	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()
}

// Teleport places the entity and marks the position as already broadcast;
// the caller sends the position packet to every viewer including the owner.
func (e *Entity) Teleport(pos Position) {
	e.mu.Lock()
	e.pos = pos
	e.broadcast = pos
	e.mu.Unlock()
}

// takeMove returns the current position if it differs from the last
// broadcast one, and records it as broadcast.
func (e *Entity) takeMove() (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == e.broadcast {
		return e.pos, false
	}
	e.broadcast = e.pos
	return e.pos, true
}

func (e *Entity) attach(l *Level, id uint8) {
	e.mu.Lock()
	e.level = l
	e.id = id
	e.mu.Unlock()
}

func (e *Entity) detach() {
	e.mu.Lock()
	e.level = nil
	e.mu.Unlock()
}

// IDFor returns the wire ID of the entity as seen by v.
func (e *Entity) IDFor(v Viewer) uint8 {
	if e.owner != nil && e.owner == v {
		return protocol.SelfID
	}
	return e.ID()
}

// PositionPacket is the absolute position of the entity as seen by v.
func (e *Entity) PositionPacket(v Viewer) *protocol.PlayerPosition {
	pos := e.Position()
	return &protocol.PlayerPosition{
		PlayerID: e.IDFor(v),
		X:        pos.X, Y: pos.Y, Z: pos.Z,
		Yaw: pos.Yaw, Pitch: pos.Pitch,
	}
}

// AddedPackets spawns the entity for v.
func (e *Entity) AddedPackets(v Viewer) []protocol.Packet {
	pos := e.Position()
	id := e.IDFor(v)
	var pkts []protocol.Packet
	if v.Supports(protocol.ExtPlayerList) {
		pkts = append(pkts, &protocol.ExtAddEntity2{
			EntityID:   id,
			InGameName: e.name,
			SkinName:   e.skin,
			X:          pos.X, Y: pos.Y, Z: pos.Z,
			Yaw: pos.Yaw, Pitch: pos.Pitch,
		})
	} else {
		pkts = append(pkts, &protocol.AddPlayer{
			PlayerID:   id,
			PlayerName: e.name,
			X:          pos.X, Y: pos.Y, Z: pos.Z,
			Yaw: pos.Yaw, Pitch: pos.Pitch,
		})
	}
	if mp := e.ModelPacket(v); mp != nil {
		pkts = append(pkts, mp)
	}
	return pkts
}

// RemovedPacket despawns the entity for v.
func (e *Entity) RemovedPacket(v Viewer) protocol.Packet {
	return &protocol.RemovePlayer{PlayerID: int8(e.IDFor(v))}
}

// ModelPacket returns the model change packet, or nil if v cannot see models.
func (e *Entity) ModelPacket(v Viewer) protocol.Packet {
	if !v.Supports(protocol.ExtChangeModel) {
		return nil
	}
	return &protocol.ChangeModel{EntityID: e.IDFor(v), Model: e.Model()}
}
