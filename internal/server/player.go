package server

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/network"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// Hacks is the HackControl state sent to a player.
type Hacks struct {
	Flying         bool
	NoClip         bool
	Speeding       bool
	SpawnControl   bool
	ThirdPersonCam bool
	JumpHeight     int16
}

// DefaultHacks allows everything with the client's default jump height.
var DefaultHacks = Hacks{
	Flying: true, NoClip: true, Speeding: true, SpawnControl: true, ThirdPersonCam: true,
	JumpHeight: -1,
}

// Player is one client connection and, once logged in, its entity. The
// connection goroutine handles inbound packets; other goroutines only send
// to the player and read its state.
type Player struct {
	server  *Server
	conn    *network.Connection
	logger  zerolog.Logger
	catalog atomic.Pointer[protocol.Catalog]

	// sendMu keeps each send, and a whole level transfer, contiguous on
	// the wire.
	sendMu sync.Mutex

	// idleTicks counts ticks since the last inbound packet.
	idleTicks       atomic.Int64
	disconnectTicks atomic.Int64

	mu            sync.RWMutex
	state         State
	name          string
	software      string
	supportsCPE   bool
	clientExts    []protocol.Extension
	exts          []protocol.Extension
	pendingExts   int
	waitForBlocks bool
	blockLevel    uint8
	user          *db.User
	entity        *world.Entity
	level         *world.Level
	localChat     bool
	clickDistance float64
	heldBlock     byte
	hacks         Hacks

	// Touched only by the connection goroutine.
	storedMessage strings.Builder

	teardownOnce sync.Once
}

var (
	_ world.Viewer  = (*Player)(nil)
	_ plugin.Player = (*Player)(nil)
)

func newPlayer(s *Server, conn *network.Connection) *Player {
	p := &Player{
		server:        s,
		conn:          conn,
		logger:        conn.Logger().With().Str("component", "player").Logger(),
		clickDistance: plugin.DefaultClickDistance,
		hacks:         DefaultHacks,
	}
	p.catalog.Store(protocol.Negotiation())
	return p
}

// ID is the connection id of the player.
func (p *Player) ID() int { return p.conn.ID() }

func (p *Player) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Player) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

// Level returns the level the player is in, or nil.
func (p *Player) Level() *world.Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// Entity returns the player's entity, or nil before login.
func (p *Player) Entity() *world.Entity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entity
}

func (p *Player) Rank() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return db.RankDefault
	}
	return p.user.Rank
}

// HasRank implements plugin.Sender.
func (p *Player) HasRank(rank int) bool {
	return p.Rank() >= rank
}

func (p *Player) IsOperator() bool { return p.HasRank(db.RankOperator) }

func (p *Player) Software() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.software
}

// Supports reports whether ext was negotiated with an exact version match.
func (p *Player) Supports(ext protocol.Extension) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.supportsCPE {
		return false
	}
	for _, e := range p.exts {
		if e == ext {
			return true
		}
	}
	return false
}

// Extensions returns the negotiated extensions.
func (p *Player) Extensions() []protocol.Extension {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]protocol.Extension(nil), p.exts...)
}

// BlockSupportLevel is the negotiated CustomBlocks level.
func (p *Player) BlockSupportLevel() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blockLevel
}

// ConvertBlock applies the legacy block fallback for this client.
func (p *Player) ConvertBlock(b byte) byte {
	return world.ConvertBlock(b, p.BlockSupportLevel())
}

// LocalChat reports whether the player's chat stays in their level.
func (p *Player) LocalChat() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localChat
}

// SetLocalChat switches the chat mode and reports whether it changed.
func (p *Player) SetLocalChat(local bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localChat == local {
		return false
	}
	p.localChat = local
	return true
}

// Send encodes p with the connection's catalog and queues it. Packets the
// client did not negotiate are dropped.
func (p *Player) Send(pkt protocol.Packet) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.write(pkt)
}

// SendBatch queues pkts as a single write so nothing is interleaved.
func (p *Player) SendBatch(pkts []protocol.Packet) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.writeBatch(pkts)
}

// write and writeBatch expect sendMu to be held.
func (p *Player) write(pkt protocol.Packet) {
	data, err := protocol.Encode(p.catalog.Load(), pkt)
	if err != nil {
		p.logger.Debug().Err(err).Uint8("packet", pkt.ID()).Msg("dropping packet")
		return
	}
	if err := p.conn.Write(data); err != nil {
		p.logger.Debug().Err(err).Msg("send failed")
	}
}

func (p *Player) writeBatch(pkts []protocol.Packet) {
	c := p.catalog.Load()
	b := protocol.NewPacketBuilder()
	for _, pkt := range pkts {
		if err := protocol.EncodeTo(b, c, pkt); err != nil {
			p.logger.Debug().Err(err).Uint8("packet", pkt.ID()).Msg("dropping packet")
		}
	}
	if b.Len() == 0 {
		return
	}
	if err := p.conn.Write(b.Build()); err != nil {
		p.logger.Debug().Err(err).Msg("send failed")
	}
}

// adjustString replaces characters the client cannot display.
func (p *Player) adjustString(s string) string {
	if p.Supports(protocol.ExtFullCP437) {
		return s
	}
	return protocol.DowngradeCP437(s)
}

// SendMessage sends a chat message, wrapped to the client's line width.
func (p *Player) SendMessage(msg string) {
	p.SendTypedMessage(msg, 0)
}

// SendTypedMessage sends msg to a MessageTypes screen area. Clients without
// MessageTypes receive it as regular chat.
func (p *Player) SendTypedMessage(msg string, messageType int8) {
	if messageType != 0 && p.Supports(protocol.ExtMessageTypes) {
		p.Send(&protocol.Message{MessageType: messageType, Message: p.adjustString(msg)})
		return
	}
	lines := protocol.WrapMessage(msg)
	pkts := make([]protocol.Packet, len(lines))
	for i, line := range lines {
		pkts[i] = &protocol.Message{Message: p.adjustString(line)}
	}
	p.SendBatch(pkts)
}

// SetClickDistance changes the reach of a ClickDistance client.
func (p *Player) SetClickDistance(distance float64) bool {
	if !p.Supports(protocol.ExtClickDistance) {
		return false
	}
	p.mu.Lock()
	p.clickDistance = distance
	p.mu.Unlock()
	p.Send(&protocol.ClickDistance{Distance: distance})
	return true
}

// HoldBlock puts a block in the player's hand.
func (p *Player) HoldBlock(block byte, preventChange bool) bool {
	if !p.Supports(protocol.ExtHeldBlock) {
		return false
	}
	var lock uint8
	if preventChange {
		lock = 1
	}
	p.Send(&protocol.HoldThis{BlockToHold: p.ConvertBlock(block), PreventChange: lock})
	return true
}

// HeldBlock is the block last reported in the player's hand.
func (p *Player) HeldBlock() byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.heldBlock
}

// SetHotbar sets one hotbar slot.
func (p *Player) SetHotbar(block byte, index uint8) bool {
	if !p.Supports(protocol.ExtSetHotbar) {
		return false
	}
	p.Send(&protocol.SetHotbar{BlockID: p.ConvertBlock(block), Index: index})
	return true
}

// SetHacks changes the HackControl state.
func (p *Player) SetHacks(h Hacks) bool {
	if !p.Supports(protocol.ExtHackControl) {
		return false
	}
	p.mu.Lock()
	p.hacks = h
	p.mu.Unlock()
	p.Send(p.hackControlPacket())
	return true
}

func (p *Player) hackControlPacket() *protocol.HackControl {
	p.mu.RLock()
	h := p.hacks
	p.mu.RUnlock()
	b := func(v bool) uint8 {
		if v {
			return 1
		}
		return 0
	}
	return &protocol.HackControl{
		Flying: b(h.Flying), NoClip: b(h.NoClip), Speeding: b(h.Speeding),
		SpawnControl: b(h.SpawnControl), ThirdPersonCam: b(h.ThirdPersonCam),
		JumpHeight: h.JumpHeight,
	}
}

// userType is the handshake/SetRank value: 0x64 lets the client break
// bedrock.
func (p *Player) userType() uint8 {
	if p.IsOperator() {
		return 0x64
	}
	return 0
}

// sendOtherData sends rank dependent state: user type, hack control and
// block permissions.
func (p *Player) sendOtherData(includeRank bool) {
	var pkts []protocol.Packet
	if includeRank {
		pkts = append(pkts, &protocol.SetRank{Rank: p.userType()})
	}
	if p.Supports(protocol.ExtHackControl) {
		pkts = append(pkts, p.hackControlPacket())
	}
	if p.Supports(protocol.ExtBlockPermissions) {
		var allow uint8
		if p.IsOperator() {
			allow = 1
		}
		for _, b := range world.AdminBlocks() {
			pkts = append(pkts, &protocol.SetBlockPermission{BlockType: b, AllowPlace: allow, AllowBreak: allow})
		}
	}
	p.SendBatch(pkts)
}

// SetRank changes and persists the player's rank.
func (p *Player) SetRank(rank int) error {
	if err := p.server.users.SetRank(p.Name(), rank); err != nil {
		return err
	}
	p.mu.Lock()
	if p.user != nil {
		p.user.Rank = rank
	}
	p.mu.Unlock()
	p.sendOtherData(true)
	p.SendMessage("&eYour rank has been updated")
	p.server.notifyPlayerInfoUpdate(p)
	return nil
}

// SetModel changes the model of the player's entity and persists it.
func (p *Player) SetModel(model string) error {
	e := p.Entity()
	if e == nil {
		return nil
	}
	e.SetModel(model)
	p.server.notifyEntityModelChange(e)

	p.mu.Lock()
	var u db.User
	if p.user != nil {
		p.user.Model = model
		u = *p.user
	}
	p.mu.Unlock()
	if u.Name == "" {
		return nil
	}
	return p.server.users.Save(&u)
}

func (p *Player) reloadUser() {
	u, err := p.server.users.Load(p.Name())
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to reload user record")
		return
	}
	p.mu.Lock()
	p.user = u
	p.mu.Unlock()
	p.sendOtherData(true)
}

// Teleport moves the player and shows the move to everyone in the level,
// the player included.
func (p *Player) Teleport(pos world.Position) {
	e := p.Entity()
	if e == nil {
		return
	}
	e.Teleport(pos)
	p.server.notifyEntityTeleport(e)
}

// Disconnect sends the reason and marks the connection as disconnecting.
// The socket is closed by the client or, after a grace period, by the
// tick.
func (p *Player) Disconnect(reason string) {
	p.mu.Lock()
	if p.state >= StateDisconnecting {
		p.mu.Unlock()
		return
	}
	p.state = StateDisconnecting
	p.mu.Unlock()
	p.disconnectTicks.Store(0)
	p.server.releaseSeat(p)

	p.logger.Info().Str("player", p.Name()).Str("reason", reason).Msg("Disconnecting player")
	p.Send(&protocol.Disconnect{Reason: p.adjustString(reason)})
}

// saveLastPosition remembers where the player is in the current level.
func (p *Player) saveLastPosition() {
	e, l := p.Entity(), p.Level()
	if e == nil || l == nil {
		return
	}
	if err := p.server.users.SaveLastPosition(p.Name(), l.Name(), e.Position()); err != nil {
		p.logger.Warn().Err(err).Msg("failed to save last position")
	}
}

// teardown is the single exit path of a connection, whatever closed it.
func (p *Player) teardown(reason string) {
	p.teardownOnce.Do(func() {
		p.mu.Lock()
		entity, level := p.entity, p.level
		wasLoggedIn := entity != nil
		p.state = StateClosed
		p.mu.Unlock()

		p.conn.Close()

		if wasLoggedIn {
			p.saveLastPosition()
			if level != nil {
				p.server.notifyEntityRemoved(entity)
				level.RemoveEntity(entity)
			}
			p.mu.Lock()
			p.level = nil
			p.mu.Unlock()
		}
		p.server.removePlayer(p)

		if wasLoggedIn {
			p.server.notifyPlayerDisconnected(p)
			p.server.plugins.Disconnect(p)
			p.server.emit(events.EventPlayerDisconnected, events.PlayerPayload{
				Name:   p.Name(),
				ID:     p.ID(),
				IP:     p.conn.IP(),
				Reason: reason,
			})
		}
		p.logger.Info().Str("player", p.Name()).Str("reason", reason).Msg("Player disconnected")
	})
}

// Info returns a snapshot for the API and console.
func (p *Player) Info() PlayerInfo {
	p.mu.RLock()
	info := PlayerInfo{
		Name:        p.name,
		ID:          p.conn.ID(),
		IP:          p.conn.IP(),
		Software:    p.software,
		State:       p.state.String(),
		Extensions:  len(p.exts),
		ConnectedAt: p.conn.ConnectedAt(),
	}
	if p.user != nil {
		info.Rank = p.user.Rank
	}
	entity, level := p.entity, p.level
	p.mu.RUnlock()

	if level != nil {
		info.Level = level.Name()
	}
	if entity != nil {
		info.Model = entity.Model()
		info.Position = entity.Position()
	}
	return info
}
