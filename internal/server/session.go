package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// EntitySpawnDelay is how long after a level transfer the other entities of
// the level are sent, giving the client time to process LevelEnd.
const EntitySpawnDelay = 50 * time.Millisecond

// spawnEyeOffset lifts a spawn block coordinate to the player's eye height.
const spawnEyeOffset = 1.59375

const webClientReply = "Web clients aren't supported yet!"

// serve reads and handles packets in arrival order until the connection
// closes.
func (p *Player) serve(ctx context.Context) {
	reason := "Connection closed"
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("connection handler panicked")
			reason = "Internal error"
		}
		p.teardown(reason)
	}()

	br := bufio.NewReader(p.conn)
	if head, err := br.Peek(3); err == nil && string(head) == "GET" {
		p.logger.Debug().Msg("rejecting web client")
		p.conn.Write([]byte(webClientReply))
		p.conn.Flush(time.Second)
		reason = "Web client"
		return
	}

	reader := protocol.NewPacketReader(br, p.catalog.Load())
	for {
		pkt, err := reader.Next()
		if err != nil {
			reason = p.readFailed(reader, err)
			p.drain(br)
			return
		}
		p.idleTicks.Store(0)
		p.handlePacket(pkt, reader)

		if p.State() >= StateDisconnecting {
			p.drain(br)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// readFailed turns a read error into a disconnect and returns the reason.
func (p *Player) readFailed(reader *protocol.PacketReader, err error) string {
	var unknown *protocol.UnknownPacketError
	switch {
	case errors.As(err, &unknown):
		reason := fmt.Sprintf("Invalid packet %d", unknown.ID)
		p.Disconnect(reason)
		return reason
	case errors.Is(err, protocol.ErrEndOfStream):
		reason := fmt.Sprintf("End of stream (reading packet %d)", reader.LastID())
		p.Disconnect(reason)
		return reason
	case errors.Is(err, io.EOF):
		return "Connection closed"
	}
	p.logger.Debug().Err(err).Msg("read failed")
	return "Connection lost"
}

// drain discards input until the client or the tick closes the socket, so
// the disconnect packet can still be delivered.
func (p *Player) drain(r io.Reader) {
	if p.State() < StateDisconnecting {
		return
	}
	io.Copy(io.Discard, r)
}

func (p *Player) handlePacket(pkt protocol.Packet, reader *protocol.PacketReader) {
	switch pkt := pkt.(type) {
	case *protocol.Handshake:
		p.handleHandshake(pkt, reader)
	case *protocol.ExtInfo:
		p.handleExtInfo(pkt, reader)
	case *protocol.ExtEntry:
		p.handleExtEntry(pkt, reader)
	case *protocol.CustomBlockSupportLevel:
		p.handleCustomBlockSupportLevel(pkt)
	case *protocol.PlayerPosition:
		p.handlePosition(pkt)
	case *protocol.Message:
		p.handleMessage(pkt)
	case *protocol.SetBlockClient:
		p.handleSetBlock(pkt)
	case *protocol.PlayerClicked:
		p.logger.Trace().
			Uint8("button", pkt.Button).
			Uint8("action", pkt.Action).
			Int8("target", pkt.TargetEntity).
			Msg("player clicked")
	default:
		p.logger.Debug().Uint8("packet", pkt.ID()).Msg("ignoring packet")
	}
}

func (p *Player) handleHandshake(h *protocol.Handshake, reader *protocol.PacketReader) {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		p.Disconnect("You need to log in!")
		return
	}
	p.state = StateHandshakeReceived
	p.name = h.Name
	p.mu.Unlock()

	p.logger = p.logger.With().Str("player", h.Name).Logger()

	if reason, ok := p.server.checkHandshake(p, h); !ok {
		p.Disconnect(reason)
		return
	}

	if h.SupportByte == protocol.CPESupportByte {
		p.mu.Lock()
		p.supportsCPE = true
		p.state = StateNegotiating
		p.pendingExts = -1
		p.mu.Unlock()
		p.server.sendExtensionInfo(p)
		return
	}

	p.mu.Lock()
	p.software = "Vanilla"
	p.mu.Unlock()
	p.useCatalog(protocol.Vanilla(), reader)
	p.login()
}

func (p *Player) handleExtInfo(info *protocol.ExtInfo, reader *protocol.PacketReader) {
	p.mu.Lock()
	if p.state != StateNegotiating || p.pendingExts >= 0 {
		p.mu.Unlock()
		return
	}
	p.software = info.Software
	p.pendingExts = int(info.ExtensionCount)
	done := p.pendingExts == 0
	p.mu.Unlock()

	p.logger.Debug().
		Str("software", info.Software).
		Uint16("extensions", info.ExtensionCount).
		Msg("client extension info")
	if done {
		p.finishNegotiation(reader)
	}
}

func (p *Player) handleExtEntry(entry *protocol.ExtEntry, reader *protocol.PacketReader) {
	p.mu.Lock()
	if p.state != StateNegotiating || p.pendingExts <= 0 {
		p.mu.Unlock()
		return
	}
	p.clientExts = append(p.clientExts, protocol.Extension{Name: entry.ExtName, Version: entry.Version})
	p.pendingExts--
	done := p.pendingExts == 0
	p.mu.Unlock()

	if done {
		p.finishNegotiation(reader)
	}
}

// finishNegotiation settles the extension set once every entry arrived.
func (p *Player) finishNegotiation(reader *protocol.PacketReader) {
	p.mu.Lock()
	client := p.clientExts
	p.mu.Unlock()

	negotiated := p.server.negotiated(client)
	p.mu.Lock()
	p.exts = negotiated
	p.mu.Unlock()

	for _, req := range p.server.cfg.GetServer().RequiredExtensions {
		if !p.Supports(req) {
			p.Disconnect(fmt.Sprintf("Your client doesn't support %s v%d!", req.Name, req.Version))
			return
		}
	}

	p.useCatalog(p.server.catalogs.For(negotiated), reader)
	if p.Supports(protocol.ExtCustomBlocks) {
		p.mu.Lock()
		p.waitForBlocks = true
		p.mu.Unlock()
		return
	}
	p.login()
}

func (p *Player) handleCustomBlockSupportLevel(pkt *protocol.CustomBlockSupportLevel) {
	p.mu.Lock()
	p.blockLevel = min(pkt.SupportLevel, 1)
	waiting := p.waitForBlocks
	p.waitForBlocks = false
	p.mu.Unlock()
	if waiting {
		p.login()
	}
}

// useCatalog switches both directions of the connection to c.
func (p *Player) useCatalog(c *protocol.Catalog, reader *protocol.PacketReader) {
	p.catalog.Store(c)
	if reader != nil {
		reader.SetCatalog(c)
	}
	p.logger.Debug().Str("catalog", c.Name()).Msg("protocol catalog selected")
}

// login completes the handshake and places the player in the main level.
func (p *Player) login() {
	s := p.server
	scfg := s.cfg.GetServer()
	name := p.Name()

	if p.State() >= StateDisconnecting {
		return
	}
	if !s.reserveSeat(p, scfg.MaxPlayers) {
		p.Disconnect(fmt.Sprintf("Server is full! (max %d)", scfg.MaxPlayers))
		return
	}

	user, err := s.users.Load(name)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to load user record, using defaults")
		user = &db.User{Name: name, Rank: db.RankDefault, Model: world.DefaultModel}
	}
	entity := world.NewEntity(name, p)
	if user.Model != "" {
		entity.SetModel(user.Model)
	}

	p.mu.Lock()
	p.user = user
	p.entity = entity
	p.state = StateLoggedIn
	software := p.software
	cpe := p.supportsCPE
	p.mu.Unlock()

	p.logger.Info().
		Str("software", software).
		Bool("cpe", cpe).
		Int("extensions", len(p.Extensions())).
		Msg("Player logged in")

	s.kickCollisions(p)
	p.Send(&protocol.Handshake{
		ProtocolVersion: protocol.Version,
		Name:            scfg.Name,
		Key:             scfg.MOTD,
		SupportByte:     p.userType(),
	})

	if err := s.SendPlayerToLevel(p, scfg.MainLevel); err != nil {
		p.logger.Error().Err(err).Str("level", scfg.MainLevel).Msg("failed to send player to main level")
		p.Disconnect("The main level is unavailable")
		return
	}
	p.sendOtherData(false)
	s.notifyPlayerConnected(p)

	if res := s.plugins.Login(p); !res.Allowed() {
		p.Disconnect(res.Reason)
		return
	}
	s.emit(events.EventPlayerConnected, events.PlayerPayload{
		Name:     name,
		ID:       p.ID(),
		IP:       p.conn.IP(),
		Software: software,
		Level:    scfg.MainLevel,
	})
}

// sendToLevel moves the player into l: out of the old level, into the new
// one, then the level transfer.
func (p *Player) sendToLevel(l *world.Level) error {
	e := p.Entity()
	if old := p.Level(); old != nil {
		p.saveLastPosition()
		p.server.notifyEntityRemoved(e)
		old.RemoveEntity(e)
		p.mu.Lock()
		p.level = nil
		p.mu.Unlock()
	}
	if err := l.AddEntity(e); err != nil {
		return fmt.Errorf("failed to join level %s: %w", l.Name(), err)
	}

	p.transferLevel(l)
	p.server.notifyPlayerInfoUpdate(p)
	p.server.emit(events.EventPlayerLevelChanged, events.PlayerPayload{Name: p.Name(), ID: p.ID(), Level: l.Name()})
	return nil
}

// transferLevel streams l, places the player at spawn and then at their
// remembered position, and after EntitySpawnDelay shows the other
// entities. The player joins l and the block snapshot is queued under
// sendMu, so a block change is either in the snapshot or sent after it.
func (p *Player) transferLevel(l *world.Level) {
	e := p.Entity()
	last, hasLast, err := p.server.users.LastPosition(p.Name(), l.Name())
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read last position")
	}

	p.sendMu.Lock()
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()

	pkts, err := l.TransferPackets(p)
	if err != nil {
		p.sendMu.Unlock()
		p.logger.Error().Err(err).Str("level", l.Name()).Msg("failed to build level transfer")
		p.Disconnect("Failed to send level data")
		return
	}

	spawn := l.Spawn()
	e.Teleport(world.Position{
		X: spawn.X + 0.5, Y: spawn.Y + spawnEyeOffset, Z: spawn.Z + 0.5,
		Yaw: spawn.Yaw, Pitch: spawn.Pitch,
	})
	pkts = append(pkts, e.PositionPacket(p))
	if hasLast {
		e.Teleport(last)
		pkts = append(pkts, e.PositionPacket(p))
	}
	if mp := e.ModelPacket(p); mp != nil {
		pkts = append(pkts, mp)
	}
	p.writeBatch(pkts)
	p.sendMu.Unlock()

	p.server.notifyEntityAdded(e)

	time.AfterFunc(EntitySpawnDelay, func() {
		if p.Level() != l || p.State() != StateLoggedIn {
			return
		}
		var spawn []protocol.Packet
		for _, other := range l.Entities() {
			if other != e {
				spawn = append(spawn, other.AddedPackets(p)...)
			}
		}
		p.SendBatch(spawn)
	})
}

func (p *Player) handlePosition(pos *protocol.PlayerPosition) {
	e := p.Entity()
	if e == nil || p.State() != StateLoggedIn {
		return
	}
	if p.Supports(protocol.ExtHeldBlock) {
		p.mu.Lock()
		p.heldBlock = pos.PlayerID
		p.mu.Unlock()
	}
	to := world.Position{X: pos.X, Y: pos.Y, Z: pos.Z, Yaw: pos.Yaw, Pitch: pos.Pitch}
	if res := p.server.plugins.Move(p, to); !res.Allowed() {
		p.Send(e.PositionPacket(p))
		return
	}
	e.Move(to)
}

func (p *Player) handleMessage(m *protocol.Message) {
	if p.State() != StateLoggedIn {
		return
	}
	msg := m.Message
	if p.Supports(protocol.ExtLongerMessages) {
		p.storedMessage.WriteString(msg)
		if m.MessageType != 0 {
			return
		}
		msg = p.storedMessage.String()
		p.storedMessage.Reset()
	}
	msg = protocol.ConvertColorCodes(strings.TrimRight(msg, " "))
	if msg == "" {
		return
	}

	s := p.server
	s.logger.Info().Str("player", p.Name()).Msg(protocol.StripColorCodes(msg))
	if strings.HasPrefix(msg, "/") {
		s.RunCommand(p, msg[1:])
		s.emit(events.EventPlayerCommand, events.ChatPayload{Name: p.Name(), Message: msg})
		return
	}

	if res := s.plugins.Message(p, msg); !res.Allowed() {
		if res.Reason != "" {
			p.SendMessage("&c" + res.Reason)
		}
		return
	}
	s.notifyPlayerMessage(p, msg)
}

func (p *Player) handleSetBlock(sb *protocol.SetBlockClient) {
	l := p.Level()
	if l == nil || p.State() != StateLoggedIn {
		return
	}
	x, y, z := int(sb.X), int(sb.Y), int(sb.Z)
	if !l.Contains(x, y, z) {
		p.logger.Debug().Int("x", x).Int("y", y).Int("z", z).Msg("block edit outside level")
		return
	}
	if sb.Mode != protocol.ModeDestroy && sb.Mode != protocol.ModePlace {
		return
	}
	old := l.GetBlock(x, y, z)

	place := sb.Mode == protocol.ModePlace
	if place && sb.BlockType > world.MaxBlock(p.BlockSupportLevel()) {
		p.revertBlock(sb, old)
		return
	}

	target := old
	if place {
		target = sb.BlockType
	}
	if info, ok := world.BlockInfo(target); ok && info.AdminOnly && !p.IsOperator() {
		p.SendMessage("&cYou're not allowed to do that!")
		p.revertBlock(sb, old)
		return
	}

	edit := plugin.BlockEdit{Level: l.Name(), X: x, Y: y, Z: z, Place: place, Block: sb.BlockType, Old: old}
	if res := p.server.plugins.BlockEdit(p, edit); !res.Allowed() {
		if res.Reason != "" {
			p.SendMessage("&c" + res.Reason)
		}
		p.revertBlock(sb, old)
		return
	}

	block := world.Air
	if place {
		block = sb.BlockType
	}
	l.SetBlock(x, y, z, block)
	p.server.notifyBlockChanged(l, x, y, z, block)
}

// revertBlock restores the client's view of a denied edit.
func (p *Player) revertBlock(sb *protocol.SetBlockClient, old byte) {
	p.Send(&protocol.SetBlockServer{X: sb.X, Y: sb.Y, Z: sb.Z, BlockType: p.ConvertBlock(old)})
}
