package server

import (
	"strconv"

	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// notify calls fn for every logged in player.
func (s *Server) notify(fn func(p *Player)) {
	for _, p := range s.LoggedInPlayers() {
		fn(p)
	}
}

// notifyOthers calls fn for every logged in player except self.
func (s *Server) notifyOthers(self *Player, fn func(p *Player)) {
	s.notify(func(p *Player) {
		if p != self {
			fn(p)
		}
	})
}

// notifyLocal calls fn for every logged in player in l.
func (s *Server) notifyLocal(l *world.Level, fn func(p *Player)) {
	if l == nil {
		return
	}
	for _, p := range s.playersIn(l) {
		fn(p)
	}
}

func (s *Server) playersIn(l *world.Level) []*Player {
	var out []*Player
	for _, p := range s.LoggedInPlayers() {
		if p.Level() == l {
			out = append(out, p)
		}
	}
	return out
}

// viewersIn returns the players in l as entity viewers.
func (s *Server) viewersIn(l *world.Level) []world.Viewer {
	players := s.playersIn(l)
	out := make([]world.Viewer, len(players))
	for i, p := range players {
		out[i] = p
	}
	return out
}

// Broadcast sends a chat message to every logged in player and the log.
func (s *Server) Broadcast(msg string) {
	s.logger.Info().Msg(protocol.StripColorCodes(msg))
	s.notify(func(p *Player) { p.SendMessage(msg) })
}

// playerListEntry is the tab list entry of p as seen by viewer.
func playerListEntry(p, viewer *Player) *protocol.ExtAddPlayerName {
	id := uint16(p.ID())
	if p == viewer {
		id = protocol.SelfID
	}
	group := ""
	if l := p.Level(); l != nil {
		group = l.Name()
	}
	return &protocol.ExtAddPlayerName{
		NameID:     id,
		PlayerName: p.Name(),
		ListName:   p.Name(),
		GroupName:  group,
		GroupRank:  uint8(min(max(p.Rank(), 0), 255)),
	}
}

func (s *Server) notifyPlayerConnected(p *Player) {
	if p.Supports(protocol.ExtPlayerList) {
		var entries []protocol.Packet
		s.notifyOthers(p, func(o *Player) {
			entries = append(entries, playerListEntry(o, p))
		})
		p.SendBatch(entries)
	}
	s.notify(func(o *Player) {
		if o.Supports(protocol.ExtPlayerList) {
			o.Send(playerListEntry(p, o))
		}
		if o != p {
			o.SendMessage("&e" + p.Name() + " joined the game")
		}
	})
}

func (s *Server) notifyPlayerDisconnected(p *Player) {
	s.notifyOthers(p, func(o *Player) {
		if o.Supports(protocol.ExtPlayerList) {
			o.Send(&protocol.ExtRemovePlayerName{NameID: uint16(p.ID())})
		}
		o.SendMessage("&e" + p.Name() + " left the game")
	})
}

// notifyPlayerInfoUpdate resends the tab list entry of p, whose level or
// rank changed.
func (s *Server) notifyPlayerInfoUpdate(p *Player) {
	s.notify(func(o *Player) {
		if o.Supports(protocol.ExtPlayerList) {
			o.Send(playerListEntry(p, o))
		}
	})
}

func (s *Server) notifyPlayerMessage(p *Player, msg string) {
	l := p.Level()
	local := p.LocalChat() && l != nil
	if local {
		line := "(LOCAL) <" + p.Name() + "> " + msg
		s.notifyLocal(l, func(o *Player) { o.SendMessage(line) })
	} else {
		line := "<" + p.Name() + "> " + msg
		s.notify(func(o *Player) { o.SendMessage(line) })
	}

	payload := events.ChatPayload{Name: p.Name(), Message: msg, Local: local}
	if l != nil {
		payload.Level = l.Name()
	}
	s.emit(events.EventPlayerChat, payload)
}

// notifyEntityAdded spawns e for everyone else in its level.
func (s *Server) notifyEntityAdded(e *world.Entity) {
	s.notifyLocal(e.Level(), func(o *Player) {
		if world.Viewer(o) != e.Owner() {
			o.SendBatch(e.AddedPackets(o))
		}
	})
}

// notifyEntityRemoved despawns e for everyone else in its level. It must
// run before e leaves the level.
func (s *Server) notifyEntityRemoved(e *world.Entity) {
	s.notifyLocal(e.Level(), func(o *Player) {
		if world.Viewer(o) != e.Owner() {
			o.Send(e.RemovedPacket(o))
		}
	})
}

// notifyEntityTeleport sends the absolute position of e to its whole level,
// the owner included.
func (s *Server) notifyEntityTeleport(e *world.Entity) {
	s.notifyLocal(e.Level(), func(o *Player) {
		o.Send(e.PositionPacket(o))
	})
}

func (s *Server) notifyEntityModelChange(e *world.Entity) {
	s.notifyLocal(e.Level(), func(o *Player) {
		if pkt := e.ModelPacket(o); pkt != nil {
			o.Send(pkt)
		}
	})
}

func (s *Server) notifyBlockChanged(l *world.Level, x, y, z int, block byte) {
	s.notifyLocal(l, func(o *Player) {
		o.Send(&protocol.SetBlockServer{
			X: uint16(x), Y: uint16(y), Z: uint16(z),
			BlockType: o.ConvertBlock(block),
		})
	})
}

func (s *Server) notifyLevelWeather(l *world.Level) {
	weather := l.Weather()
	s.notifyLocal(l, func(o *Player) {
		if o.Supports(protocol.ExtEnvWeatherType) {
			o.Send(&protocol.EnvSetWeatherType{Weather: uint8(weather)})
		}
	})
	s.emit(events.EventLevelChanged, events.LevelPayload{Name: l.Name(), Property: "weather", Value: weather.String()})
}

func (s *Server) notifyLevelTextures(l *world.Level) {
	url := l.Textures()
	s.notifyLocal(l, func(o *Player) {
		if o.Supports(protocol.ExtEnvMapAspect) {
			o.Send(&protocol.SetMapEnvURL{URL: url})
		}
	})
	s.emit(events.EventLevelChanged, events.LevelPayload{Name: l.Name(), Property: "textures", Value: url})
}

func (s *Server) notifyLevelProperty(l *world.Level, prop world.EnvProperty) {
	env := l.Environment()
	s.notifyLocal(l, func(o *Player) {
		if o.Supports(protocol.ExtEnvMapAspect) {
			o.Send(world.PropertyPacket(env, prop, o))
		}
	})
	s.emit(events.EventLevelChanged, events.LevelPayload{
		Name:     l.Name(),
		Property: prop.String(),
		Value:    strconv.Itoa(int(env.WireValue(prop, func(b byte) byte { return b }))),
	})
}
