package server

import (
	"context"
	"time"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

const (
	// TickInterval is the period of the server tick.
	TickInterval = 50 * time.Millisecond
	// TimeoutTicks is how many ticks without a packet close a connection.
	TimeoutTicks = 1200
	// DisconnectGraceTicks is how long a disconnecting client has to close
	// the socket itself.
	DisconnectGraceTicks = 20
	// PingInterval is the number of ticks between pings.
	PingInterval = 20
	// PositionSyncInterval is the number of ticks between movement
	// broadcasts.
	PositionSyncInterval = 2
)

func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			players := s.tick()
			s.lag.Record(ctx, time.Since(start), players)
		}
	}
}

// tick runs one server tick and returns the number of logged in players.
func (s *Server) tick() int {
	n := s.ticks.Add(1)

	loggedIn := 0
	for _, p := range s.allPlayers() {
		switch p.State() {
		case StateDisconnecting:
			if p.disconnectTicks.Add(1) >= DisconnectGraceTicks {
				p.conn.Close()
			}
			continue
		case StateClosed:
			continue
		}

		if p.idleTicks.Add(1) >= TimeoutTicks {
			p.Disconnect("Timed out")
			continue
		}
		if p.State() == StateLoggedIn {
			loggedIn++
			if n%PingInterval == 0 {
				p.Send(&protocol.Ping{})
			}
		}
	}

	if n%PositionSyncInterval == 0 {
		for _, l := range s.loadedLevels() {
			l.BroadcastMoves(s.viewersIn(l))
		}
	}

	if every := uint64(s.cfg.GetServer().AutosaveInterval) * 20; every > 0 && n%every == 0 {
		s.autosave()
	}
	return loggedIn
}

// loadedLevels returns the loaded levels in no particular order.
func (s *Server) loadedLevels() []*world.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*world.Level, 0, len(s.levels))
	for _, l := range s.levels {
		out = append(out, l)
	}
	return out
}
