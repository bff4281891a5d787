package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/network"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// Software is the name reported in ExtInfo and to the master list.
const Software = "CubeForge 1.0"

// connectionSlack is how many connections beyond max_players may be open
// at once, so that handshakes can still be answered with "Server is full".
const connectionSlack = 16

// BanList is the ban collaborator.
type BanList interface {
	Find(name, ip string) (*db.Ban, bool, error)
	Add(name, ip, reason string) (bool, error)
	Remove(name string) (bool, error)
	List() ([]db.Ban, error)
}

// UserStore is the user record collaborator.
type UserStore interface {
	Load(name string) (*db.User, error)
	Save(u *db.User) error
	SetRank(name string, rank int) error
	LastPosition(name, level string) (world.Position, bool, error)
	SaveLastPosition(name, level string, p world.Position) error
}

// Options are the collaborators of a Server.
type Options struct {
	Config  *config.Config
	Store   world.Store
	Users   UserStore
	Bans    BanList
	Bus     *events.EventBus
	Plugins []plugin.Plugin
	// Salt is used for name verification. Generated when empty.
	Salt string
}

// Server is the session registry. It owns every connection, level and
// entity, runs the tick and exposes the notify primitives.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	bus      *events.EventBus
	store    world.Store
	users    UserStore
	bans     BanList
	plugins  *plugin.Dispatcher
	pluginv  []plugin.Plugin
	registry *network.ConnectionRegistry
	listener *network.TCPListener
	lag      *LagMonitor
	catalogs *protocol.CatalogCache
	salt     string

	mu       sync.RWMutex
	players  map[int]*Player
	seats    map[int]struct{}
	levels   map[string]*world.Level
	commands []plugin.Command

	ctx       context.Context
	cancel    context.CancelFunc
	ticks     atomic.Uint64
	saving    atomic.Bool
	startedAt time.Time

	handlers     sync.WaitGroup
	loops        sync.WaitGroup
	stopOnce     sync.Once
	requestOnce  sync.Once
	stopRequests chan struct{}
}

var (
	_ network.Handler = (*Server)(nil)
	_ plugin.Host     = (*Server)(nil)
)

// New loads the levels, creates the main level when missing and loads the
// plugins.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Store == nil || opts.Users == nil || opts.Bans == nil {
		return nil, errors.New("server: config, level store, user store and ban list are required")
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewEventBus()
	}
	salt := opts.Salt
	if salt == "" {
		var err error
		if salt, err = util.GenerateSalt(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	scfg := opts.Config.GetServer()
	s := &Server{
		cfg:          opts.Config,
		logger:       log.With().Str("component", "server").Logger(),
		bus:          bus,
		store:        opts.Store,
		users:        opts.Users,
		bans:         opts.Bans,
		plugins:      plugin.NewDispatcher(),
		pluginv:      opts.Plugins,
		registry:     network.NewConnectionRegistry(scfg.MaxPlayers + connectionSlack),
		lag:          NewLagMonitor(bus, TickInterval),
		catalogs:     protocol.NewCatalogCache(protocol.Negotiation()),
		salt:         salt,
		players:      make(map[int]*Player),
		seats:        make(map[int]struct{}),
		levels:       make(map[string]*world.Level),
		ctx:          ctx,
		cancel:       cancel,
		startedAt:    time.Now(),
		stopRequests: make(chan struct{}),
	}

	if err := s.loadLevels(); err != nil {
		cancel()
		return nil, err
	}
	s.loadPlugins()
	return s, nil
}

func (s *Server) loadPlugins() {
	n := s.plugins.Load(s, s.pluginv...)
	s.mu.Lock()
	s.commands = plugin.MergeCommands(s.builtinCommands(), s.plugins.Commands()...)
	s.mu.Unlock()
	s.logger.Info().Int("plugins", n).Msg("Plugins loaded")
}

// Start binds the listener and starts the tick. It returns once the server
// accepts connections.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	scfg := s.cfg.GetServer()
	addr := net.JoinHostPort(scfg.Host, fmt.Sprint(scfg.Port))
	s.listener = network.NewTCPListener(addr, s.registry, s)

	readyCtx, cancelReady := context.WithCancel(s.ctx)
	defer cancelReady()
	errCh := make(chan error, 1)
	go func() {
		if err := s.listener.Start(s.ctx); err != nil {
			errCh <- err
			cancelReady()
		}
	}()
	bound, err := s.listener.Addr(readyCtx)
	if err != nil {
		select {
		case startErr := <-errCh:
			return startErr
		default:
			return err
		}
	}

	s.startLoops()
	s.logger.Info().
		Str("addr", bound.String()).
		Str("name", scfg.Name).
		Int("max_players", scfg.MaxPlayers).
		Msg("Server ready")
	s.bus.Emit(s.ctx, events.New(events.EventServerStarted, "server", s.Status()))
	return nil
}

func (s *Server) startLoops() {
	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.tickLoop(s.ctx)
	}()
	go func() {
		defer s.loops.Done()
		s.lag.Start(s.ctx, time.Minute)
	}()
}

// Addr returns the bound listener address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	if s.listener == nil {
		return nil, errors.New("server not started")
	}
	return s.listener.Addr(ctx)
}

// Accept serves an already established connection, as the listener does
// for accepted sockets.
func (s *Server) Accept(raw net.Conn) error {
	conn, err := s.registry.Register(raw)
	if err != nil {
		raw.Close()
		return err
	}
	go func() {
		defer s.registry.Unregister(conn.ID())
		s.HandleConnection(s.ctx, conn)
	}()
	return nil
}

// RequestStop asks the owner of the server to shut it down. Commands use
// it because they run on a connection goroutine that Shutdown waits for.
func (s *Server) RequestStop() {
	s.requestOnce.Do(func() { close(s.stopRequests) })
}

// StopRequested is closed after RequestStop.
func (s *Server) StopRequested() <-chan struct{} { return s.stopRequests }

// Shutdown drains the server: players are told and disconnected, levels
// and positions saved, plugins unloaded, then the listener and tick stop.
func (s *Server) Shutdown(timeout time.Duration) {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Server stopping")
		s.bus.EmitSync(s.ctx, events.New(events.EventServerStopping, "server", nil))

		s.Broadcast("&eServer stopping...")
		for _, p := range s.LoggedInPlayers() {
			p.saveLastPosition()
		}
		for _, p := range s.allPlayers() {
			p.Disconnect("Server shutting down")
		}
		for _, p := range s.allPlayers() {
			p.conn.Flush(time.Second)
		}
		s.SaveLevels(true)
		s.plugins.UnloadAll()

		s.cancel()
		if s.listener != nil {
			s.listener.Stop()
		}
		s.registry.CloseAll()

		done := make(chan struct{})
		go func() {
			s.handlers.Wait()
			s.loops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.logger.Warn().Dur("timeout", timeout).Msg("Timed out waiting for connections to close")
		}
		s.logger.Info().Msg("Server stopped")
	})
}

// HandleConnection runs the state machine of one connection until it
// closes. It implements network.Handler.
func (s *Server) HandleConnection(ctx context.Context, conn *network.Connection) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	p := newPlayer(s, conn)
	s.mu.Lock()
	s.players[conn.ID()] = p
	s.mu.Unlock()

	p.serve(ctx)
}

// Reload re-reads the configuration, reloads plugins and resends every
// player their level.
func (s *Server) Reload() error {
	if err := s.cfg.Reload(); err != nil {
		return err
	}
	s.plugins.UnloadAll()
	s.loadPlugins()
	for _, p := range s.LoggedInPlayers() {
		p.reloadUser()
		if l := p.Level(); l != nil {
			p.transferLevel(l)
		}
	}
	s.bus.Emit(s.ctx, events.New(events.EventConfigReloaded, "server", nil))
	s.logger.Info().Msg("Server reloaded")
	return nil
}

// Logger implements plugin.Host.
func (s *Server) Logger() zerolog.Logger { return s.logger }

// Extensions returns the advertised extensions.
func (s *Server) Extensions() []protocol.Extension {
	return s.cfg.GetServer().Extensions
}

// Salt returns the name verification salt.
func (s *Server) Salt() string { return s.salt }

// Events returns the server's event bus.
func (s *Server) Events() *events.EventBus { return s.bus }

// LagMonitor returns the tick lag monitor.
func (s *Server) LagMonitor() *LagMonitor { return s.lag }

// Ticks returns the number of ticks run.
func (s *Server) Ticks() uint64 { return s.ticks.Load() }

// Commands returns the active command set.
func (s *Server) Commands() []plugin.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]plugin.Command(nil), s.commands...)
}

func (s *Server) emit(t events.EventType, payload interface{}) {
	s.bus.Emit(s.ctx, events.New(t, "server", payload))
}

func (s *Server) removePlayer(p *Player) {
	s.mu.Lock()
	if s.players[p.conn.ID()] == p {
		delete(s.players, p.conn.ID())
		delete(s.seats, p.conn.ID())
	}
	s.mu.Unlock()
}

// reserveSeat takes one of max player slots for p. Every connection that
// passed the capacity check holds a seat until it disconnects, whether it
// is still negotiating or already logged in.
func (s *Server) reserveSeat(p *Player, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := p.conn.ID()
	if _, ok := s.seats[id]; ok {
		return true
	}
	if len(s.seats) >= max {
		return false
	}
	s.seats[id] = struct{}{}
	return true
}

// releaseSeat frees the slot held by p, if any.
func (s *Server) releaseSeat(p *Player) {
	s.mu.Lock()
	if s.players[p.conn.ID()] == p {
		delete(s.seats, p.conn.ID())
	}
	s.mu.Unlock()
}

// allPlayers returns every connection in any state, ordered by id.
func (s *Server) allPlayers() []*Player {
	s.mu.RLock()
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].conn.ID() < out[j].conn.ID() })
	return out
}

// LoggedInPlayers returns the players in the LoggedIn state.
func (s *Server) LoggedInPlayers() []*Player {
	all := s.allPlayers()
	out := all[:0]
	for _, p := range all {
		if p.State() == StateLoggedIn {
			out = append(out, p)
		}
	}
	return out
}

// PlayerCount is the number of logged in players.
func (s *Server) PlayerCount() int {
	return len(s.LoggedInPlayers())
}

// Player finds a logged in player by name, case-insensitively.
func (s *Server) Player(name string) (*Player, bool) {
	for _, p := range s.LoggedInPlayers() {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// Players returns a snapshot of every connection.
func (s *Server) Players() []PlayerInfo {
	all := s.allPlayers()
	out := make([]PlayerInfo, 0, len(all))
	for _, p := range all {
		out = append(out, p.Info())
	}
	return out
}

// Status summarizes the server.
func (s *Server) Status() Status {
	scfg := s.cfg.GetServer()
	s.mu.RLock()
	levels := len(s.levels)
	s.mu.RUnlock()
	return Status{
		Name:       scfg.Name,
		MOTD:       scfg.MOTD,
		Players:    s.PlayerCount(),
		MaxPlayers: scfg.MaxPlayers,
		Levels:     levels,
		Ticks:      s.Ticks(),
		StartedAt:  s.startedAt,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
	}
}

// Bans returns the ban list.
func (s *Server) Bans() ([]db.Ban, error) {
	return s.bans.List()
}

// checkHandshake applies the login checks in order and returns the
// rejection reason of the first one that fails.
func (s *Server) checkHandshake(p *Player, h *protocol.Handshake) (string, bool) {
	scfg := s.cfg.GetServer()

	if h.ProtocolVersion != protocol.Version {
		return fmt.Sprintf("Unknown protocol version! (%d)", h.ProtocolVersion), false
	}

	ban, banned, err := s.bans.Find(h.Name, p.conn.IP())
	if err != nil {
		s.logger.Warn().Err(err).Str("player", h.Name).Msg("Ban lookup failed")
	} else if banned {
		return "You are banned from this server! Reason: " + ban.Reason, false
	}

	if !s.reserveSeat(p, scfg.MaxPlayers) {
		return fmt.Sprintf("Server is full! (max %d)", scfg.MaxPlayers), false
	}

	if scfg.VerifyNames && s.cfg.GetBroadcast().Enabled && !util.VerifyName(s.salt, h.Name, h.Key) {
		return "Unable to authenticate! Please try logging in again", false
	}

	if h.SupportByte != protocol.CPESupportByte && !scfg.AllowVanillaClients {
		return "Your client is unsupported!", false
	}
	return "", true
}

// sendExtensionInfo advertises the server's extensions.
func (s *Server) sendExtensionInfo(p *Player) {
	exts := s.Extensions()
	pkts := make([]protocol.Packet, 0, len(exts)+2)
	pkts = append(pkts, &protocol.ExtInfo{Software: Software, ExtensionCount: uint16(len(exts))})
	for _, ext := range exts {
		pkts = append(pkts, &protocol.ExtEntry{ExtName: ext.Name, Version: ext.Version})
	}
	for _, ext := range exts {
		if ext == protocol.ExtCustomBlocks {
			pkts = append(pkts, &protocol.CustomBlockSupportLevel{SupportLevel: 1})
		}
	}
	p.SendBatch(pkts)
}

// negotiated returns the extensions both sides support.
func (s *Server) negotiated(client []protocol.Extension) []protocol.Extension {
	var out []protocol.Extension
	for _, ext := range s.Extensions() {
		for _, c := range client {
			if c == ext {
				out = append(out, ext)
				break
			}
		}
	}
	return out
}

// kickCollisions disconnects an older session of the same name.
func (s *Server) kickCollisions(p *Player) {
	for _, other := range s.LoggedInPlayers() {
		if other != p && strings.EqualFold(other.Name(), p.Name()) {
			other.Disconnect("Name collision (you were logged in elsewhere)")
		}
	}
}

// BanPlayer bans a name (and the address of the player when online) and
// disconnects the player. It returns false when the name is already banned.
func (s *Server) BanPlayer(name, reason, by string) (bool, error) {
	ip := ""
	target, online := s.Player(name)
	if online {
		name = target.Name()
		ip = target.conn.IP()
	}
	added, err := s.bans.Add(name, ip, reason)
	if err != nil || !added {
		return added, err
	}
	if online {
		target.Disconnect("You are banned from this server! Reason: " + reason)
	}
	s.logger.Info().Str("player", name).Str("ip", ip).Str("by", by).Str("reason", reason).Msg("Player banned")
	s.emit(events.EventPlayerBanned, events.BanPayload{Name: name, IP: ip, Reason: reason, By: by})
	return true, nil
}

// PardonPlayer removes a ban by name.
func (s *Server) PardonPlayer(name string) (bool, error) {
	return s.bans.Remove(name)
}
