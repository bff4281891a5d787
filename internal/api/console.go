package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	maxConsoleRead   = 4096
	consoleQueueSize = 256
)

// consoleMessage is every frame exchanged with web console clients.
type consoleMessage struct {
	Type    string        `json:"type"`
	Session string        `json:"session,omitempty"`
	Command string        `json:"command,omitempty"`
	Message string        `json:"message,omitempty"`
	Result  string        `json:"result,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
}

// Console streams server events to websocket clients and runs the
// commands they send.
type Console struct {
	mu       sync.RWMutex
	sessions map[string]*consoleSession

	game     *server.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewConsole creates a console for game. Origins restricts which pages may
// open the websocket; empty or "*" allows all.
func NewConsole(game *server.Server, origins []string) *Console {
	c := &Console{
		sessions: make(map[string]*consoleSession),
		game:     game,
		logger:   util.ComponentLogger("console"),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return c
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Start forwards bus events to the connected sessions.
func (c *Console) Start() {
	c.game.Events().Subscribe(events.EventAny, "api.console", c.onEvent)
}

// Stop detaches from the bus and closes every session.
func (c *Console) Stop() {
	c.game.Events().Unsubscribe(events.EventAny, "api.console")
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*consoleSession)
	c.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// SessionCount returns the number of open console sessions.
func (c *Console) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Console) onEvent(_ context.Context, e events.Event) {
	msg := consoleMessage{Type: "event", Event: &e}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.enqueue(msg)
	}
}

// Handle upgrades the request and serves one console session.
func (c *Console) Handle(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("client_ip", ctx.ClientIP()).Msg("console upgrade failed")
		return
	}

	s := &consoleSession{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan consoleMessage, consoleQueueSize),
		done: make(chan struct{}),
	}
	s.logger = c.logger.With().Str("session", s.id).Str("client_ip", ctx.ClientIP()).Logger()

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
	s.logger.Info().Msg("console session opened")

	go s.writeLoop()
	s.enqueue(consoleMessage{Type: "welcome", Session: s.id, Message: server.Software})
	c.readLoop(s)

	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
	s.close()
	s.logger.Info().Msg("console session closed")
}

func (c *Console) readLoop(s *consoleSession) {
	s.conn.SetReadLimit(maxConsoleRead)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg consoleMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug().Err(err).Msg("discarding malformed console message")
			continue
		}

		switch msg.Type {
		case "command":
			line := strings.TrimPrefix(strings.TrimSpace(msg.Command), "/")
			s.logger.Info().Str("command", line).Msg("console command")
			result := c.game.RunCommand(s, line)
			s.enqueue(consoleMessage{Type: "result", Command: line, Result: result.String()})
		case "ping":
			s.enqueue(consoleMessage{Type: "pong"})
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("unknown console message type")
		}
	}
}

// consoleSession is one websocket client. It is the command sender for
// the commands it runs.
type consoleSession struct {
	id     string
	conn   *websocket.Conn
	send   chan consoleMessage
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (s *consoleSession) Name() string       { return "@web" }
func (s *consoleSession) HasRank(_ int) bool { return true }

func (s *consoleSession) SendMessage(msg string) {
	s.enqueue(consoleMessage{Type: "output", Message: protocol.StripColorCodes(msg)})
}

// enqueue drops the message when the client is not keeping up.
func (s *consoleSession) enqueue(msg consoleMessage) {
	select {
	case <-s.done:
	case s.send <- msg:
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("console send queue full, dropping message")
	}
}

func (s *consoleSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to marshal console message")
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *consoleSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
