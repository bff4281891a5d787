// Package network implements the TCP listener and the per-connection send
// queue used for game clients.
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// SendQueueSize is the number of pending writes a connection may buffer
	// before it is considered too slow and dropped.
	SendQueueSize = 1024
	// WriteTimeout bounds a single socket write.
	WriteTimeout = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendQueueFull    = errors.New("send queue is full")
	ErrRegistryFull     = errors.New("no free connection ids")
)

// Connection wraps a client socket. Reads happen on the owning goroutine;
// writes are queued and performed by a dedicated writer goroutine, so no
// caller ever blocks on a slow client.
type Connection struct {
	id     int
	conn   net.Conn
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity atomic.Int64

	mu      sync.Mutex // orders enqueues and guards closed
	queue   chan []byte
	pending atomic.Int64 // queued or in-flight writes
	closed  bool
	done    chan struct{}
	writer  chan struct{}
}

// NewConnection wraps an existing net.Conn and starts its writer.
func NewConnection(id int, conn net.Conn) *Connection {
	now := time.Now()
	c := &Connection{
		id:          id,
		conn:        conn,
		connectedAt: now,
		queue:       make(chan []byte, SendQueueSize),
		done:        make(chan struct{}),
		writer:      make(chan struct{}),
		logger: log.With().
			Str("component", "connection").
			Int("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	go c.writeLoop()
	return c
}

// ID returns the connection's numeric identity.
func (c *Connection) ID() int { return c.id }

// Logger returns the connection's logger.
func (c *Connection) Logger() zerolog.Logger { return c.logger }

// Read reads from the socket and records activity.
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

// Write queues data for sending. It never blocks: a full queue closes the
// connection and reports ErrSendQueueFull.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending.Add(1)
	select {
	case c.queue <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.pending.Add(-1)
	c.mu.Unlock()
	c.logger.Warn().Int("queued", SendQueueSize).Msg("send queue overflow, dropping connection")
	c.Close()
	return ErrSendQueueFull
}

func (c *Connection) writeLoop() {
	defer close(c.writer)
	for {
		select {
		case data := <-c.queue:
			err := c.writeNow(data)
			c.pending.Add(-1)
			if err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) writeNow(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

// Flush waits until everything queued so far has been written, the
// connection closes, or the timeout passes.
func (c *Connection) Flush(timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for c.pending.Load() > 0 {
		select {
		case <-deadline.C:
			return
		case <-c.done:
			return
		case <-tick.C:
		}
	}
}

// Close closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.done }

// LastActivity returns the time data was last received.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IP returns the remote host without the port.
func (c *Connection) IP() string {
	addr := c.conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ConnectionRegistry hands out connection ids and tracks live connections.
// An id is reused only after its connection is unregistered.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[int]*Connection
	limit int
}

// NewConnectionRegistry creates a registry allowing ids in [0, limit).
func NewConnectionRegistry(limit int) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[int]*Connection),
		limit: limit,
	}
}

// Register wraps conn under the lowest free id.
func (r *ConnectionRegistry) Register(conn net.Conn) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := 0; id < r.limit; id++ {
		if _, used := r.conns[id]; !used {
			c := NewConnection(id, conn)
			r.conns[id] = c
			log.Debug().Int("conn_id", id).Msg("connection registered")
			return c, nil
		}
	}
	return nil, ErrRegistryFull
}

// Unregister closes and removes a connection.
func (r *ConnectionRegistry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
		log.Debug().Int("conn_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id int) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all live connections ordered by id.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	result := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].id < result[j].id })
	return result
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every connection in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
	log.Info().Msg("all connections closed")
}
