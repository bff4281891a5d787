package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler serves one accepted connection. It returns when the connection is
// finished; the listener then releases the connection id.
type Handler interface {
	HandleConnection(ctx context.Context, conn *Connection)
}

// TCPListener accepts game client connections.
type TCPListener struct {
	addr     string
	registry *ConnectionRegistry
	handler  Handler

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewTCPListener creates a listener on addr that hands connections to h.
func NewTCPListener(addr string, registry *ConnectionRegistry, h Handler) *TCPListener {
	return &TCPListener{
		addr:     addr,
		registry: registry,
		handler:  h,
		ready:    make(chan struct{}),
	}
}

// Start listens and accepts until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		conn, err := l.registry.Register(raw)
		if err != nil {
			log.Warn().Err(err).Str("remote", raw.RemoteAddr().String()).Msg("rejecting connection")
			raw.Close()
			continue
		}
		logger := conn.Logger()
		logger.Debug().Msg("new client connection")

		go func() {
			defer l.registry.Unregister(conn.ID())
			l.handler.HandleConnection(ctx, conn)
		}()
	}
}

// Addr blocks until the listener is bound and returns its address.
func (l *TCPListener) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listener.Addr(), nil
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
