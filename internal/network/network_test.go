package network

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHandsOutLowestFreeID(t *testing.T) {
	r := NewConnectionRegistry(2)

	a, _ := net.Pipe()
	b, _ := net.Pipe()
	c, _ := net.Pipe()

	ca, err := r.Register(a)
	require.NoError(t, err)
	cb, err := r.Register(b)
	require.NoError(t, err)
	assert.Equal(t, 0, ca.ID())
	assert.Equal(t, 1, cb.ID())

	_, err = r.Register(c)
	assert.ErrorIs(t, err, ErrRegistryFull)

	r.Unregister(0)
	assert.True(t, ca.IsClosed())
	cc, err := r.Register(c)
	require.NoError(t, err)
	assert.Equal(t, 0, cc.ID())
	assert.Equal(t, 2, r.Count())

	all := r.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].ID())
	assert.Equal(t, 1, all[1].ID())

	r.CloseAll()
	assert.Zero(t, r.Count())
	assert.True(t, cb.IsClosed())
}

func TestConnectionWritesInOrder(t *testing.T) {
	server, client := net.Pipe()
	conn := NewConnection(3, server)
	defer conn.Close()

	var (
		got []byte
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 6)
		_, err := io.ReadFull(client, buf)
		if err == nil {
			got = buf
		}
	}()

	require.NoError(t, conn.Write([]byte("ab")))
	require.NoError(t, conn.Write([]byte("cd")))
	require.NoError(t, conn.Write([]byte("ef")))
	conn.Flush(time.Second)
	wg.Wait()
	assert.Equal(t, "abcdef", string(got))
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	server, _ := net.Pipe()
	conn := NewConnection(0, server)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Write([]byte{1}), ErrConnectionClosed)

	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestConnectionFlushReturnsOnTimeout(t *testing.T) {
	server, _ := net.Pipe()
	conn := NewConnection(0, server)
	defer conn.Close()

	// Nobody reads the other end, so the write stays in flight.
	require.NoError(t, conn.Write([]byte("stuck")))
	start := time.Now()
	conn.Flush(50 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

type echoHandler struct{}

func (echoHandler) HandleConnection(_ context.Context, conn *Connection) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}
	conn.Write(buf)
	conn.Flush(time.Second)
}

func TestTCPListenerServesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := NewConnectionRegistry(4)
	l := NewTCPListener("127.0.0.1:0", registry, echoHandler{})
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()

	addrCtx, cancelAddr := context.WithTimeout(ctx, 2*time.Second)
	defer cancelAddr()
	addr, err := l.Addr(addrCtx)
	require.NoError(t, err)

	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(c, reply)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))

	require.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestIPStripsPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	raw := <-accepted
	require.NotNil(t, raw)
	conn := NewConnection(0, raw)
	defer conn.Close()
	assert.Equal(t, "127.0.0.1", conn.IP())
}
