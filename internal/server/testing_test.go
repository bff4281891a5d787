package server

import (
	"net"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

const testTimeout = 3 * time.Second

type testEnv struct {
	server *Server
	users  *db.UserStore
	bans   *db.BanStore
	store  *world.FileStore
}

// newTestServer builds a server on a temporary directory with a 16³ main
// level. The server is not started; connections are attached with dial.
func newTestServer(t *testing.T, configure func(cfg *config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := world.NewFileStore(filepath.Join(dir, "levels"))
	require.NoError(t, err)
	return newTestServerWithStore(t, dir, store, configure)
}

// newTestServerWithStore is newTestServer over a level store prepared by
// the caller.
func newTestServerWithStore(t *testing.T, dir string, store *world.FileStore, configure func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Name = "Test Server"
	cfg.Server.MOTD = "Testing"
	cfg.Server.MainLevelSize = [3]int{16, 16, 16}
	cfg.Server.VerifyNames = false
	cfg.Broadcast.Enabled = false
	if configure != nil {
		configure(cfg)
	}

	database, err := db.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	key, err := util.LoadOrCreateServerKey(filepath.Join(dir, "server.key"))
	require.NoError(t, err)

	env := &testEnv{
		users: db.NewUserStore(database, key),
		bans:  db.NewBanStore(database),
		store: store,
	}
	env.server, err = New(Options{
		Config: cfg,
		Store:  store,
		Users:  env.users,
		Bans:   env.bans,
		Salt:   "testsalt",
	})
	require.NoError(t, err)
	t.Cleanup(func() { env.server.Shutdown(testTimeout) })
	return env
}

// testClient is the client end of an in-memory connection.
type testClient struct {
	t       *testing.T
	conn    net.Conn
	catalog *protocol.Catalog
	reader  *protocol.PacketReader
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	client, serverSide := net.Pipe()
	require.NoError(t, e.server.Accept(serverSide))
	t.Cleanup(func() { client.Close() })
	c := &testClient{t: t, conn: client, catalog: protocol.Negotiation()}
	c.reader = protocol.NewPacketReader(client, c.catalog)
	return c
}

func (c *testClient) useCatalog(cat *protocol.Catalog) {
	c.catalog = cat
	c.reader.SetCatalog(cat)
}

func (c *testClient) send(pkts ...protocol.Packet) {
	c.t.Helper()
	for _, p := range pkts {
		data, err := protocol.Encode(c.catalog, p)
		require.NoError(c.t, err)
		c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
		_, err = c.conn.Write(data)
		require.NoError(c.t, err)
	}
}

func (c *testClient) next() protocol.Packet {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	p, err := c.reader.Next()
	require.NoError(c.t, err)
	return p
}

// expect skips packets until one of the same type as want arrives and
// returns it.
func expect[T protocol.Packet](c *testClient) T {
	c.t.Helper()
	want := reflect.TypeOf(*new(T))
	for {
		p := c.next()
		if v, ok := p.(T); ok {
			return v
		}
		c.t.Logf("skipping %s while waiting for %s", reflect.TypeOf(p), want)
	}
}

// expectMessage skips packets until a chat message with text arrives.
func (c *testClient) expectMessage(text string) {
	c.t.Helper()
	for {
		if m := expect[*protocol.Message](c); m.Message == text {
			return
		}
	}
}

// loginVanilla completes a vanilla handshake and waits for the spawn
// position.
func (c *testClient) loginVanilla(name string) {
	c.t.Helper()
	c.useCatalog(protocol.Vanilla())
	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: name})
	expect[*protocol.Handshake](c)
	expect[*protocol.LevelEnd](c)
	expect[*protocol.PlayerPosition](c)
}

func waitForPlayer(t *testing.T, s *Server, name string) *Player {
	t.Helper()
	var p *Player
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = s.Player(name)
		return ok
	}, testTimeout, 5*time.Millisecond)
	return p
}
