package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

func newTestCLI(t *testing.T, input string) (*CLI, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(dir, "server.json"))
	cfg.Server.MainLevelSize = [3]int{16, 16, 16}

	database, err := db.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	key, err := util.LoadOrCreateServerKey(filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	store, err := world.NewFileStore(filepath.Join(dir, "levels"))
	require.NoError(t, err)

	game, err := server.New(server.Options{
		Config: cfg,
		Store:  store,
		Users:  db.NewUserStore(database, key),
		Bans:   db.NewBanStore(database),
		Salt:   "testsalt",
	})
	require.NoError(t, err)
	t.Cleanup(func() { game.Shutdown(time.Second) })

	out := &bytes.Buffer{}
	return NewCLI(cfg, game, strings.NewReader(input), out), out
}

func TestTables(t *testing.T) {
	c, out := newTestCLI(t, "")

	require.NoError(t, c.Execute("levels"))
	assert.Contains(t, out.String(), "main")
	assert.Contains(t, out.String(), "16x16x16")

	out.Reset()
	require.NoError(t, c.Execute("list"))
	assert.Contains(t, out.String(), "No players connected.")

	out.Reset()
	require.NoError(t, c.Execute("bans"))
	assert.Contains(t, out.String(), "No bans.")

	out.Reset()
	require.NoError(t, c.Execute("status"))
	assert.Contains(t, out.String(), "CubeForge Server")
	assert.Contains(t, out.String(), "0/20")
}

func TestServerCommandsRunAsConsole(t *testing.T) {
	c, out := newTestCLI(t, "")

	require.NoError(t, c.Execute("/ban griefer being rude"))
	out.Reset()
	require.NoError(t, c.Execute("bans"))
	assert.Contains(t, out.String(), "griefer")
	assert.Contains(t, out.String(), "being rude")

	out.Reset()
	require.NoError(t, c.Execute("level list"))
	assert.Equal(t, "Levels: main\n", out.String())

	out.Reset()
	require.NoError(t, c.Execute("frobnicate"))
	assert.Contains(t, out.String(), "Unknown command")
}

func TestSetConfig(t *testing.T) {
	c, out := newTestCLI(t, "")

	require.NoError(t, c.Execute("setconfig motd Hello there"))
	assert.Equal(t, "Hello there", c.cfg.GetServer().MOTD)
	assert.Contains(t, out.String(), "Config updated")

	require.NoError(t, c.Execute("setconfig max_players 32"))
	assert.Equal(t, 32, c.cfg.GetServer().MaxPlayers)

	assert.Error(t, c.Execute("setconfig max_players 999"))
	assert.Equal(t, 32, c.cfg.GetServer().MaxPlayers)

	assert.Error(t, c.Execute("setconfig nope 1"))
	assert.Error(t, c.Execute("setconfig motd"))
}

func TestStartReadsUntilQuit(t *testing.T) {
	c, out := newTestCLI(t, "levels\nquit\n")

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	select {
	case <-c.game.StopRequested():
	case <-time.After(3 * time.Second):
		t.Fatal("quit did not request a stop")
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("console did not stop at end of input")
	}
	assert.Contains(t, out.String(), "Shutting down...")
}
