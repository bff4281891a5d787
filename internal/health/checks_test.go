package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.MainLevelSize = [3]int{16, 16, 16}
	cfg.Paths.Levels = filepath.Join(dir, "levels")

	database, err := db.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	key, err := util.LoadOrCreateServerKey(filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	store, err := world.NewFileStore(cfg.Paths.Levels)
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
	return NewManager(cfg, game)
}

func TestDiskAlertLevel(t *testing.T) {
	assert.Equal(t, "", diskAlertLevel(50))
	assert.Equal(t, "info", diskAlertLevel(80))
	assert.Equal(t, "warning", diskAlertLevel(91))
	assert.Equal(t, "error", diskAlertLevel(95.5))
	assert.Equal(t, "critical", diskAlertLevel(100))
}

func TestDiskCheckUsesLevelDirectory(t *testing.T) {
	m := newTestManager(t)

	var seen string
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		seen = path
		return &util.DiskUsage{Total: 100, Used: 95, Free: 5, UsedPercent: 95}, nil
	}
	require.NoError(t, m.checkDiskUtilization(context.Background()))
	assert.Equal(t, m.cfg.GetPaths().Levels, seen)

	m.diskUsage = func(string) (*util.DiskUsage, error) { return nil, errors.New("no disk") }
	assert.Error(t, m.checkDiskUtilization(context.Background()))
}

func TestStatusReportEmitsEvent(t *testing.T) {
	m := newTestManager(t)

	got := make(chan server.Status, 1)
	m.game.Events().Subscribe(events.EventServerStatus, "test", func(_ context.Context, e events.Event) {
		got <- e.Payload.(server.Status)
	})

	require.NoError(t, m.reportStatus(context.Background()))
	select {
	case st := <-got:
		assert.Equal(t, 1, st.Levels)
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
	assert.Len(t, m.Jobs(), 2)
}
