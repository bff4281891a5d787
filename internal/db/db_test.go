package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

func openTestDB(t *testing.T) (*Database, *util.ServerKey) {
	t.Helper()
	dir := t.TempDir()
	database, err := NewDatabase(filepath.Join(dir, "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	key, err := util.LoadOrCreateServerKey(filepath.Join(dir, "server.key"))
	require.NoError(t, err)
	return database, key
}

func TestUserLoadCreatesDefault(t *testing.T) {
	database, key := openTestDB(t)
	users := NewUserStore(database, key)

	u, err := users.Load("Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, RankDefault, u.Rank)
	assert.Equal(t, world.DefaultModel, u.Model)
	assert.False(t, u.HasPassword())

	u.Rank = RankOperator
	u.Model = "chicken"
	require.NoError(t, users.Save(u))

	again, err := users.Load("Alice")
	require.NoError(t, err)
	assert.Equal(t, RankOperator, again.Rank)
	assert.Equal(t, "chicken", again.Model)
}

func TestUserSetRank(t *testing.T) {
	database, key := openTestDB(t)
	users := NewUserStore(database, key)

	assert.Error(t, users.SetRank("Nobody", RankOperator))

	_, err := users.Load("Bob")
	require.NoError(t, err)
	require.NoError(t, users.SetRank("Bob", RankOperator))

	u, err := users.Get("Bob")
	require.NoError(t, err)
	assert.Equal(t, RankOperator, u.Rank)
}

func TestUserPassword(t *testing.T) {
	database, key := openTestDB(t)
	users := NewUserStore(database, key)

	_, err := users.Load("Alice")
	require.NoError(t, err)

	ok, err := users.CheckPassword("Alice", "")
	require.NoError(t, err)
	assert.False(t, ok, "no password set")

	require.NoError(t, users.SetPassword("Alice", "hunter2"))

	u, err := users.Get("Alice")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", u.Password, "stored encrypted")

	ok, err = users.CheckPassword("Alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.CheckPassword("Alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastPosition(t *testing.T) {
	database, key := openTestDB(t)
	users := NewUserStore(database, key)
	_, err := users.Load("Alice")
	require.NoError(t, err)

	_, ok, err := users.LastPosition("Alice", "main")
	require.NoError(t, err)
	assert.False(t, ok)

	pos := world.Position{X: 1.5, Y: 33.59375, Z: 9.5, Yaw: 90, Pitch: 45}
	require.NoError(t, users.SaveLastPosition("Alice", "main", pos))
	require.NoError(t, users.SaveLastPosition("Alice", "main", pos))

	got, ok, err := users.LastPosition("Alice", "main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pos, got)

	_, ok, err = users.LastPosition("Alice", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, users.ClearLastPosition("Alice", "main"))
	_, ok, err = users.LastPosition("Alice", "main")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserList(t *testing.T) {
	database, key := openTestDB(t)
	users := NewUserStore(database, key)
	for _, n := range []string{"Carol", "Alice", "Bob"} {
		_, err := users.Load(n)
		require.NoError(t, err)
	}

	list, err := users.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Alice", list[0].Name)
	assert.Equal(t, "Carol", list[2].Name)
}

func TestBans(t *testing.T) {
	database, _ := openTestDB(t)
	bans := NewBanStore(database)

	_, banned, err := bans.Find("Mallory", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned)

	added, err := bans.Add("Mallory", "10.0.0.1", "griefing")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = bans.Add("Mallory", "10.0.0.2", "again")
	require.NoError(t, err)
	assert.False(t, added, "already banned by name")

	tests := []struct {
		name, user, ip string
		banned         bool
	}{
		{"by name", "Mallory", "192.168.1.1", true},
		{"by ip", "Eve", "10.0.0.1", true},
		{"neither", "Eve", "10.0.0.9", false},
		{"empty ip never matches", "Eve", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ban, banned, err := bans.Find(tt.user, tt.ip)
			require.NoError(t, err)
			assert.Equal(t, tt.banned, banned)
			if tt.banned {
				assert.Equal(t, "griefing", ban.Reason)
			}
		})
	}

	list, err := bans.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	removed, err := bans.Remove("Mallory")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = bans.Remove("Mallory")
	require.NoError(t, err)
	assert.False(t, removed)

	_, banned, err = bans.Find("Mallory", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned)
}
