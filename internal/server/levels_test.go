package server

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// editDuringSave changes the level once while its first save is written.
type editDuringSave struct {
	*world.FileStore
	once sync.Once
	edit func()
}

func (s *editDuringSave) Save(r *world.Record) error {
	s.once.Do(s.edit)
	return s.FileStore.Save(r)
}

func TestSaveKeepsEditsMadeWhileSaving(t *testing.T) {
	env := newTestServer(t, nil)
	l, ok := env.server.Level("main")
	require.True(t, ok)

	l.SetBlock(1, 14, 1, world.Dirt)
	env.server.store = &editDuringSave{
		FileStore: env.store,
		edit:      func() { l.SetBlock(1, 15, 1, world.Stone) },
	}

	assert.Equal(t, 1, env.server.SaveLevels(false))
	assert.True(t, l.Dirty())
	rec, err := env.store.Load("main")
	require.NoError(t, err)
	assert.Equal(t, world.Dirt, rec.Blocks[l.Index(1, 14, 1)])
	assert.Equal(t, world.Air, rec.Blocks[l.Index(1, 15, 1)])

	assert.Equal(t, 1, env.server.SaveLevels(false))
	assert.False(t, l.Dirty())
	rec, err = env.store.Load("main")
	require.NoError(t, err)
	assert.Equal(t, world.Stone, rec.Blocks[l.Index(1, 15, 1)])

	assert.Zero(t, env.server.SaveLevels(false))
}

func TestCorruptMainLevelIsRegenerated(t *testing.T) {
	dir := t.TempDir()
	levels := filepath.Join(dir, "levels")
	store, err := world.NewFileStore(levels)
	require.NoError(t, err)
	require.NoError(t, store.Save(world.NewLevel("main", 16, 16, 16).Record()))
	require.NoError(t, os.WriteFile(filepath.Join(levels, "main.lvl"), []byte("not a level"), 0644))

	env := newTestServerWithStore(t, dir, store, nil)

	l, ok := env.server.Level("main")
	require.True(t, ok)
	assert.Equal(t, world.Grass, l.GetBlock(0, 7, 0))
	assert.True(t, env.store.Exists("main"))

	moved, err := filepath.Glob(filepath.Join(levels, "main.lvl.corrupt-*"))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "not a level", string(data))
}

func TestCorruptSecondaryLevelIsSkipped(t *testing.T) {
	dir := t.TempDir()
	levels := filepath.Join(dir, "levels")
	store, err := world.NewFileStore(levels)
	require.NoError(t, err)
	require.NoError(t, store.Save(world.NewLevel("extra", 8, 8, 8).Record()))
	require.NoError(t, os.WriteFile(filepath.Join(levels, "extra.lvl"), []byte("junk"), 0644))

	env := newTestServerWithStore(t, dir, store, nil)

	_, ok := env.server.Level("extra")
	assert.False(t, ok)
	assert.FileExists(t, filepath.Join(levels, "extra.lvl"))
	_, ok = env.server.Level("main")
	assert.True(t, ok)
}

// TestLevelTransferKeepsConcurrentEdits rebuilds the client's view of the
// level from the packets it receives while blocks change during repeated
// transfers. The view must end up equal to the level.
func TestLevelTransferKeepsConcurrentEdits(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)
	c.loginVanilla("Alice")
	p := waitForPlayer(t, env.server, "Alice")
	l := p.Level()
	require.NotNil(t, l)

	type clientView struct {
		blocks []byte
		err    error
	}
	views := make(chan clientView, 1)
	go func() {
		var view, blob []byte
		for {
			c.conn.SetReadDeadline(time.Now().Add(testTimeout))
			pkt, err := c.reader.Next()
			if err != nil {
				views <- clientView{err: err}
				return
			}
			switch pkt := pkt.(type) {
			case *protocol.LevelInit:
				view, blob = nil, blob[:0]
			case *protocol.LevelChunk:
				blob = append(blob, pkt.ChunkData[:pkt.ChunkLength]...)
			case *protocol.LevelEnd:
				if view, err = world.DecompressBlocks(blob); err != nil {
					views <- clientView{err: err}
					return
				}
			case *protocol.SetBlockServer:
				if view != nil {
					view[l.Index(int(pkt.X), int(pkt.Y), int(pkt.Z))] = pkt.BlockType
				}
			case *protocol.Message:
				if pkt.Message == "done" {
					views <- clientView{blocks: view}
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 400; i++ {
			x, z := i%16, (i/16)%16
			block := world.Stone
			if i%3 == 0 {
				block = world.Dirt
			}
			l.SetBlock(x, 12, z, block)
			env.server.notifyBlockChanged(l, x, 12, z, block)
		}
	}()
	for i := 0; i < 25; i++ {
		p.transferLevel(l)
	}
	wg.Wait()
	p.SendMessage("done")

	select {
	case v := <-views:
		require.NoError(t, v.err)
		assert.Equal(t, l.Blocks(), v.blocks)
	case <-time.After(testTimeout):
		t.Fatal("client never saw the end marker")
	}
}

func TestSendWaitsForTransfer(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)
	c.loginVanilla("Alice")
	p := waitForPlayer(t, env.server, "Alice")

	p.sendMu.Lock()
	sent := make(chan struct{})
	go func() {
		p.SendMessage("after")
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("send did not wait for the held send lock")
	case <-time.After(50 * time.Millisecond):
	}
	p.sendMu.Unlock()

	select {
	case <-sent:
	case <-time.After(testTimeout):
		t.Fatal("send never completed")
	}
	c.expectMessage("after")
}
