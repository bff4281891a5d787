package server

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

func TestNewCreatesMainLevel(t *testing.T) {
	env := newTestServer(t, nil)

	l, ok := env.server.Level("main")
	require.True(t, ok)
	x, y, z := l.Size()
	assert.Equal(t, [3]int{16, 16, 16}, [3]int{x, y, z})
	assert.True(t, env.store.Exists("main"))
	assert.Equal(t, world.Grass, l.GetBlock(0, 7, 0))
	assert.Equal(t, world.Air, l.GetBlock(0, 8, 0))
}

func TestVanillaLoginStreamsLevel(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)
	c.useCatalog(protocol.Vanilla())

	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice"})

	echo := expect[*protocol.Handshake](c)
	assert.Equal(t, uint8(protocol.Version), echo.ProtocolVersion)
	assert.Equal(t, "Test Server", echo.Name)
	assert.Equal(t, "Testing", echo.Key)
	assert.Equal(t, uint8(0), echo.SupportByte)

	expect[*protocol.LevelInit](c)
	var blob []byte
	var end *protocol.LevelEnd
	for end == nil {
		switch p := c.next().(type) {
		case *protocol.LevelChunk:
			blob = append(blob, p.ChunkData[:p.ChunkLength]...)
		case *protocol.LevelEnd:
			end = p
		}
	}
	assert.Equal(t, uint16(16), end.SizeX)
	assert.Equal(t, uint16(16), end.SizeY)
	assert.Equal(t, uint16(16), end.SizeZ)

	blocks, err := world.DecompressBlocks(blob)
	require.NoError(t, err)
	main, _ := env.server.Level("main")
	assert.Equal(t, main.Blocks(), blocks)

	pos := expect[*protocol.PlayerPosition](c)
	assert.Equal(t, uint8(protocol.SelfID), pos.PlayerID)
	assert.Equal(t, 8.5, pos.X)
	assert.Equal(t, 8.5, pos.Z)

	p := waitForPlayer(t, env.server, "Alice")
	assert.Equal(t, StateLoggedIn, p.State())
	assert.Equal(t, "Vanilla", p.Software())
	assert.Same(t, main, p.Level())
	assert.Len(t, main.Entities(), 1)
}

func TestCPENegotiation(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)

	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", SupportByte: protocol.CPESupportByte})

	info := expect[*protocol.ExtInfo](c)
	assert.Equal(t, Software, info.Software)
	assert.Equal(t, uint16(len(protocol.DefaultExtensions)), info.ExtensionCount)
	for i := 0; i < int(info.ExtensionCount); i++ {
		expect[*protocol.ExtEntry](c)
	}
	cbsl := expect[*protocol.CustomBlockSupportLevel](c)
	assert.Equal(t, uint8(1), cbsl.SupportLevel)

	c.send(
		&protocol.ExtInfo{Software: "TestClient", ExtensionCount: 4},
		&protocol.ExtEntry{ExtName: "ClickDistance", Version: 1},
		&protocol.ExtEntry{ExtName: "CustomBlocks", Version: 1},
		&protocol.ExtEntry{ExtName: "EnvWeatherType", Version: 1},
		&protocol.ExtEntry{ExtName: "NotAnExtension", Version: 3},
		&protocol.CustomBlockSupportLevel{SupportLevel: 1},
	)
	negotiated := []protocol.Extension{protocol.ExtClickDistance, protocol.ExtCustomBlocks, protocol.ExtEnvWeatherType}
	c.useCatalog(protocol.Negotiation().ForExtensions(negotiated))

	expect[*protocol.Handshake](c)
	expect[*protocol.LevelEnd](c)
	weather := expect[*protocol.EnvSetWeatherType](c)
	assert.Equal(t, uint8(world.WeatherClear), weather.Weather)

	p := waitForPlayer(t, env.server, "Alice")
	assert.ElementsMatch(t, negotiated, p.Extensions())
	assert.Equal(t, "TestClient", p.Software())
	assert.Equal(t, uint8(1), p.BlockSupportLevel())
	assert.True(t, p.Supports(protocol.ExtClickDistance))
	assert.False(t, p.Supports(protocol.ExtHeldBlock))
}

func TestNegotiationWithoutExtensions(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)

	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", SupportByte: protocol.CPESupportByte})
	expect[*protocol.CustomBlockSupportLevel](c)
	c.send(&protocol.ExtInfo{Software: "Bare", ExtensionCount: 0})
	c.useCatalog(protocol.Negotiation().ForExtensions(nil))

	expect[*protocol.Handshake](c)
	p := waitForPlayer(t, env.server, "Alice")
	assert.Empty(t, p.Extensions())
	assert.Equal(t, uint8(0), p.BlockSupportLevel())
}

func TestRequiredExtensionMissing(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RequiredExtensions = []protocol.Extension{protocol.ExtHeldBlock}
	})
	c := env.dial(t)

	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", SupportByte: protocol.CPESupportByte})
	expect[*protocol.CustomBlockSupportLevel](c)
	c.send(&protocol.ExtInfo{Software: "Bare", ExtensionCount: 0})

	d := expect[*protocol.Disconnect](c)
	assert.Equal(t, "Your client doesn't support HeldBlock v1!", d.Reason)
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name      string
		configure func(cfg *config.Config)
		setup     func(t *testing.T, env *testEnv)
		handshake protocol.Handshake
		reason    string
	}{
		{
			name:      "wrong protocol version",
			handshake: protocol.Handshake{ProtocolVersion: 6, Name: "Alice"},
			reason:    "Unknown protocol version! (6)",
		},
		{
			name: "banned name",
			setup: func(t *testing.T, env *testEnv) {
				_, err := env.bans.Add("Mallory", "", "griefing")
				require.NoError(t, err)
			},
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Mallory"},
			reason:    "You are banned from this server! Reason: griefing",
		},
		{
			name:      "server full",
			configure: func(cfg *config.Config) { cfg.Server.MaxPlayers = 0 },
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice"},
			reason:    "Server is full! (max 0)",
		},
		{
			name: "bad name verification key",
			configure: func(cfg *config.Config) {
				cfg.Server.VerifyNames = true
				cfg.Broadcast.Enabled = true
			},
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", Key: "forged"},
			reason:    "Unable to authenticate! Please try logging in again",
		},
		{
			name:      "vanilla client not allowed",
			configure: func(cfg *config.Config) { cfg.Server.AllowVanillaClients = false },
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice"},
			reason:    "Your client is unsupported!",
		},
		{
			name:      "banned at a full server",
			configure: func(cfg *config.Config) { cfg.Server.MaxPlayers = 0 },
			setup: func(t *testing.T, env *testEnv) {
				_, err := env.bans.Add("Mallory", "", "griefing")
				require.NoError(t, err)
			},
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Mallory"},
			reason:    "You are banned from this server! Reason: griefing",
		},
		{
			name: "wrong version while banned",
			setup: func(t *testing.T, env *testEnv) {
				_, err := env.bans.Add("Mallory", "", "griefing")
				require.NoError(t, err)
			},
			handshake: protocol.Handshake{ProtocolVersion: 6, Name: "Mallory"},
			reason:    "Unknown protocol version! (6)",
		},
		{
			name: "full server with a bad key",
			configure: func(cfg *config.Config) {
				cfg.Server.MaxPlayers = 0
				cfg.Server.VerifyNames = true
				cfg.Broadcast.Enabled = true
			},
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", Key: "forged"},
			reason:    "Server is full! (max 0)",
		},
		{
			name: "bad key from a vanilla client when vanilla is refused",
			configure: func(cfg *config.Config) {
				cfg.Server.VerifyNames = true
				cfg.Broadcast.Enabled = true
				cfg.Server.AllowVanillaClients = false
			},
			handshake: protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", Key: "forged"},
			reason:    "Unable to authenticate! Please try logging in again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, tt.configure)
			if tt.setup != nil {
				tt.setup(t, env)
			}
			c := env.dial(t)
			hs := tt.handshake
			c.send(&hs)

			d := expect[*protocol.Disconnect](c)
			assert.Equal(t, tt.reason, d.Reason)
			_, online := env.server.Player(hs.Name)
			assert.False(t, online)
		})
	}
}

func TestCapacityCountsNegotiatingConnections(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) { cfg.Server.MaxPlayers = 1 })

	alice := env.dial(t)
	alice.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", SupportByte: protocol.CPESupportByte})
	expect[*protocol.ExtInfo](alice)

	bob := env.dial(t)
	bob.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Bob", SupportByte: protocol.CPESupportByte})
	d := expect[*protocol.Disconnect](bob)
	assert.Equal(t, "Server is full! (max 1)", d.Reason)

	expect[*protocol.CustomBlockSupportLevel](alice)
	alice.send(&protocol.ExtInfo{Software: "Bare", ExtensionCount: 0})
	alice.useCatalog(protocol.Negotiation().ForExtensions(nil))
	expect[*protocol.Handshake](alice)
	waitForPlayer(t, env.server, "Alice")
	assert.Equal(t, 1, env.server.PlayerCount())

	// The seat is given back once Alice leaves.
	alice.conn.Close()
	require.Eventually(t, func() bool { return len(env.server.allPlayers()) == 0 }, testTimeout, 5*time.Millisecond)
	carol := env.dial(t)
	carol.loginVanilla("Carol")
	waitForPlayer(t, env.server, "Carol")
}

func TestRejectedHandshakeFreesSeat(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxPlayers = 1
		cfg.Server.AllowVanillaClients = false
	})

	vanilla := env.dial(t)
	vanilla.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Old"})
	d := expect[*protocol.Disconnect](vanilla)
	assert.Equal(t, "Your client is unsupported!", d.Reason)

	c := env.dial(t)
	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice", SupportByte: protocol.CPESupportByte})
	expect[*protocol.ExtInfo](c)
}

func TestVerifiedNameLogsIn(t *testing.T) {
	env := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.VerifyNames = true
		cfg.Broadcast.Enabled = true
	})
	c := env.dial(t)
	c.useCatalog(protocol.Vanilla())

	c.send(&protocol.Handshake{
		ProtocolVersion: protocol.Version,
		Name:            "Alice",
		Key:             util.NameToken(env.server.Salt(), "Alice"),
	})
	expect[*protocol.Handshake](c)
}

func TestSecondHandshakeDisconnects(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)
	c.loginVanilla("Alice")

	c.send(&protocol.Handshake{ProtocolVersion: protocol.Version, Name: "Alice"})
	d := expect[*protocol.Disconnect](c)
	assert.Equal(t, "You need to log in!", d.Reason)
}

func TestUnknownPacketDisconnects(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)

	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	_, err := c.conn.Write([]byte{0xFF})
	require.NoError(t, err)

	d := expect[*protocol.Disconnect](c)
	assert.Equal(t, "Invalid packet 255", d.Reason)
}

func TestWebClientRejected(t *testing.T) {
	env := newTestServer(t, nil)
	c := env.dial(t)

	c.conn.SetDeadline(time.Now().Add(testTimeout))
	_, err := c.conn.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	require.NoError(t, err)

	reply, err := io.ReadAll(c.conn)
	require.NoError(t, err)
	assert.Equal(t, webClientReply, string(reply))
}

func TestNameCollisionKicksOlderSession(t *testing.T) {
	env := newTestServer(t, nil)
	first := env.dial(t)
	first.loginVanilla("Alice")

	second := env.dial(t)
	second.loginVanilla("alice")

	d := expect[*protocol.Disconnect](first)
	assert.Equal(t, "Name collision (you were logged in elsewhere)", d.Reason)
}

func TestChatJoinAndLeave(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")
	bob := env.dial(t)
	bob.loginVanilla("Bob")

	alice.expectMessage("&eBob joined the game")

	alice.send(&protocol.Message{Message: "hi %aall   "})
	bob.expectMessage("<Alice> hi &aall")
	alice.expectMessage("<Alice> hi &aall")

	bob.send(&protocol.Message{Message: "/leave"})
	d := expect[*protocol.Disconnect](bob)
	assert.Equal(t, "See ya!", d.Reason)
	bob.conn.Close()

	alice.expectMessage("&eBob left the game")
}

func TestLocalChatStaysInLevel(t *testing.T) {
	env := newTestServer(t, nil)
	_, err := env.server.CreateLevel("arena", 16, 16, 16)
	require.NoError(t, err)

	alice := env.dial(t)
	alice.loginVanilla("Alice")
	bob := env.dial(t)
	bob.loginVanilla("Bob")
	carol := env.dial(t)
	carol.loginVanilla("Carol")

	carol.send(&protocol.Message{Message: "/level goto arena"})
	expect[*protocol.LevelEnd](carol)

	alice.send(&protocol.Message{Message: "/local"})
	alice.expectMessage("&eYou are now chatting locally")
	alice.send(&protocol.Message{Message: "psst"})
	bob.expectMessage("(LOCAL) <Alice> psst")

	alice.send(&protocol.Message{Message: "/global"})
	alice.expectMessage("&eYou are now chatting globally")
	alice.send(&protocol.Message{Message: "hello everyone"})
	carol.expectMessage("<Alice> hello everyone")
}

func TestBlockEdits(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")
	bob := env.dial(t)
	bob.loginVanilla("Bob")
	main, _ := env.server.Level("main")

	alice.send(&protocol.SetBlockClient{X: 1, Y: 12, Z: 1, Mode: protocol.ModePlace, BlockType: world.Stone})
	seen := expect[*protocol.SetBlockServer](bob)
	assert.Equal(t, protocol.SetBlockServer{X: 1, Y: 12, Z: 1, BlockType: world.Stone}, *seen)
	expect[*protocol.SetBlockServer](alice)
	assert.Equal(t, world.Stone, main.GetBlock(1, 12, 1))

	alice.send(&protocol.SetBlockClient{X: 1, Y: 12, Z: 1, Mode: protocol.ModeDestroy, BlockType: world.Dirt})
	seen = expect[*protocol.SetBlockServer](bob)
	assert.Equal(t, world.Air, seen.BlockType)
	expect[*protocol.SetBlockServer](alice)
	assert.Equal(t, world.Air, main.GetBlock(1, 12, 1))

	// Bedrock is reserved for operators.
	alice.send(&protocol.SetBlockClient{X: 2, Y: 12, Z: 2, Mode: protocol.ModePlace, BlockType: world.Bedrock})
	alice.expectMessage("&cYou're not allowed to do that!")
	revert := expect[*protocol.SetBlockServer](alice)
	assert.Equal(t, protocol.SetBlockServer{X: 2, Y: 12, Z: 2, BlockType: world.Air}, *revert)
	assert.Equal(t, world.Air, main.GetBlock(2, 12, 2))

	// Custom blocks are out of range for a vanilla client.
	alice.send(&protocol.SetBlockClient{X: 3, Y: 12, Z: 3, Mode: protocol.ModePlace, BlockType: 0x40})
	revert = expect[*protocol.SetBlockServer](alice)
	assert.Equal(t, uint16(3), revert.X)
	assert.Equal(t, world.Air, revert.BlockType)
	assert.Equal(t, world.Air, main.GetBlock(3, 12, 3))
}

func TestLevelTransferRestoresLastPosition(t *testing.T) {
	env := newTestServer(t, nil)
	_, err := env.server.CreateLevel("arena", 16, 16, 16)
	require.NoError(t, err)

	alice := env.dial(t)
	alice.loginVanilla("Alice")
	p := waitForPlayer(t, env.server, "Alice")

	alice.send(&protocol.PlayerPosition{PlayerID: protocol.SelfID, X: 3, Y: 10, Z: 4})
	require.Eventually(t, func() bool { return p.Entity().Position().X == 3 }, testTimeout, 5*time.Millisecond)

	alice.send(&protocol.Message{Message: "/level goto arena"})
	expect[*protocol.LevelEnd](alice)
	expect[*protocol.PlayerPosition](alice)
	arena, _ := env.server.Level("arena")
	require.Eventually(t, func() bool { return p.Level() == arena }, testTimeout, 5*time.Millisecond)

	alice.send(&protocol.Message{Message: "/level goto arena"})
	alice.expectMessage("&cYou are already in this level!")
	alice.send(&protocol.Message{Message: "/level goto nowhere"})
	alice.expectMessage("&cThat level does not exist!")

	alice.send(&protocol.Message{Message: "/level goto main"})
	expect[*protocol.LevelEnd](alice)
	spawn := expect[*protocol.PlayerPosition](alice)
	assert.Equal(t, 8.5, spawn.X)
	last := expect[*protocol.PlayerPosition](alice)
	assert.Equal(t, uint8(protocol.SelfID), last.PlayerID)
	assert.Equal(t, 3.0, last.X)
	assert.Equal(t, 10.0, last.Y)
	assert.Equal(t, 4.0, last.Z)
}

func TestEntitiesSpawnForEachOther(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")
	bob := env.dial(t)
	bob.loginVanilla("Bob")

	bobSeen := expect[*protocol.AddPlayer](alice)
	assert.Equal(t, "Bob", bobSeen.PlayerName)
	aliceSeen := expect[*protocol.AddPlayer](bob)
	assert.Equal(t, "Alice", aliceSeen.PlayerName)
	assert.NotEqual(t, uint8(protocol.SelfID), bobSeen.PlayerID)

	bob.conn.Close()
	removed := expect[*protocol.RemovePlayer](alice)
	assert.Equal(t, int8(bobSeen.PlayerID), removed.PlayerID)
}

func TestIdleTimeoutAndGracePeriod(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")
	p := waitForPlayer(t, env.server, "Alice")

	p.idleTicks.Store(TimeoutTicks - 1)
	env.server.tick()
	d := expect[*protocol.Disconnect](alice)
	assert.Equal(t, "Timed out", d.Reason)
	assert.Equal(t, StateDisconnecting, p.State())

	for i := 0; i < DisconnectGraceTicks; i++ {
		env.server.tick()
	}
	assert.True(t, p.conn.IsClosed())
	require.Eventually(t, func() bool { return len(env.server.allPlayers()) == 0 }, testTimeout, 5*time.Millisecond)
	main, _ := env.server.Level("main")
	assert.Empty(t, main.Entities())
}

func TestConsoleCommands(t *testing.T) {
	env := newTestServer(t, nil)
	var out bytes.Buffer
	console := env.server.NewConsoleSender(&out)

	assert.Equal(t, plugin.Success, env.server.RunCommand(console, "help"))
	assert.Contains(t, out.String(), "/help - Shows this help message")
	out.Reset()

	assert.Equal(t, plugin.Success, env.server.RunCommand(console, "help pos"))
	assert.Equal(t, "/position - Shows you your current position\nUsage: /position\n", out.String())
	out.Reset()

	assert.Equal(t, plugin.NoSuchCommand, env.server.RunCommand(console, "frobnicate"))
	assert.Equal(t, "Unknown command - type /help for a list of commands\n", out.String())
	out.Reset()

	assert.Equal(t, plugin.InvalidArguments, env.server.RunCommand(console, "level create arena 16"))
	assert.Equal(t, "Usage: /level <list|reload|create|goto|weather|textures|property> <args>\n", out.String())
	out.Reset()

	env.server.RunCommand(console, "level create arena 16 16 16")
	assert.Contains(t, out.String(), "Level arena created successfully!")
	out.Reset()
	env.server.RunCommand(console, "level create arena 16 16 16")
	assert.Contains(t, out.String(), "Level arena already exists!")
	out.Reset()

	env.server.RunCommand(console, "level list")
	assert.Equal(t, "Levels: arena, main\n", out.String())
	out.Reset()

	env.server.RunCommand(console, "ban Mallory griefing again")
	assert.Equal(t, "Banned Mallory\n", out.String())
	ban, banned, err := env.bans.Find("Mallory", "")
	require.NoError(t, err)
	require.True(t, banned)
	assert.Equal(t, "griefing again", ban.Reason)
	out.Reset()

	env.server.RunCommand(console, "pardon Mallory")
	assert.Equal(t, "Pardoned Mallory\n", out.String())
	out.Reset()
	env.server.RunCommand(console, "unban Mallory")
	assert.Equal(t, "That player isn't banned!\n", out.String())
	out.Reset()

	env.server.RunCommand(console, "kick Nobody")
	assert.Equal(t, "Player Nobody is not online or doesn't exist!\n", out.String())
}

func TestCommandPermissionsAndOp(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")

	alice.send(&protocol.Message{Message: "/stop"})
	alice.expectMessage("&cInsufficient permissions!")

	var out bytes.Buffer
	console := env.server.NewConsoleSender(&out)
	env.server.RunCommand(console, "op Alice")
	assert.Equal(t, "Opped Alice\n", out.String())
	alice.expectMessage("&eYour rank has been updated")

	u, err := env.users.Get("Alice")
	require.NoError(t, err)
	assert.Equal(t, 100, u.Rank)

	alice.send(&protocol.Message{Message: "/deop Alice"})
	alice.expectMessage("&cYou can't de-op yourself!")

	alice.send(&protocol.Message{Message: "/stop"})
	select {
	case <-env.server.StopRequested():
	case <-time.After(testTimeout):
		t.Fatal("stop was not requested")
	}
}

func TestPluginCommandAndPanicRecovery(t *testing.T) {
	env := newTestServer(t, nil)
	env.server.mu.Lock()
	env.server.commands = plugin.MergeCommands(env.server.commands, plugin.Command{
		Name:        "boom",
		Description: "Always panics",
		Usage:       "/<command>",
		Execute: func(plugin.Sender, []string) (plugin.CommandResult, error) {
			panic("kaboom")
		},
	})
	env.server.mu.Unlock()

	var out bytes.Buffer
	result := env.server.RunCommand(env.server.NewConsoleSender(&out), "boom")
	assert.Equal(t, plugin.Error, result)
	assert.Equal(t, "An error occurred running this command: panic: kaboom\n", out.String())
}

func TestShutdownDisconnectsPlayers(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.dial(t)
	alice.loginVanilla("Alice")

	done := make(chan struct{})
	go func() {
		env.server.Shutdown(testTimeout)
		close(done)
	}()

	alice.expectMessage("&eServer stopping...")
	d := expect[*protocol.Disconnect](alice)
	assert.Equal(t, "Server shutting down", d.Reason)

	select {
	case <-done:
	case <-time.After(2 * testTimeout):
		t.Fatal("shutdown did not finish")
	}
	last, ok, err := env.users.LastPosition("Alice", "main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 8.5, last.X)
}
