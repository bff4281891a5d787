package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

const testToken = "secret-token"

func newTestAPI(t *testing.T, token string) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(dir, "server.json"))
	cfg.Server.MainLevelSize = [3]int{16, 16, 16}
	cfg.Broadcast.Enabled = false
	cfg.API.Token = token
	cfg.MQTT.Password = "mqtt-pass"
	cfg.Logging.Directory = filepath.Join(dir, "logs")

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

	return NewServer(cfg, game)
}

func doRequest(t *testing.T, s *Server, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPublicRoutes(t *testing.T) {
	s := newTestAPI(t, "")

	rec, body := doRequest(t, s, http.MethodGet, "/api/v1/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doRequest(t, s, http.MethodGet, "/api/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := body["server"].(map[string]interface{})
	assert.Equal(t, "CubeForge Server", status["name"])
	assert.EqualValues(t, 1, status["levels"])

	rec, body = doRequest(t, s, http.MethodGet, "/api/v1/levels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	levels := body["levels"].([]interface{})
	require.Len(t, levels, 1)
	assert.Equal(t, "main", levels[0].(map[string]interface{})["name"])

	rec, body = doRequest(t, s, http.MethodGet, "/api/v1/players", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])

	rec, body = doRequest(t, s, http.MethodGet, "/api/v1/lag", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "stats")

	rec, _ = doRequest(t, s, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	t.Run("no token configured", func(t *testing.T) {
		s := newTestAPI(t, "")
		rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/save", "anything", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	s := newTestAPI(t, testToken)
	t.Run("missing", func(t *testing.T) {
		rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/save", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("wrong", func(t *testing.T) {
		rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/save", "wrong", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("valid", func(t *testing.T) {
		rec, body := doRequest(t, s, http.MethodPost, "/api/v1/save?force=true", testToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["saved"])
	})
	t.Run("query token", func(t *testing.T) {
		rec, _ := doRequest(t, s, http.MethodGet, "/api/v1/config?token="+testToken, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCommandRoute(t *testing.T) {
	s := newTestAPI(t, testToken)

	rec, body := doRequest(t, s, http.MethodPost, "/api/v1/command", testToken, jsonBody{"command": "/level list"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["result"])
	assert.Equal(t, []interface{}{"Levels: main"}, body["output"])

	_, body = doRequest(t, s, http.MethodPost, "/api/v1/command", testToken, jsonBody{"command": "nosuch"})
	assert.Equal(t, "no_such_command", body["result"])

	rec, _ = doRequest(t, s, http.MethodPost, "/api/v1/command", testToken, jsonBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBanRoutes(t *testing.T) {
	s := newTestAPI(t, testToken)

	rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/bans", testToken, jsonBody{"name": "griefer", "reason": "tnt"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doRequest(t, s, http.MethodPost, "/api/v1/bans", testToken, jsonBody{"name": "griefer"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, body := doRequest(t, s, http.MethodGet, "/api/v1/bans", "", nil)
	bans := body["bans"].([]interface{})
	require.Len(t, bans, 1)
	assert.Equal(t, "griefer", bans[0].(map[string]interface{})["name"])
	assert.Equal(t, "tnt", bans[0].(map[string]interface{})["reason"])

	rec, _ = doRequest(t, s, http.MethodDelete, "/api/v1/bans/griefer", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doRequest(t, s, http.MethodDelete, "/api/v1/bans/griefer", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKickUnknownPlayer(t *testing.T) {
	s := newTestAPI(t, testToken)
	rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/players/ghost/kick", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigRoutes(t *testing.T) {
	s := newTestAPI(t, testToken)

	_, body := doRequest(t, s, http.MethodGet, "/api/v1/config", testToken, nil)
	assert.Equal(t, redacted, body["api"].(map[string]interface{})["token"])
	assert.Equal(t, redacted, body["mqtt"].(map[string]interface{})["password"])

	rec, _ := doRequest(t, s, http.MethodPost, "/api/v1/config/server", testToken, jsonBody{"key": "motd", "value": "Hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", s.cfg.GetServer().MOTD)

	rec, _ = doRequest(t, s, http.MethodPost, "/api/v1/config/server", testToken, jsonBody{"key": "max_players", "value": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 20, s.cfg.GetServer().MaxPlayers)

	rec, _ = doRequest(t, s, http.MethodPost, "/api/v1/config/server", testToken, jsonBody{"key": "bogus", "value": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	assert.True(t, rl.allow("1.2.3.4", now))
	assert.True(t, rl.allow("1.2.3.4", now))
	assert.False(t, rl.allow("1.2.3.4", now))
	assert.True(t, rl.allow("5.6.7.8", now))
	assert.True(t, rl.allow("1.2.3.4", now.Add(time.Second)))
}

func TestConsoleRunsCommands(t *testing.T) {
	s := newTestAPI(t, testToken)
	s.console.Start()
	defer s.console.Stop()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/console?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func(want string) consoleMessage {
		t.Helper()
		for {
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			var msg consoleMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Type == want {
				return msg
			}
		}
	}

	welcome := read("welcome")
	assert.NotEmpty(t, welcome.Session)
	require.Eventually(t, func() bool { return s.console.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(consoleMessage{Type: "command", Command: "level list"}))
	assert.Equal(t, "Levels: main", read("output").Message)
	assert.Equal(t, "success", read("result").Result)

	require.NoError(t, conn.WriteJSON(consoleMessage{Type: "command", Command: "level create extra 16 16 16"}))
	ev := read("event")
	require.NotNil(t, ev.Event)
	assert.EqualValues(t, "level_created", ev.Event.Type)
}

func TestConsoleRejectsForeignOrigin(t *testing.T) {
	check := originChecker([]string{"https://panel.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://panel.example.com")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}

type jsonBody map[string]interface{}
