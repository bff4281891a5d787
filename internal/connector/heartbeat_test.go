package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/events"
)

type fakeSource struct{}

func (fakeSource) PlayerCount() int { return 3 }
func (fakeSource) Salt() string     { return "abcdef0123456789" }

func TestHeartbeatQueryAndJoinURL(t *testing.T) {
	var mu sync.Mutex
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/heartbeat.jsp", r.URL.Path)
		mu.Lock()
		query = r.URL.Query()
		mu.Unlock()
		w.Write([]byte("http://www.classicube.net/server/play/abc/\n"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Name = "Listed"
	cfg.Server.Port = 25570
	cfg.Server.MaxPlayers = 12
	cfg.Broadcast.Public = true

	hb := NewHeartbeat(cfg, nil, fakeSource{}, "CubeForge test")
	hb.SetBaseURL(srv.URL)
	require.NoError(t, hb.Beat(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Listed", query.Get("name"))
	assert.Equal(t, "25570", query.Get("port"))
	assert.Equal(t, "3", query.Get("users"))
	assert.Equal(t, "12", query.Get("max"))
	assert.Equal(t, "true", query.Get("public"))
	assert.Equal(t, "abcdef0123456789", query.Get("salt"))
	assert.Equal(t, "CubeForge test", query.Get("software"))
	assert.Equal(t, "false", query.Get("web"))
	assert.Equal(t, "7", query.Get("version"))

	assert.Equal(t, "http://www.classicube.net/server/play/abc/", hb.JoinURL())
	_, ok := hb.LastResult()
	assert.True(t, ok)
}

func TestHeartbeatListNameOverridesServerName(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Broadcast.ListName = "Shown Name"
	hb := NewHeartbeat(cfg, nil, fakeSource{}, "x")

	u, err := url.Parse(hb.requestURL())
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "classicube.net", u.Host)
	assert.Equal(t, "Shown Name", u.Query().Get("name"))

	cfg.Broadcast.UseHTTPS = false
	u, err = url.Parse(hb.requestURL())
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
}

func TestHeartbeatFailureEmitsEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","errors":[["Invalid port"]]}`))
	}))
	defer srv.Close()

	bus := events.NewEventBus()
	defer bus.Stop()
	got := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, e events.Event) {
		got <- e.Payload.(events.HeartbeatPayload)
	})

	hb := NewHeartbeat(config.DefaultConfig(), bus, fakeSource{}, "x")
	hb.SetBaseURL(srv.URL)
	err := hb.Beat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid port")
	assert.Empty(t, hb.JoinURL())

	select {
	case p := <-got:
		assert.False(t, p.Success)
		assert.Contains(t, p.Error, "Invalid port")
	case <-time.After(time.Second):
		t.Fatal("no heartbeat event")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"join url", 200, "https://example.com/play/1", "https://example.com/play/1", false},
		{"fail body", 200, `{"status":"fail","errors":[["a","b"]]}`, "", true},
		{"server error", 500, "oops", "", true},
		{"garbage", 200, "nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse(tt.status, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
