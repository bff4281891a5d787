// Package connector implements the master server heartbeat that lists the
// server publicly and supplies the salt used for name verification.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

const (
	heartbeatPath    = "/heartbeat.jsp"
	heartbeatVersion = 7
	maxResponseSize  = 64 << 10
)

// Source supplies the live values sent with every heartbeat.
type Source interface {
	PlayerCount() int
	Salt() string
}

// Heartbeat announces the server to the master list.
type Heartbeat struct {
	mu sync.RWMutex

	cfg      *config.Config
	eventBus *events.EventBus
	source   Source
	software string
	client   *http.Client
	logger   zerolog.Logger

	// baseURL overrides the scheme and host derived from the config.
	baseURL string

	joinURL     string
	lastSuccess bool
	lastBeat    time.Time
}

// failure is the JSON body returned when the master server rejects a
// heartbeat.
type failure struct {
	Status string     `json:"status"`
	Errors [][]string `json:"errors"`
}

// NewHeartbeat creates a heartbeat client.
func NewHeartbeat(cfg *config.Config, eventBus *events.EventBus, source Source, software string) *Heartbeat {
	return &Heartbeat{
		cfg:      cfg,
		eventBus: eventBus,
		source:   source,
		software: software,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger: util.ComponentLogger("heartbeat"),
	}
}

// SetBaseURL points the heartbeat at a specific scheme and host, e.g. a
// local test server.
func (h *Heartbeat) SetBaseURL(base string) {
	h.mu.Lock()
	h.baseURL = strings.TrimRight(base, "/")
	h.mu.Unlock()
}

// Beat sends one heartbeat. Failures are logged and reported on the event
// bus; the returned error is for callers that want to know.
func (h *Heartbeat) Beat(ctx context.Context) error {
	joinURL, err := h.beat(ctx)

	h.mu.Lock()
	h.lastBeat = time.Now()
	h.lastSuccess = err == nil
	changed := err == nil && joinURL != h.joinURL
	if changed {
		h.joinURL = joinURL
	}
	h.mu.Unlock()

	payload := events.HeartbeatPayload{JoinURL: joinURL, Success: err == nil}
	if err != nil {
		payload.Error = err.Error()
		h.logger.Warn().Err(err).Msg("Heartbeat failed")
	} else if changed {
		h.logger.Info().Str("url", joinURL).Msg("Server listed on master server")
	}
	if h.eventBus != nil {
		h.eventBus.Emit(ctx, events.New(events.EventHeartbeat, "heartbeat", payload))
	}
	return err
}

func (h *Heartbeat) beat(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.requestURL(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create heartbeat request: %w", err)
	}
	req.Header.Set("User-Agent", h.software)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read heartbeat response: %w", err)
	}
	return parseResponse(resp.StatusCode, body)
}

// parseResponse extracts the join URL from a heartbeat response.
func parseResponse(status int, body []byte) (string, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "http") {
		return text, nil
	}

	var f failure
	if err := json.Unmarshal(body, &f); err == nil && f.Status == "fail" {
		var msgs []string
		for _, group := range f.Errors {
			msgs = append(msgs, group...)
		}
		return "", fmt.Errorf("master server rejected heartbeat: %s", strings.Join(msgs, "; "))
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("heartbeat returned status %d", status)
	}
	return "", fmt.Errorf("unexpected heartbeat response: %q", text)
}

// requestURL builds the heartbeat URL with the current server values.
func (h *Heartbeat) requestURL() string {
	scfg := h.cfg.GetServer()
	bcfg := h.cfg.GetBroadcast()

	name := bcfg.ListName
	if name == "" {
		name = scfg.Name
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("port", strconv.Itoa(scfg.Port))
	q.Set("users", strconv.Itoa(h.source.PlayerCount()))
	q.Set("max", strconv.Itoa(scfg.MaxPlayers))
	q.Set("public", strconv.FormatBool(bcfg.Public))
	q.Set("salt", h.source.Salt())
	q.Set("software", h.software)
	q.Set("web", "false")
	q.Set("version", strconv.Itoa(heartbeatVersion))

	return h.base(bcfg) + heartbeatPath + "?" + q.Encode()
}

func (h *Heartbeat) base(bcfg config.BroadcastConfig) string {
	h.mu.RLock()
	override := h.baseURL
	h.mu.RUnlock()
	if override != "" {
		return override
	}

	host := strings.TrimRight(bcfg.URL, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if bcfg.UseHTTPS {
		return "https://" + host
	}
	return "http://" + host
}

// JoinURL returns the last join URL handed out by the master server.
func (h *Heartbeat) JoinURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joinURL
}

// LastResult reports when the last heartbeat ran and whether it succeeded.
func (h *Heartbeat) LastResult() (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastBeat, h.lastSuccess
}
