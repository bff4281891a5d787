// Package telemetry publishes server events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

// Topics below the configured prefix.
const (
	TopicStatus  = "server/status"
	TopicPlayers = "players"
	TopicChat    = "chat"
	TopicLevels  = "levels"
	TopicLag     = "server/lag"
)

var topics = map[events.EventType]string{
	events.EventServerStarted:      TopicStatus,
	events.EventServerStopping:     TopicStatus,
	events.EventServerStatus:       TopicStatus,
	events.EventConfigReloaded:     TopicStatus,
	events.EventHeartbeat:          TopicStatus,
	events.EventLongTick:           TopicLag,
	events.EventPlayerConnected:    TopicPlayers,
	events.EventPlayerDisconnected: TopicPlayers,
	events.EventPlayerBanned:       TopicPlayers,
	events.EventPlayerLevelChanged: TopicPlayers,
	events.EventPlayerChat:         TopicChat,
	events.EventPlayerCommand:      TopicChat,
	events.EventLevelCreated:       TopicLevels,
	events.EventLevelSaved:         TopicLevels,
	events.EventLevelChanged:       TopicLevels,
}

// MQTTHandler manages the MQTT connection and publishes every event on
// the bus as JSON.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"platform":  sysInfo.Platform,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
			"server":    cfg.GetServer().Name,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(mqttCfg))
	opts.SetClientID(clientID(mqttCfg, sysInfo.Hostname))
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func brokerURL(c config.MQTTConfig) string {
	if strings.Contains(c.BrokerURL, "://") {
		return c.BrokerURL
	}
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerURL, c.Port)
}

// clientID returns the configured id or a unique one for this process.
func clientID(c config.MQTTConfig, hostname string) string {
	if c.ClientID != "" {
		return c.ClientID
	}
	if hostname == "" {
		hostname = "host"
	}
	return fmt.Sprintf("cubeforge-%s-%s", hostname, uuid.NewString()[:8])
}

// Start connects to the broker and publishes events until ctx is
// cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", brokerURL(h.cfg)).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.Subscribe(events.EventAny, "mqtt", h.onEvent)
	defer h.eventBus.Unsubscribe(events.EventAny, "mqtt")

	<-ctx.Done()

	h.publish(TopicStatus, events.New("shutdown", "mqtt", nil))
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) {
	h.publish(topicFor(event.Type), event)
}

// topicFor maps an event type to its topic below the prefix.
func topicFor(t events.EventType) string {
	if topic, ok := topics[t]; ok {
		return topic
	}
	return "events/" + string(t)
}

// publish sends a JSON message to a topic below the prefix.
func (h *MQTTHandler) publish(topic string, event events.Event) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(event))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	full := strings.TrimRight(h.cfg.TopicPrefix, "/") + "/" + topic
	token := h.client.Publish(full, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event.
func (h *MQTTHandler) buildMessage(event events.Event) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+4)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event.Type
	msg["source"] = event.Source
	msg["payload"] = event.Payload
	msg["timestamp"] = event.Time.UTC().Format(time.RFC3339)
	return msg
}
