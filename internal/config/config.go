// Package config handles loading, validation and persistence of the server
// properties file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "server.json"
	DefaultGamePort   = 25565
	DefaultAPIPort    = 8080
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server    ServerConfig    `json:"server"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Paths     PathsConfig     `json:"paths"`
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds the game server settings.
type ServerConfig struct {
	Name                string               `json:"name"`
	MOTD                string               `json:"motd"`
	Host                string               `json:"host"`
	Port                int                  `json:"port"`
	MaxPlayers          int                  `json:"max_players"`
	MainLevel           string               `json:"main_level"`
	MainLevelSize       [3]int               `json:"main_level_size"`
	AutosaveInterval    int                  `json:"autosave_interval"`
	AllowVanillaClients bool                 `json:"allow_vanilla_clients"`
	RequiredExtensions  []protocol.Extension `json:"required_extensions"`
	VerifyNames         bool                 `json:"verify_names"`
	Extensions          []protocol.Extension `json:"extensions"`
}

// BroadcastConfig holds the master server heartbeat settings.
type BroadcastConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalSeconds int    `json:"interval_seconds"`
	URL             string `json:"url"`
	UseHTTPS        bool   `json:"use_https"`
	Public          bool   `json:"public"`
	ListName        string `json:"list_name"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	Levels   string `json:"levels"`
	Database string `json:"database"`
	KeyFile  string `json:"key_file"`
}

// APIConfig holds the REST API and web console settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	exts := make([]protocol.Extension, len(protocol.DefaultExtensions))
	copy(exts, protocol.DefaultExtensions)
	return &Config{
		Server: ServerConfig{
			Name:                "CubeForge Server",
			MOTD:                "A Nice Server",
			Port:                DefaultGamePort,
			MaxPlayers:          20,
			MainLevel:           "main",
			MainLevelSize:       [3]int{256, 64, 256},
			AutosaveInterval:    10,
			AllowVanillaClients: true,
			RequiredExtensions:  []protocol.Extension{},
			VerifyNames:         true,
			Extensions:          exts,
		},
		Broadcast: BroadcastConfig{
			Enabled:         true,
			IntervalSeconds: 45,
			URL:             "classicube.net",
			UseHTTPS:        true,
		},
		Paths: PathsConfig{
			Levels:   "levels",
			Database: filepath.Join("data", "cubeforge.db"),
			KeyFile:  filepath.Join("data", "server.key"),
		},
		API: APIConfig{
			Port:        DefaultAPIPort,
			TLSCertFile: filepath.Join("data", "api.crt"),
			TLSKeyFile:  filepath.Join("data", "api.key"),
		},
		MQTT: MQTTConfig{
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "cubeforge",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 7,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file in configDir, writing the
// defaults if none exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so keys added since the file was written show up in it.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Reload re-reads the file the configuration was loaded from.
func (c *Config) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.path, err)
	}
	fresh := DefaultConfig()
	if err := json.Unmarshal(data, fresh); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.Server = fresh.Server
	c.Broadcast = fresh.Broadcast
	c.Paths = fresh.Paths
	c.API = fresh.API
	c.MQTT = fresh.MQTT
	c.Logging = fresh.Logging
	c.mu.Unlock()

	log.Info().Str("path", c.path).Msg("configuration reloaded")
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the game server settings.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Server
	s.RequiredExtensions = append([]protocol.Extension(nil), c.Server.RequiredExtensions...)
	s.Extensions = append([]protocol.Extension(nil), c.Server.Extensions...)
	return s
}

// SetServer replaces the game server settings.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetBroadcast returns a copy of the heartbeat settings.
func (c *Config) GetBroadcast() BroadcastConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.Broadcast
	if b.ListName == "" {
		b.ListName = c.Server.Name
	}
	return b
}

func (c *Config) GetPaths() PathsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Paths
}

func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateServerField updates a single server setting by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown server setting %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var s ServerConfig
	if err := json.Unmarshal(updated, &s); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Server = s
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets where Save writes the configuration.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}
