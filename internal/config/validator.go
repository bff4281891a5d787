package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Err returns the first error, or nil.
func (r *ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(cfg.GetServer(), result)
	validateBroadcast(cfg.GetBroadcast(), result)
	validateAPI(cfg.GetAPI(), result)

	mqtt := cfg.GetMQTT()
	if mqtt.Enabled {
		if strings.TrimSpace(mqtt.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if mqtt.Port < 1 || mqtt.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	return result
}

func validateServer(s ServerConfig, result *ValidationResult) {
	validatePort(s.Port, "server.port", result)

	if s.MaxPlayers < 1 || s.MaxPlayers > 255 {
		result.AddError("server.max_players", fmt.Sprintf("must be between 1 and 255, got %d", s.MaxPlayers))
	}
	if strings.TrimSpace(s.MainLevel) == "" {
		result.AddError("server.main_level", "main level name is required")
	}
	for i, n := range s.MainLevelSize {
		field := fmt.Sprintf("server.main_level_size[%d]", i)
		if n < 1 || n > 1024 {
			result.AddError(field, fmt.Sprintf("dimension %d out of range 1-1024", n))
		} else if n%2 != 0 {
			result.AddWarning(field, "odd dimension, spawn will not be centred")
		}
	}
	if s.AutosaveInterval < 1 {
		result.AddError("server.autosave_interval", "autosave interval must be at least 1")
	}

	advertised := make(map[protocol.Extension]bool, len(s.Extensions))
	for _, ext := range s.Extensions {
		if !protocol.KnownExtension(ext) {
			result.AddError("server.extensions", fmt.Sprintf("unsupported extension %s", ext))
		}
		advertised[ext] = true
	}
	for _, ext := range s.RequiredExtensions {
		if !advertised[ext] {
			result.AddError("server.required_extensions",
				fmt.Sprintf("required extension %s is not advertised", ext))
		}
	}
	if len(s.RequiredExtensions) > 0 && s.AllowVanillaClients {
		result.AddWarning("server.allow_vanilla_clients",
			"vanilla clients are allowed but can never satisfy required extensions")
	}
}

func validateBroadcast(b BroadcastConfig, result *ValidationResult) {
	if !b.Enabled {
		return
	}
	if b.IntervalSeconds < 1 {
		result.AddError("broadcast.interval_seconds", "interval must be positive")
	} else if b.IntervalSeconds < 10 {
		result.AddWarning("broadcast.interval_seconds",
			"heartbeat interval less than 10s may cause excessive requests")
	}
	if strings.TrimSpace(b.URL) == "" {
		result.AddError("broadcast.url", "heartbeat URL is required when broadcasting")
	}
}

func validateAPI(a APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Token == "" {
		result.AddWarning("api.token", "no API token set, mutating routes are open")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
