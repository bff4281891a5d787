// Package util provides logging, crypto and host information helpers.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string
	MaxBackups int
	Console    bool
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 7,
		Console:    true,
	}
}

// LogFileName returns the log file name for the given day.
func LogFileName(t time.Time) string {
	return fmt.Sprintf("cubeforge_%s.log", t.Format("2006-01-02"))
}

// InitLogger initializes the zerolog global logger with file and console output.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	if err := EnsureDir(cfg.Directory); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFilePath := filepath.Join(cfg.Directory, LogFileName(time.Now()))

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// JSON to the file, human readable to the console.
	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "cubeforge").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go CleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// CleanOldLogs removes the oldest log files beyond maxBackups and returns
// how many were removed.
func CleanOldLogs(directory string, maxBackups int) int {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}

	var logFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "cubeforge_") && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry.Name())
		}
	}
	if len(logFiles) <= maxBackups {
		return 0
	}

	// Names carry the date, so lexical order is age order.
	sort.Strings(logFiles)
	removed := 0
	for _, name := range logFiles[:len(logFiles)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			removed++
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
	return removed
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
