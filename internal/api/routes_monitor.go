package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cubeforge-project/cubeforge/internal/util"
)

// handleSystem reports host and process resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"host": util.GetSystemInfo()}

	if usage, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = usage
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	if disk, err := util.GetDiskUsage(s.cfg.GetPaths().Levels); err == nil {
		resp["levels_disk"] = disk
	}
	c.JSON(http.StatusOK, resp)
}

// handleLag returns the tick lag statistics and active alerts.
func (s *Server) handleLag(c *gin.Context) {
	lag := s.game.LagMonitor()
	c.JSON(http.StatusOK, gin.H{
		"ticks":  s.game.Ticks(),
		"stats":  lag.Stats(),
		"alerts": lag.CheckThresholds(),
	})
}

// handleLogs returns recent log entries.
func (s *Server) handleLogs(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	entries, err := readRecentLogEntries(s.cfg.GetLogging().Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest log
// file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	var logFiles []string
	for _, e := range dirEntries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			logFiles = append(logFiles, e.Name())
		}
	}
	if len(logFiles) == 0 {
		return []logEntry{}, nil
	}
	sort.Strings(logFiles)

	f, err := os.Open(filepath.Join(logDir, logFiles[len(logFiles)-1]))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > count {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true, "app": true,
	}

	result := make([]logEntry, 0, len(lines))
	for _, line := range lines {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}
		result = append(result, entry)
	}
	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
