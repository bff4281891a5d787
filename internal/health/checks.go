// Package health implements periodic health checks: disk space under the
// level directory and a status snapshot published for telemetry.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/scheduler"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

const (
	diskCheckInterval   = 10 * time.Minute
	statusCheckInterval = time.Minute
)

// Manager runs the health checks as scheduler jobs.
type Manager struct {
	cfg    *config.Config
	game   *server.Server
	logger zerolog.Logger

	// diskUsage is swapped in tests.
	diskUsage func(path string) (*util.DiskUsage, error)
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, game *server.Server) *Manager {
	return &Manager{
		cfg:       cfg,
		game:      game,
		logger:    util.ComponentLogger("health"),
		diskUsage: util.GetDiskUsage,
	}
}

// Jobs returns the health checks to register with the scheduler.
func (m *Manager) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: "disk_utilization", Interval: diskCheckInterval, RunAtStart: true, Run: m.checkDiskUtilization},
		{Name: "status_report", Interval: statusCheckInterval, Run: m.reportStatus},
	}
}

// checkDiskUtilization warns when the volume holding the levels fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) error {
	path := m.cfg.GetPaths().Levels
	usage, err := m.diskUsage(path)
	if err != nil {
		return fmt.Errorf("disk utilization check failed: %w", err)
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskAlertLevel(usage.UsedPercent)
	if level == "" {
		return nil
	}
	m.logger.Warn().
		Str("alert", level).
		Str("path", path).
		Msgf("Disk usage at %.1f%% (%d GB free of %d GB total)", usage.UsedPercent, usage.Free, usage.Total)
	return nil
}

// diskAlertLevel maps a usage percentage to an alert level, or "" below
// the first threshold.
func diskAlertLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	}
	return ""
}

// reportStatus publishes a status snapshot on the event bus.
func (m *Manager) reportStatus(ctx context.Context) error {
	m.game.Events().Emit(ctx, events.New(events.EventServerStatus, "health", m.game.Status()))
	return nil
}
