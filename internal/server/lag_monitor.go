package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/events"
)

const (
	// LagWarningThreshold is the number of long ticks per hour before warning.
	LagWarningThreshold = 20
	// LagCriticalThreshold is the number of long ticks per hour that is
	// reported as critical.
	LagCriticalThreshold = 100

	lagHistorySize = 1000
)

// LagMonitor tracks ticks that overran their budget.
type LagMonitor struct {
	mu       sync.RWMutex
	eventBus *events.EventBus
	budget   time.Duration

	stats LagStats

	warningThreshold  int
	criticalThreshold int
}

// LagStats is the aggregated long tick data.
type LagStats struct {
	TotalTicks     uint64      `json:"total_ticks"`
	LongTicks      int         `json:"long_ticks"`
	EventsThisHour int         `json:"events_this_hour"`
	LastEventTime  time.Time   `json:"last_event_time"`
	MaxDuration    float64     `json:"max_duration_ms"`
	AvgDuration    float64     `json:"avg_duration_ms"`
	History        []LagEvent  `json:"history"`
	HourlyBuckets  map[int]int `json:"hourly_buckets"`
}

// LagEvent is a single long tick.
type LagEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration_ms"`
	Players   int       `json:"players"`
}

// LagAlert is a threshold alert.
type LagAlert struct {
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewLagMonitor creates a lag monitor for ticks with the given budget.
func NewLagMonitor(eventBus *events.EventBus, budget time.Duration) *LagMonitor {
	return &LagMonitor{
		eventBus: eventBus,
		budget:   budget,
		stats: LagStats{
			History:       make([]LagEvent, 0, 100),
			HourlyBuckets: make(map[int]int),
		},
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
}

// Record accounts one tick. Ticks over budget are stored and published as
// long_tick events.
func (lm *LagMonitor) Record(ctx context.Context, d time.Duration, players int) bool {
	lm.mu.Lock()
	lm.stats.TotalTicks++
	if d <= lm.budget {
		lm.mu.Unlock()
		return false
	}

	now := time.Now()
	ms := float64(d) / float64(time.Millisecond)
	data := &lm.stats
	data.LongTicks++
	data.LastEventTime = now
	data.History = append(data.History, LagEvent{Timestamp: now, Duration: ms, Players: players})
	if ms > data.MaxDuration {
		data.MaxDuration = ms
	}

	total := 0.0
	for _, e := range data.History {
		total += e.Duration
	}
	data.AvgDuration = total / float64(len(data.History))
	data.HourlyBuckets[now.Hour()]++

	oneHourAgo := now.Add(-time.Hour)
	count := 0
	for _, e := range data.History {
		if e.Timestamp.After(oneHourAgo) {
			count++
		}
	}
	data.EventsThisHour = count

	if len(data.History) > lagHistorySize {
		data.History = data.History[len(data.History)-lagHistorySize:]
	}
	lm.mu.Unlock()

	if lm.eventBus != nil {
		lm.eventBus.Emit(ctx, events.New(events.EventLongTick, "lag_monitor", events.LongTickPayload{
			Duration: d,
			Budget:   lm.budget,
			Players:  players,
		}))
	}
	return true
}

// Stats returns a copy of the aggregated data.
func (lm *LagMonitor) Stats() LagStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := lm.stats
	out.History = append([]LagEvent(nil), lm.stats.History...)
	out.HourlyBuckets = make(map[int]int, len(lm.stats.HourlyBuckets))
	for k, v := range lm.stats.HourlyBuckets {
		out.HourlyBuckets[k] = v
	}
	return out
}

// CheckThresholds compares the last hour against the alert thresholds.
func (lm *LagMonitor) CheckThresholds() []LagAlert {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	n := lm.stats.EventsThisHour
	msg := fmt.Sprintf("%d long ticks in the last hour (budget %s)", n, lm.budget)
	switch {
	case n >= lm.criticalThreshold:
		return []LagAlert{{Level: "critical", Events: n, Message: msg}}
	case n >= lm.warningThreshold:
		return []LagAlert{{Level: "warning", Events: n, Message: msg}}
	}
	return nil
}

// Start runs periodic threshold checks until ctx is cancelled.
func (lm *LagMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range lm.CheckThresholds() {
				ev := log.Warn()
				if alert.Level == "critical" {
					ev = log.Error()
				}
				ev.Str("level", alert.Level).
					Int("events", alert.Events).
					Msg("tick lag threshold alert")
			}
		}
	}
}
