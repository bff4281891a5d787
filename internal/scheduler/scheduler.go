// Package scheduler runs the periodic background jobs of the server: the
// master server heartbeat, log retention, the lag report and daily stats.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

// Job is a named task run every Interval. With Daily set the job runs
// once a day at that time of day instead.
type Job struct {
	Name       string
	Interval   time.Duration
	Daily      *TimeOfDay
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// TimeOfDay is a local wall clock time.
type TimeOfDay struct {
	Hour, Minute int
}

// JobStatus is the run history of a job.
type JobStatus struct {
	Name      string    `json:"name"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   []Job
	status map[string]*JobStatus
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		status: make(map[string]*JobStatus),
		logger: util.ComponentLogger("scheduler"),
	}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if job.Daily == nil && job.Interval <= 0 {
		return fmt.Errorf("job %s needs an interval", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.status[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = &JobStatus{Name: job.Name}
	return nil
}

// Start runs every job until ctx is cancelled and waits for them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.RUnlock()

	s.logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	for _, job := range jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.RunAtStart {
		s.runJob(ctx, job)
	}
	for {
		wait := job.Interval
		if job.Daily != nil {
			next := nextDailyRun(time.Now(), *job.Daily)
			wait = time.Until(next)
			s.logger.Debug().Str("job", job.Name).Time("next_run", next).Msg("job scheduled")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runJob(ctx, job)
		}
	}
}

// runJob runs a job once, recovering panics.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = job.Run(ctx)
	}()

	s.mu.Lock()
	st := s.status[job.Name]
	st.Runs++
	st.LastRun = time.Now()
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("job", job.Name).Msg("job failed")
	}
}

// Status returns the run history of every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// nextDailyRun returns the next time after now at the given time of day.
func nextDailyRun(now time.Time, at TimeOfDay) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// LogRetentionJob removes old log files once a day.
func LogRetentionJob(cfg *config.Config) Job {
	return Job{
		Name:  "log_retention",
		Daily: &TimeOfDay{Hour: 4},
		Run: func(context.Context) error {
			lc := cfg.GetLogging()
			removed := util.CleanOldLogs(lc.Directory, lc.MaxBackups)
			logger := util.ComponentLogger("scheduler")
			logger.Info().
				Int("removed", removed).
				Str("directory", lc.Directory).
				Msg("log retention completed")
			return nil
		},
	}
}

// LevelStatsJob logs the size of the level directory once a day.
func LevelStatsJob(cfg *config.Config) Job {
	return Job{
		Name:  "level_stats",
		Daily: &TimeOfDay{Hour: 4, Minute: 30},
		Run: func(context.Context) error {
			dir := cfg.GetPaths().Levels
			files, size, err := dirSize(dir)
			if err != nil {
				return err
			}
			logger := util.ComponentLogger("scheduler")
			logger.Info().
				Int("level_files", files).
				Str("size", formatBytes(size)).
				Msg("daily level stats collected")
			return nil
		},
	}
}

func dirSize(dir string) (int, int64, error) {
	var (
		files int
		size  int64
	)
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size, err
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Beater sends one master server heartbeat.
type Beater interface {
	Beat(ctx context.Context) error
}

// HeartbeatJob announces the server every interval, starting immediately.
func HeartbeatJob(b Beater, interval time.Duration) Job {
	return Job{
		Name:       "heartbeat",
		Interval:   interval,
		RunAtStart: true,
		Run:        b.Beat,
	}
}

// LagReportJob logs a summary of the tick lag statistics.
func LagReportJob(lag *server.LagMonitor, interval time.Duration) Job {
	return Job{
		Name:     "lag_report",
		Interval: interval,
		Run: func(context.Context) error {
			stats := lag.Stats()
			if stats.LongTicks == 0 {
				return nil
			}
			logger := util.ComponentLogger("scheduler")
			logger.Info().
				Uint64("ticks", stats.TotalTicks).
				Int("long_ticks", stats.LongTicks).
				Int("last_hour", stats.EventsThisHour).
				Float64("max_ms", stats.MaxDuration).
				Float64("avg_ms", stats.AvgDuration).
				Msg("tick lag report")
			return nil
		},
	}
}
