// CubeForge - Classic voxel game server
//
// CubeForge serves the Classic protocol v7 with the CPE extensions, keeps
// levels on disk, announces itself to a master server list and exposes a
// REST API, a web console and MQTT telemetry for remote management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/api"
	"github.com/cubeforge-project/cubeforge/internal/cli"
	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/connector"
	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/events"
	"github.com/cubeforge-project/cubeforge/internal/health"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/scheduler"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/telemetry"
	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

const (
	AppName    = "CubeForge"
	AppVersion = "1.0.0"
	Banner     = `
   ____      _          _____
  / ___|   _| |__   ___|  ___|__  _ __ __ _  ___
 | |  | | | | '_ \ / _ \ |_ / _ \| '__/ _' |/ _ \
 | |__| |_| | |_) |  __/  _| (_) | | | (_| |  __/
  \____\__,_|_.__/ \___|_|  \___/|_|  \__, |\___|
                                      |___/  v%s
 Classic Voxel Game Server
`

	shutdownTimeout   = 30 * time.Second
	lagReportInterval = 5 * time.Minute
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured after the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting CubeForge")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lc := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      lc.Level,
		Directory:  lc.Directory,
		MaxBackups: lc.MaxBackups,
		Console:    lc.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	paths := cfg.GetPaths()
	database, err := db.NewDatabase(paths.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	key, err := util.LoadOrCreateServerKey(paths.KeyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load server key")
	}

	store, err := world.NewFileStore(paths.Levels)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open level directory")
	}

	eventBus := events.NewEventBus()

	game, err := server.New(server.Options{
		Config:  cfg,
		Store:   store,
		Users:   db.NewUserStore(database, key),
		Bans:    db.NewBanStore(database),
		Bus:     eventBus,
		Plugins: []plugin.Plugin{plugin.NewExtensionsPlugin()},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scfg := cfg.GetServer()
	if !config.IsPortAvailable(scfg.Port) {
		log.Warn().Int("port", scfg.Port).Msg("game port appears to be in use")
	}
	if scfg.Host == "" {
		if ip, err := util.GetLocalIP(); err == nil {
			log.Info().Str("local_ip", ip).Int("port", scfg.Port).Msg("players on this network can join at this address")
		}
	}

	if err := game.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}

	var (
		wg    sync.WaitGroup
		sched = scheduler.NewScheduler()
	)

	var heartbeat *connector.Heartbeat
	if bc := cfg.GetBroadcast(); bc.Enabled {
		heartbeat = connector.NewHeartbeat(cfg, eventBus, game, server.Software)
		interval := time.Duration(bc.IntervalSeconds) * time.Second
		mustAdd(sched, scheduler.HeartbeatJob(heartbeat, interval))
	}
	mustAdd(sched, scheduler.LogRetentionJob(cfg))
	mustAdd(sched, scheduler.LevelStatsJob(cfg))
	mustAdd(sched, scheduler.LagReportJob(game.LagMonitor(), lagReportInterval))
	for _, job := range health.NewManager(cfg, game).Jobs() {
		mustAdd(sched, job)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, game)
		if heartbeat != nil {
			apiServer.SetHeartbeat(heartbeat)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	if cfg.GetMQTT().Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	// The console reader blocks on stdin, so it is not waited for.
	go cli.NewCLI(cfg, game, os.Stdin, os.Stdout).Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-game.StopRequested():
		log.Info().Msg("stop requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")
	game.Shutdown(shutdownTimeout)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("CubeForge stopped")
}

func mustAdd(s *scheduler.Scheduler, job scheduler.Job) {
	if err := s.Add(job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name).Msg("failed to register job")
	}
}
