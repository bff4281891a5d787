package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/connector"
	intnet "github.com/cubeforge-project/cubeforge/internal/network"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

const defaultRateLimitRPS = 20

// Server is the REST API and web console server.
type Server struct {
	cfg       *config.Config
	game      *server.Server
	heartbeat *connector.Heartbeat
	console   *Console
	logger    zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server for game.
func NewServer(cfg *config.Config, game *server.Server) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		game:   game,
		logger: util.ComponentLogger("api"),
	}
	s.console = NewConsole(game, cfg.GetAPI().AllowedOrigins)
	s.router = s.buildRouter()
	return s
}

// SetHeartbeat lets the status endpoint report the master server join URL.
func (s *Server) SetHeartbeat(hb *connector.Heartbeat) {
	s.heartbeat = hb
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		if !util.FileExists(apiCfg.TLSCertFile) || !util.FileExists(apiCfg.TLSKeyFile) {
			s.logger.Info().Str("cert", apiCfg.TLSCertFile).Msg("generating self-signed certificate")
			if err := util.GenerateSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile); err != nil {
				return fmt.Errorf("failed to generate API certificate: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	s.console.Start()
	defer s.console.Stop()

	s.logger.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	apiCfg := s.cfg.GetAPI()
	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(defaultRateLimitRPS).Middleware())

	auth := NewAuthMiddleware(s.cfg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", s.handlePing)
		v1.GET("/status", s.handleStatus)
		v1.GET("/players", s.handlePlayers)
		v1.GET("/levels", s.handleLevels)
		v1.GET("/bans", s.handleBans)
		v1.GET("/system", s.handleSystem)
		v1.GET("/lag", s.handleLag)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireToken())
	{
		protected.GET("/logs", s.handleLogs)
		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/server", s.handleSetServerField)
		protected.POST("/config/reload", s.handleReload)
		protected.POST("/command", s.handleCommand)
		protected.POST("/broadcast", s.handleBroadcast)
		protected.POST("/save", s.handleSave)
		protected.POST("/players/:name/kick", s.handleKick)
		protected.POST("/bans", s.handleAddBan)
		protected.DELETE("/bans/:name", s.handleRemoveBan)
		protected.GET("/console", s.console.Handle)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
