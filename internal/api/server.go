package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/db"
	"github.com/energizer-project/pingcache/internal/health"
	intnet "github.com/energizer-project/pingcache/internal/network"
	"github.com/energizer-project/pingcache/internal/server"
	"github.com/energizer-project/pingcache/internal/util"
)

// Options are the collaborators of the admin API.
type Options struct {
	Config  *config.Config
	Manager *server.Manager
	Audit   *db.AuditLog
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// Health backs /api/monitor/health when set.
	Health HealthReporter
	Logger zerolog.Logger
}

// HealthReporter returns the latest health report.
type HealthReporter interface {
	Last() (health.Report, bool)
}

// Server is the admin REST API.
type Server struct {
	cfg     *config.Config
	manager *server.Manager
	audit   *db.AuditLog
	metrics http.Handler
	health  HealthReporter
	logger  zerolog.Logger

	httpServer *http.Server
	ready      chan struct{}
	addr       net.Addr
}

// NewServer creates the API server. The router is built on Start.
func NewServer(opts Options) *Server {
	if opts.Config.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     opts.Config,
		manager: opts.Manager,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  opts.Logger,
		ready:   make(chan struct{}),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	appData := s.cfg.GetApplicationData()
	addr := appData.API.Address

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sec := appData.Security
	if sec.TLSEnabled {
		host, _, _ := net.SplitHostPort(addr)
		if err := util.EnsureCertificate(sec.TLSCertFile, sec.TLSKeyFile, host); err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
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
		return fmt.Errorf("failed to start API server on %s: %w", addr, err)
	}
	s.addr = ln.Addr()
	close(s.ready)

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", sec.TLSEnabled).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Ready is closed once the server is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, nil before Ready.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.addr
	default:
		return nil
	}
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	sec := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
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

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	auth := NewAuthMiddleware(s.cfg)

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/status", s.handleManagerStatus)
		monitor.GET("/holders", s.handleHolders)
		monitor.GET("/audit", s.handleAudit)
		monitor.GET("/usage", s.handleUsage)
		monitor.GET("/config", s.handleGetConfig)
		monitor.GET("/health", s.handleHealth)
	}

	control := protected.Group("/control")
	{
		control.POST("/reload", s.handleReload)
		control.GET("/maintenance", s.handleGetMaintenance)
		control.POST("/maintenance", s.handleSetMaintenance)
		control.POST("/maintenance/toggle", s.handleToggleMaintenance)
		control.GET("/shutdown", s.handleGetShutdown)
		control.POST("/shutdown", s.handleSetShutdown)
		control.POST("/shutdown/toggle", s.handleToggleShutdown)
		control.GET("/whitelist", s.handleListWhitelist)
		control.POST("/whitelist", s.handleAddWhitelist)
		control.DELETE("/whitelist", s.handleRemoveWhitelist)
		control.POST("/players", s.handleSetPlayers)
		control.POST("/validate", s.handleValidate)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "pingcache admin API is running"})
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
