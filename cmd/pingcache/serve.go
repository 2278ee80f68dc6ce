package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/pingcache/internal/api"
	"github.com/energizer-project/pingcache/internal/cli"
	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/db"
	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/health"
	"github.com/energizer-project/pingcache/internal/network"
	"github.com/energizer-project/pingcache/internal/scheduler"
	"github.com/energizer-project/pingcache/internal/server"
	"github.com/energizer-project/pingcache/internal/telemetry"
	"github.com/energizer-project/pingcache/internal/util"
)

const (
	auditRetention  = 30 * 24 * time.Hour
	housekeepingAt  = "04:00"
	shutdownTimeout = 30 * time.Second
	bindRetries     = 15
)

func serveCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the status responder (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configDir)
		},
	}
}

func runServe(configDir string) error {
	printBanner()

	// Defaults first, reconfigured once the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting pingcache")

	firstRun := config.IsFirstRun(configDir)
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.GetApplicationData().Logging
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxAgeDays: logging.MaxAgeDays,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if firstRun {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	appData := cfg.GetApplicationData()
	database, err := db.NewDatabase(appData.Database.Path, util.ComponentLogger("database"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	audit := db.NewAuditLog(database)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus(events.WithLogger(util.ComponentLogger("events")))
	sched := scheduler.NewScheduler(ctx, util.ComponentLogger("scheduler"))

	metrics := telemetry.NewMetrics()
	metrics.Attach(eventBus)

	mgr, err := server.NewManager(server.Options{
		Config:     cfg,
		Bus:        eventBus,
		Scheduler:  sched,
		Whitelist:  db.NewWhitelistStore(database),
		Audit:      audit,
		OnShutdown: cancel,
		Logger:     util.ComponentLogger("manager"),
	})
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to create manager: %w", err), database.Close())
	}
	if err := mgr.Start(ctx); err != nil {
		return multierr.Append(fmt.Errorf("failed to build content: %w", err), database.Close())
	}
	metrics.SetMaintenance(mgr.Maintenance())

	listenerData := cfg.GetListener()
	listener := network.NewStatusListener(network.ListenerOptions{
		Address:      listenerData.Address,
		ReadTimeout:  time.Duration(listenerData.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(listenerData.WriteTimeoutSec) * time.Second,
		Responder:    mgr,
		Login:        mgr,
		Observer:     metrics,
		Bus:          eventBus,
		Logger:       util.ComponentLogger("listener"),
	})
	listener.AddConnectionHook(metrics)
	listener.AddConnectionHook(mgr)

	healthMgr := health.NewManager(health.Options{
		ListenAddress: listenerData.Address,
		Interval:      time.Duration(appData.Timers.HealthCheckInterval) * time.Second,
		Content:       mgr,
		Bus:           eventBus,
		Logger:        util.ComponentLogger("health"),
	})

	if err := sched.Daily("housekeeping", housekeepingAt, func(ctx context.Context) {
		housekeeping(audit, cfg.GetApplicationData().Logging)
	}); err != nil {
		log.Warn().Err(err).Msg("failed to schedule housekeeping")
	}

	if statsEvery := time.Duration(appData.Timers.StatsInterval) * time.Second; statsEvery > 0 {
		if err := sched.Every("stats", statsEvery, func(ctx context.Context) {
			logStats(mgr, listener, eventBus)
		}); err != nil {
			log.Warn().Err(err).Msg("failed to schedule stats task")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return startWithRetry(gctx, "status listener", listener.Start, bindRetries)
	})

	g.Go(func() error {
		return healthMgr.Start(gctx)
	})

	if appData.API.Enabled {
		apiServer := api.NewServer(api.Options{
			Config:  cfg,
			Manager: mgr,
			Audit:   audit,
			Metrics: metrics.Handler(),
			Health:  healthMgr,
			Logger:  util.ComponentLogger("api"),
		})
		g.Go(func() error {
			// Non-fatal: the responder keeps serving without its admin API.
			if err := startWithRetry(gctx, "admin API", apiServer.Start, bindRetries); err != nil {
				log.Warn().Err(err).Msg("admin API failed after retries")
			}
			return nil
		})
	}

	if listenerData.LAN.Enabled {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-listener.Ready():
			}
			port := 0
			if addr, ok := listener.Addr().(*net.TCPAddr); ok {
				port = addr.Port
			}
			announcer := network.NewLANAnnouncer(
				listenerData.LAN.Group,
				port,
				time.Duration(listenerData.LAN.IntervalMillis)*time.Millisecond,
				mgr.Announcement,
				util.ComponentLogger("lan"),
			)
			if err := announcer.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("LAN announcer stopped")
			}
			return nil
		})
	}

	if appData.MQTT.Enabled {
		publisher, err := telemetry.NewMQTTPublisher(appData.MQTT, eventBus, util.ComponentLogger("mqtt"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			g.Go(func() error {
				if err := publisher.Start(gctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
				return nil
			})
		}
	}

	console := cli.NewCLI(cli.Options{
		Manager: mgr,
		Audit:   audit,
		Bus:     eventBus,
		In:      os.Stdin,
		Out:     os.Stdout,
		OnQuit:  cancel,
	})
	go func() {
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		if err := console.Start(gctx); err != nil {
			log.Warn().Err(err).Msg("console stopped")
		}
	}()

	<-gctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
		if runErr != nil {
			log.Error().Err(runErr).Msg("critical error, shutting down")
		} else {
			log.Info().Msg("all tasks stopped gracefully")
		}
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	runErr = multierr.Combine(runErr, mgr.Close())
	sched.Stop()
	eventBus.Stop()
	runErr = multierr.Append(runErr, database.Close())

	log.Info().Msg("pingcache stopped")
	return runErr
}

// logStats writes one summary line of what the responder is serving.
func logStats(mgr *server.Manager, listener *network.StatusListener, bus *events.EventBus) {
	st := mgr.Status()
	log.Info().
		Int64("generation", st.Generation).
		Bool("maintenance", st.Maintenance).
		Int("online", st.Occupancy.Online).
		Int("max", st.Occupancy.Max).
		Int("open_connections", listener.Connections().Count()).
		Uint64("connections", listener.Connections().Total()).
		Uint64("dropped_events", bus.Dropped()).
		Msg("stats")
}

// housekeeping prunes the audit log and removes expired log files.
func housekeeping(audit *db.AuditLog, logging config.LoggingConfig) {
	pruned, err := audit.Prune(auditRetention)
	if err != nil {
		log.Warn().Err(err).Msg("failed to prune audit log")
	} else if pruned > 0 {
		log.Info().Int64("entries", pruned).Msg("pruned audit log")
	}

	if logging.Directory != "" && logging.MaxAgeDays > 0 {
		if removed := util.CleanOldLogs(logging.Directory, logging.MaxAgeDays, time.Now()); removed > 0 {
			log.Info().Int("files", removed).Msg("removed old log files")
		}
	}
}

// startWithRetry starts a listener, retrying bind failures at a fixed
// interval while a previous process releases the port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
