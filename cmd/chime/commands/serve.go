package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chimeworks/chime/bus"
	"github.com/chimeworks/chime/config"
	"github.com/chimeworks/chime/db"
	"github.com/chimeworks/chime/dispatch"
	"github.com/chimeworks/chime/errors"
	"github.com/chimeworks/chime/logger"
	"github.com/chimeworks/chime/schedule"
	"github.com/chimeworks/chime/server"
)

// ServiceName identifies the daemon itself on the event bus
const ServiceName = "chime"

// ServeCmd starts the Chime daemon: scheduler, workers, reaper, event
// bus, and the admin HTTP server
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Chime daemon",
	Long: `Start the Chime daemon.

Runs the scheduler tick loop, the execution worker pool, the stale
execution reaper, and the admin HTTP API in one process. Declarative
job sources listed under jobs.paths are registered at startup.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("config", "", "Path to a chime.toml config file")
	ServeCmd.Flags().StringSlice("jobs", nil, "YAML job source files (overrides jobs.paths)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if err := logger.Initialize(cfg.Log.JSON); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus
	var broker bus.Broker
	switch cfg.Bus.Broker {
	case "redis":
		redisBroker, err := bus.NewRedisBroker(ctx, bus.RedisConfig{
			Addr: cfg.Bus.RedisAddr,
			DB:   cfg.Bus.RedisDB,
		})
		if err != nil {
			return err
		}
		broker = redisBroker
	default:
		broker = bus.NewMemoryBroker()
	}
	defer broker.Close()
	eventBus := bus.NewBus(broker, ServiceName, log.Named("bus"))

	// Job definitions and execution ledger
	jobs := schedule.NewStore(conn)
	dispatcher := dispatch.NewDispatcher(conn)

	jobPaths, _ := cmd.Flags().GetStringSlice("jobs")
	if len(jobPaths) == 0 {
		jobPaths = cfg.Jobs.Paths
	}
	if len(jobPaths) > 0 {
		result, err := schedule.LoadFiles(jobs, jobPaths)
		if err != nil {
			return err
		}
		log.Infow("Loaded declarative job sources",
			"sources", len(jobPaths),
			"registered", len(result.Registered),
			"skipped", len(result.Errors),
		)
	}

	// Workers
	registry := dispatch.NewRegistry()
	registerBuiltinTargets(registry, eventBus)
	pool := dispatch.NewWorkerPool(ctx, dispatcher, registry, eventBus, dispatch.WorkerPoolConfig{
		Workers:      cfg.Worker.Workers,
		PollInterval: time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
	}, log.Named("worker"))
	pool.Start()
	defer pool.Stop()

	// Reaper
	reaper := dispatch.NewReaper(ctx, dispatcher.Store(), dispatch.ReaperConfig{
		Interval:   1 * time.Minute,
		StaleAfter: time.Duration(cfg.Worker.StaleAfterSeconds) * time.Second,
		Retain:     cfg.Worker.RetainedExecutions,
	}, log.Named("reaper"))
	reaper.Start()
	defer reaper.Stop()

	// Scheduler
	scheduler := schedule.NewScheduler(ctx, jobs, dispatcher, schedule.SchedulerConfig{
		Interval: time.Duration(cfg.Scheduler.TickerIntervalSeconds) * time.Second,
	}, log.Named("scheduler"))
	scheduler.Start()
	defer scheduler.Stop()

	// Admin API
	port := config.DefaultServerPort
	if cfg.Server.Port != nil {
		port = *cfg.Server.Port
	}
	adminServer := server.New(jobs, dispatcher, server.Config{
		Port:          port,
		RunOnRegister: cfg.Scheduler.RunOnRegister,
	}, log.Named("server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(adminServer.Start)
	g.Go(func() error {
		// gctx closes when the admin server fails; either way the
		// server gets a graceful shutdown window
		select {
		case sig := <-sigCh:
			log.Infow("Shutting down", "signal", sig.String())
		case <-gctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Admin server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("Admin server failed", "error", err)
		return err
	}
	return nil
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// registerBuiltinTargets installs the targets the daemon itself ships
// with. Services embedding chime register their own targets instead.
func registerBuiltinTargets(registry *dispatch.Registry, eventBus *bus.Bus) {
	// Liveness probe target: broadcasts a heartbeat event so any
	// subscribed service can verify end-to-end scheduling
	registry.Register("chime.tasks:heartbeat", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		payload := map[string]any{"at": time.Now().UTC().Format(time.RFC3339)}
		for k, v := range kwargs {
			payload[k] = v
		}
		if err := eventBus.Publish(ctx, "chime.heartbeat", "", payload); err != nil {
			return nil, err
		}
		return "ok", nil
	})
}
