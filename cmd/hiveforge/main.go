package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.temporal.io/sdk/activity"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/api"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/health"
	"github.com/k-iijima/hiveforge/internal/scheduler"
	"github.com/k-iijima/hiveforge/internal/sink"
	"github.com/k-iijima/hiveforge/internal/temporal"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "hiveforge.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	dryRun := flag.Bool("dry-run", false, "start the scheduler paused, issuing no dispatches")
	once := flag.Bool("once", false, "run a single scheduler tick then exit")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)
	bootLogger.Info("hiveforge starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lockPath := "/tmp/hiveforge.lock"
	if cfg.General.LockFile != "" {
		lockPath = config.ExpandHome(cfg.General.LockFile)
	}
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer health.ReleaseFlock(lockFile)

	vault, err := akashic.Open(cfg.General.VaultDir, logger.With("component", "akashic"))
	if err != nil {
		logger.Error("failed to open akashic vault", "path", cfg.General.VaultDir, "error", err)
		os.Exit(1)
	}
	defer vault.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.Scheduler.TemporalHostPort})
	if err != nil {
		logger.Error("failed to connect to temporal", "error", err)
		os.Exit(1)
	}
	defer tc.Close()

	dispatcher := scheduler.NewTemporalDispatcher(ctx, tc, cfg.Scheduler.TemporalTaskQueue)
	sched := scheduler.New(vault, dispatcher, logger.With("component", "scheduler"), cfg.General.TickInterval.Duration)
	if *dryRun {
		sched.Pause()
		logger.Info("dry-run mode: scheduler starts paused")
	}

	if *once {
		logger.Info("running single tick (--once mode)")
		sched.Resume()
		go sched.Run(ctx)
		time.Sleep(cfg.General.TickInterval.Duration + time.Second)
		cancel()
		return
	}

	go sched.Run(ctx)

	acts := newAgentActivities(vault, cfg)
	go func() {
		logger.Info("starting temporal worker", "task_queue", cfg.Scheduler.TemporalTaskQueue)
		runActivity := func(actCtx activity.Context, req temporal.AgentTurnRequest) (temporal.AgentTurnResult, error) {
			return acts.RunAgentTurnActivity(actCtx, req)
		}
		if err := temporal.StartWorker(cfg.Scheduler.TemporalHostPort, cfg.Scheduler.TemporalTaskQueue, runActivity); err != nil {
			logger.Error("temporal worker error", "error", err)
		}
	}()

	var sinks []sink.Sink
	if cfg.Sinks.GitHub.Enabled {
		runner := sink.NewExecRunner(cfg.Sinks.GitHub.Workspace)
		sinks = append(sinks, sink.NewGitHubSink(runner, cfg.Sinks.GitHub.Workspace, cfg.Sinks.GitHub.Repo))
	}
	if len(sinks) > 0 {
		tailer := sink.NewTailer(vault, sinks, logger.With("component", "sink"), cfg.General.TickInterval.Duration)
		go tailer.Run(ctx)
	}

	apiSrv, err := api.NewServer(cfg, vault, sched, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("hiveforge running",
		"bind", cfg.API.Bind,
		"tick_interval", cfg.General.TickInterval.Duration.String(),
		"vault_dir", cfg.General.VaultDir,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			reloaded, err := config.Reload(*configPath)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			cfgManager.Set(reloaded)
			cfg = reloaded
			logger = configureLogger(cfg.General.LogLevel, *dev)
			slog.SetDefault(logger)
			logger.Info("config reloaded")
		case syscall.SIGINT, syscall.SIGTERM:
			start := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			logger.Info("hiveforge stopped", "shutdown_duration", time.Since(start).String())
			return
		}
	}
}
