package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/ipc"
	"curator/internal/jobqueue"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/poll"
	"curator/internal/recordstore"
	"curator/internal/services/llm"
	"curator/internal/steps"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the curator daemon runtime loop. It blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		LogDir: cfg.Paths.LogDir,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "curatord.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	records := recordstore.NewClient(cfg.Store)
	llmClient := llm.NewClient(cfg.LLM)

	reg, err := steps.Build(cfg, records, llmClient, logger)
	if err != nil {
		return fmt.Errorf("build step registry: %w", err)
	}

	jobs, err := jobqueue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	workers := jobqueue.NewEngine(jobs, records, reg, records, logger, jobqueue.EngineOptions{
		ClaimInterval: time.Duration(cfg.Workers.ClaimInterval) * time.Second,
		JobTimeout:    time.Duration(cfg.Workers.JobTimeout) * time.Second,
		Notifier:      notifier,
	})
	poller := poll.NewEngine(cfg, records, reg, jobqueue.NewEnqueuer(jobs, records), logger)

	d, err := daemon.New(cfg, records, reg, jobs, workers, poller, notifier, logger)
	if err != nil {
		jobs.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and job database access"),
		)
	}

	<-signalCtx.Done()
	logger.Info("curator daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
