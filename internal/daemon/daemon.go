package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/config"
	"curator/internal/deps"
	"curator/internal/jobqueue"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/poll"
	"curator/internal/preflight"
	"curator/internal/recordstore"
	"curator/internal/registry"
)

// Daemon owns the long-running engines: the poll engine for inline steps and
// the worker pool engine for queued steps. A flock on the log directory
// guarantees a single instance per host.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	records  recordstore.API
	reg      *registry.Registry
	jobs     *jobqueue.Store
	workers  *jobqueue.Engine
	poller   *poll.Engine
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information for the control surface.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	JobDBPath    string
	Poll         poll.Summary
	Queues       []jobqueue.Depth
	Steps        []registry.Health
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, records recordstore.API, reg *registry.Registry, jobs *jobqueue.Store, workers *jobqueue.Engine, poller *poll.Engine, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || records == nil || reg == nil || jobs == nil || workers == nil || poller == nil {
		return nil, errors.New("daemon requires config, record store, registry, job store, and engines")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "curatord.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		records:  records,
		reg:      reg,
		jobs:     jobs,
		workers:  workers,
		poller:   poller,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, recovers orphaned jobs, launches the
// worker pools, and begins the poll loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator daemon instance is already running")
	}

	results := preflight.RunAll(ctx, d.cfg)
	for _, res := range results {
		if res.Passed {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", res.Name),
			logging.String("detail", res.Detail),
		)
	}

	// Jobs left running by a previous process are orphans; hand them back
	// to the queue before the pools start claiming.
	cutoff := time.Now().Add(-d.jobTimeout())
	released, err := d.jobs.ReleaseStale(ctx, cutoff)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("release stale jobs: %w", err)
	}
	if released > 0 {
		d.logger.Info("requeued stale jobs", logging.Int("count", released))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workers.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workers: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(runCtx)
	}()

	d.logger.Info("curator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("job_db", d.jobs.Path()),
	)
	return nil
}

// pollLoop runs the poll engine repeatedly. Each run exits when the record
// store has no actionable items or the max run duration elapses, so the loop
// sleeps one poll interval and starts the next run.
func (d *Daemon) pollLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		started := time.Now()
		if err := d.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("poll run ended with error", logging.Error(err))
		}
		summary := d.poller.Status()
		if summary.LastAdvanced > 0 || summary.Cycles > 1 {
			if err := d.notifier.NotifyRunCompleted(ctx, summary.LastAdvanced, summary.Cycles, time.Since(started)); err != nil {
				d.logger.Warn("run notification failed", logging.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Stop halts the engines and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.workers.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.jobs != nil {
		if err := d.jobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job store: %w", err))
		}
	}
	if err := os.Remove(d.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	return errors.Join(errs...)
}

// Running reports whether Start has been called without a matching Stop.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status gathers a runtime snapshot across both engines, step health, and
// external tool availability.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		JobDBPath:    d.jobs.Path(),
		Poll:         d.poller.Status(),
		Dependencies: deps.CheckBinaries(deps.Required()),
	}

	depths, err := d.jobs.Depths(ctx)
	if err != nil {
		d.logger.Warn("queue depth query failed", logging.Error(err))
	} else {
		st.Queues = depths
	}

	for _, def := range d.reg.Steps() {
		st.Steps = append(st.Steps, def.Handler.HealthCheck(ctx))
	}
	return st
}

// DeadLetter lists jobs parked in the dead-letter registry.
func (d *Daemon) DeadLetter(ctx context.Context) ([]*jobqueue.Job, error) {
	return d.jobs.DeadLetter(ctx)
}

// Requeue moves a dead job back to queued for another attempt.
func (d *Daemon) Requeue(ctx context.Context, jobID string) error {
	if err := d.jobs.Requeue(ctx, jobID); err != nil {
		return err
	}
	d.logger.Info("requeued dead job", logging.String("job_id", jobID))
	return nil
}

// ClearDone removes completed job rows older than the given age.
func (d *Daemon) ClearDone(ctx context.Context, olderThan time.Duration) (int, error) {
	return d.jobs.ClearDone(ctx, time.Now().Add(-olderThan))
}

// TestNotification sends a test message through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

func (d *Daemon) jobTimeout() time.Duration {
	if d.cfg.Workers.JobTimeout > 0 {
		return time.Duration(d.cfg.Workers.JobTimeout) * time.Second
	}
	return 10 * time.Minute
}
