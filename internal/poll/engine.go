package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/recordstore"
	"curator/internal/registry"
)

// Enqueuer hands an item at a queued-step status to the durable job queue.
// Ensure must deduplicate: one active job per (step, item).
type Enqueuer interface {
	Ensure(ctx context.Context, step, itemID string) (bool, error)
}

// Engine drives inline steps through repeated scan cycles.
type Engine struct {
	cfg      *config.Config
	store    recordstore.API
	reg      *registry.Registry
	enqueuer Enqueuer
	logger   *slog.Logger

	pollInterval  time.Duration
	errorInterval time.Duration
	maxRun        time.Duration
	stepTimeout   time.Duration
	maxChainDepth int

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	summary  Summary
	interval func(ctx context.Context, d time.Duration) bool
}

// Summary captures engine progress for the status surface.
type Summary struct {
	Running      bool
	StartedAt    time.Time
	FinishedAt   time.Time
	StopReason   string
	Cycles       int
	LastScanned  int
	LastAdvanced int
	LastError    string
}

// NewEngine constructs a poll engine. The enqueuer may be nil, in which case
// queued-step statuses are skipped entirely.
func NewEngine(cfg *config.Config, store recordstore.API, reg *registry.Registry, enq Enqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:           cfg,
		store:         store,
		reg:           reg,
		enqueuer:      enq,
		logger:        logging.NewComponentLogger(logger, "poll"),
		pollInterval:  time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		maxRun:        time.Duration(cfg.Workflow.MaxRunDuration) * time.Second,
		stepTimeout:   time.Duration(cfg.Workflow.StepTimeout) * time.Second,
		maxChainDepth: cfg.Workflow.MaxChainDepth,
		interval:      sleepInterval,
	}
}

// Start begins background polling. Returns an error when already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("poll engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.summary = Summary{Running: true, StartedAt: time.Now().UTC()}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.run(runCtx)
	}()
	return nil
}

// Stop terminates polling and waits for the current cycle to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

// Run executes cycles until the scan comes back empty, the configured max
// duration elapses, or the context is cancelled. Used directly for
// foreground one-shot runs; Start wraps it for daemon use.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("poll engine already running")
	}
	e.running = true
	e.summary = Summary{Running: true, StartedAt: time.Now().UTC()}
	e.mu.Unlock()

	e.run(ctx)

	e.mu.RLock()
	err := e.lastErr
	e.mu.RUnlock()
	return err
}

func (e *Engine) run(ctx context.Context) {
	deadline := time.Now().Add(e.maxRun)

	defer func() {
		e.mu.Lock()
		e.running = false
		e.summary.Running = false
		e.summary.FinishedAt = time.Now().UTC()
		e.mu.Unlock()
	}()

	e.logger.Info("poll engine started",
		logging.Duration("poll_interval", e.pollInterval),
		logging.Duration("max_run", e.maxRun),
	)

	for {
		select {
		case <-ctx.Done():
			e.setStopReason("cancelled")
			return
		default:
		}
		if time.Now().After(deadline) {
			e.setStopReason("max run duration reached")
			e.logger.Info("poll engine stopping", logging.String("reason", "max_run_duration"))
			return
		}

		scanned, err := e.Cycle(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				e.setStopReason("cancelled")
				return
			}
			e.setLastError(err)
			e.logger.Error("poll cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "poll_cycle_failed"),
				logging.String(logging.FieldErrorHint, "check record store connectivity"),
			)
			if !e.interval(ctx, e.errorInterval) {
				e.setStopReason("cancelled")
				return
			}
			continue
		}

		if scanned == 0 {
			e.setStopReason("no actionable items")
			e.logger.Info("poll engine stopping", logging.String("reason", "queue_drained"))
			return
		}

		if !e.interval(ctx, e.pollInterval) {
			e.setStopReason("cancelled")
			return
		}
	}
}

// Status returns a snapshot of engine progress.
func (e *Engine) Status() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summary
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	if err != nil {
		e.summary.LastError = err.Error()
	}
	e.mu.Unlock()
}

func (e *Engine) setStopReason(reason string) {
	e.mu.Lock()
	e.summary.StopReason = reason
	e.mu.Unlock()
}

func sleepInterval(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
