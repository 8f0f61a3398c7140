package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/recordstore"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// SessionSource supplies the record-store session token stamped on each job.
type SessionSource interface {
	SessionToken(ctx context.Context) (string, error)
}

// Enqueuer binds the store and session source into the narrow interface the
// poll engine uses to hand off queued-mode work.
type Enqueuer struct {
	store   *Store
	session SessionSource
}

// NewEnqueuer creates an Enqueuer. session may be nil.
func NewEnqueuer(store *Store, session SessionSource) *Enqueuer {
	return &Enqueuer{store: store, session: session}
}

// Ensure enqueues a job unless one is already live for (queue, itemID).
func (e *Enqueuer) Ensure(ctx context.Context, queue, itemID string) (bool, error) {
	token := ""
	if e.session != nil {
		// Best effort; workers refresh on 401 regardless.
		if t, err := e.session.SessionToken(ctx); err == nil {
			token = t
		}
	}
	return e.store.Ensure(ctx, queue, itemID, token)
}

// EngineOptions configures the worker pool engine.
type EngineOptions struct {
	// ClaimInterval is how long an idle worker waits between claim polls.
	ClaimInterval time.Duration
	// JobTimeout bounds one job execution when the step has no timeout.
	JobTimeout time.Duration
	// Notifier receives failure and review events. Optional.
	Notifier notifications.Service
}

// Engine runs a worker pool per queued step. Each pool claims jobs from its
// named queue, executes the step handler, and advances the item's status only
// after the handler's side effects are durable. Failed jobs go straight to
// the dead-letter registry; the item is left for operator action.
type Engine struct {
	store    *Store
	records  recordstore.API
	reg      *registry.Registry
	session  SessionSource
	logger   *slog.Logger
	notifier notifications.Service

	claimInterval time.Duration
	jobTimeout    time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a worker pool engine over the given store and registry.
func NewEngine(store *Store, records recordstore.API, reg *registry.Registry, session SessionSource, logger *slog.Logger, opts EngineOptions) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 2 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	return &Engine{
		store:         store,
		records:       records,
		reg:           reg,
		session:       session,
		notifier:      opts.Notifier,
		logger:        logging.NewComponentLogger(logger, "jobqueue"),
		claimInterval: opts.ClaimInterval,
		jobTimeout:    opts.JobTimeout,
	}
}

// Start launches the worker pools. Idempotent while running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	queued := e.reg.QueuedSteps()
	if len(queued) == 0 {
		return errors.New("jobqueue: no queued steps registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	for _, def := range queued {
		for i := 0; i < def.Concurrency; i++ {
			e.wg.Add(1)
			go e.worker(runCtx, def, i)
		}
		e.logger.Info("worker pool started",
			logging.String(logging.FieldQueue, def.Name),
			logging.Int("workers", def.Concurrency),
		)
	}
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("worker pools stopped")
}

// Running reports whether the pools are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Depths reports per-queue job counts.
func (e *Engine) Depths(ctx context.Context) ([]Depth, error) {
	return e.store.Depths(ctx)
}

func (e *Engine) worker(ctx context.Context, def *registry.Definition, index int) {
	defer e.wg.Done()
	logger := e.logger.With(
		logging.String(logging.FieldQueue, def.Name),
		logging.Int("worker", index),
	)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := e.store.Claim(ctx, def.Name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			job = nil
		}
		if job == nil {
			select {
			case <-time.After(e.claimInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		e.process(ctx, def, job, logger)
	}
}

// process runs one claimed job end to end.
func (e *Engine) process(ctx context.Context, def *registry.Definition, job *Job, logger *slog.Logger) {
	jobCtx := services.WithStep(services.WithItemID(ctx, job.ItemID), def.Name)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())
	jobLogger := logging.WithContext(jobCtx, logger)

	item, err := e.records.Get(jobCtx, job.ItemID)
	if err != nil {
		e.bury(jobCtx, jobLogger, job, nil, fmt.Errorf("resolve item: %w", err))
		return
	}

	// Consumed at-least-once: a job whose item already moved past the
	// step's precondition is a duplicate delivery, not an error.
	if item.Status != def.Precondition {
		jobLogger.Info("job is stale, skipping",
			logging.String(logging.FieldStatus, string(item.Status)),
		)
		e.finish(jobCtx, jobLogger, job)
		return
	}

	if def.Gate != nil {
		ready, gateErr := def.Gate(jobCtx, item)
		if gateErr != nil {
			e.bury(jobCtx, jobLogger, job, item, gateErr)
			return
		}
		if !ready {
			// Not an error; the next poll cycle re-enqueues once the
			// dependency clears.
			jobLogger.Debug("dependency gate not ready, releasing job")
			e.finish(jobCtx, jobLogger, job)
			return
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.jobTimeout
	}
	execCtx, cancel := context.WithTimeout(jobCtx, timeout)
	defer cancel()

	jobLogger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("attempt", job.Attempt),
	)
	start := time.Now()
	execErr := def.Handler.Execute(execCtx, item)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			// Shutdown mid-job; leave the row running for stale recovery.
			return
		}
		e.bury(jobCtx, jobLogger, job, item, execErr)
		return
	}

	item.Status = def.SuccessTarget(item)
	if err := e.records.Update(jobCtx, item); err != nil {
		e.bury(jobCtx, jobLogger, job, nil, fmt.Errorf("persist %s transition: %w", def.Name, err))
		return
	}

	if err := e.store.MarkDone(jobCtx, job.ID); err != nil {
		jobLogger.Error("mark done failed", logging.Error(err))
	}
	jobLogger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("next_status", string(item.Status)),
		logging.Duration("job_duration", time.Since(start)),
	)

	e.chainNext(jobCtx, jobLogger, item)
}

// chainNext enqueues the successor when it is also a queued step, so back to
// back queue stages do not wait for the next poll cycle.
func (e *Engine) chainNext(ctx context.Context, logger *slog.Logger, item *workitem.Item) {
	next, ok := e.reg.StepFor(item.Status)
	if !ok || next.Mode != registry.ModeQueued {
		return
	}
	token := ""
	if e.session != nil {
		if t, err := e.session.SessionToken(ctx); err == nil {
			token = t
		}
	}
	created, err := e.store.Ensure(ctx, next.Name, item.ID, token)
	if err != nil {
		logger.Error("chain enqueue failed",
			logging.String(logging.FieldQueue, next.Name),
			logging.Error(err),
		)
		return
	}
	if created {
		logger.Debug("chained job enqueued", logging.String(logging.FieldQueue, next.Name))
	}
}

// finish marks a job done without touching the item.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, job *Job) {
	if err := e.store.MarkDone(ctx, job.ID); err != nil {
		logger.Error("mark done failed", logging.Error(err))
	}
}

// bury parks a failed job in the dead-letter registry and records the failure
// on the item's audit trail. Items needing operator input move to review;
// otherwise the status is left untouched for a manual re-enqueue.
func (e *Engine) bury(ctx context.Context, logger *slog.Logger, job *Job, item *workitem.Item, execErr error) {
	message := services.DetailsOf(execErr).Message
	if message == "" {
		message = execErr.Error()
	}

	review := false
	if item != nil {
		item.AppendAudit(job.Queue, message)
		if services.NeedsReview(execErr) {
			item.Status = workitem.StatusReview
			review = true
		}
		if err := e.records.Update(ctx, item); err != nil {
			logger.Error("failed to record failure on item", logging.Error(err))
		}
	}

	if err := e.store.MarkDead(ctx, job.ID, message); err != nil {
		logger.Error("mark dead failed", logging.Error(err))
	}
	logger.Error("job failed, parked in dead-letter registry",
		logging.String(logging.FieldEventType, "job_dead"),
		logging.Error(execErr),
	)

	if e.notifier != nil {
		if review {
			if err := e.notifier.NotifyItemReview(ctx, job.ItemID, message); err != nil {
				logger.Warn("review notification failed", logging.Error(err))
			}
		}
		if err := e.notifier.NotifyJobFailed(ctx, job.Queue, job.ItemID, execErr); err != nil {
			logger.Warn("failure notification failed", logging.Error(err))
		}
	}
}
