package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/workitem"
)

// Cycle runs one full scan-and-dispatch pass. Returns the number of
// actionable items found so the caller can detect a drained store.
func (e *Engine) Cycle(ctx context.Context) (int, error) {
	items, err := e.store.FindActionable(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan actionable items: %w", err)
	}

	groups := make(map[workitem.Status][]*workitem.Item)
	for _, item := range items {
		groups[item.Status] = append(groups[item.Status], item)
	}

	advanced := 0

	// Dispatch groups in progression order for a deterministic cycle.
	for _, status := range workitem.Progression() {
		group := groups[status]
		if len(group) == 0 {
			continue
		}
		def, ok := e.reg.StepFor(status)
		if !ok {
			// No step consumes this status; leave the group alone.
			continue
		}

		if def.Mode == registry.ModeQueued {
			e.enqueueGroup(ctx, def, group)
			continue
		}

		advanced += e.dispatchGroup(ctx, def, group)
	}

	e.mu.Lock()
	e.summary.Cycles++
	e.summary.LastScanned = len(items)
	e.summary.LastAdvanced = advanced
	e.mu.Unlock()

	return len(items), nil
}

// dispatchGroup runs the step for each item through a bounded worker pool and
// returns how many items advanced at least one status.
func (e *Engine) dispatchGroup(ctx context.Context, def *registry.Definition, group []*workitem.Item) int {
	limit := def.Concurrency
	if limit > len(group) {
		limit = len(group)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var advanced int
	var mu sync.Mutex

	for _, item := range group {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item *workitem.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			if e.processChain(ctx, item) {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()
	return advanced
}

// enqueueGroup hands a queued-mode group to the durable job queue.
func (e *Engine) enqueueGroup(ctx context.Context, def *registry.Definition, group []*workitem.Item) {
	if e.enqueuer == nil {
		return
	}
	for _, item := range group {
		if ctx.Err() != nil {
			return
		}
		created, err := e.enqueuer.Ensure(ctx, def.Name, item.ID)
		if err != nil {
			e.logger.Error("enqueue failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.String(logging.FieldQueue, def.Name),
				logging.Error(err),
			)
			continue
		}
		if created {
			e.logger.Debug("job enqueued",
				logging.String(logging.FieldItemID, item.ID),
				logging.String(logging.FieldQueue, def.Name),
			)
		}
	}
}

// processChain executes the item's current step and chains through successor
// inline steps within this cycle, up to the configured depth. Returns true
// when the item advanced at least once.
func (e *Engine) processChain(ctx context.Context, item *workitem.Item) bool {
	advanced := false
	for depth := 0; depth < e.maxChainDepth; depth++ {
		def, ok := e.reg.StepFor(item.Status)
		if !ok || def.Mode != registry.ModeInline {
			// A queued successor is picked up by the next cycle's scan.
			break
		}
		ok, err := e.executeStep(ctx, def, item)
		if err != nil || !ok {
			break
		}
		advanced = true
	}
	return advanced
}

// executeStep runs one step invocation with its timeout and persists the
// resulting transition. Returns (advanced, err); a gate deferral is neither.
func (e *Engine) executeStep(ctx context.Context, def *registry.Definition, item *workitem.Item) (bool, error) {
	stepCtx := services.WithStep(services.WithItemID(ctx, item.ID), def.Name)
	stepCtx = services.WithRequestID(stepCtx, uuid.NewString())
	stepLogger := logging.WithContext(stepCtx, e.logger)

	if def.Gate != nil {
		ready, err := def.Gate(stepCtx, item)
		if err != nil {
			stepLogger.Warn("dependency gate check failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "gate_check_failed"),
			)
			return false, err
		}
		if !ready {
			stepLogger.Debug("dependency gate not ready")
			return false, nil
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	execCtx, cancel := context.WithTimeout(stepCtx, timeout)
	defer cancel()

	stepLogger.Info("step started",
		logging.String(logging.FieldEventType, "step_start"),
		logging.String(logging.FieldStatus, string(item.Status)),
	)
	start := time.Now()
	execErr := def.Handler.Execute(execCtx, item)
	if execErr != nil {
		return false, e.handleStepFailure(stepCtx, stepLogger, def, item, execErr)
	}

	target := def.SuccessTarget(item)
	item.Status = target
	if err := e.store.Update(stepCtx, item); err != nil {
		wrapped := fmt.Errorf("persist %s transition: %w", def.Name, err)
		stepLogger.Error("failed to persist step result", logging.Error(wrapped))
		e.setLastError(wrapped)
		return false, wrapped
	}

	stepLogger.Info("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.String("next_status", string(target)),
		logging.Duration("step_duration", time.Since(start)),
	)
	return true, nil
}

// handleStepFailure applies failure semantics: append the audit entry, route
// unrecoverable errors to review, and otherwise leave the status for the
// next cycle's natural retry.
func (e *Engine) handleStepFailure(ctx context.Context, logger *slog.Logger, def *registry.Definition, item *workitem.Item, execErr error) error {
	if errors.Is(execErr, context.Canceled) {
		return execErr
	}

	message := services.DetailsOf(execErr).Message
	if message == "" {
		message = execErr.Error()
	}
	item.AppendAudit(def.Name, message)

	resolved := item.Status
	switch {
	case services.NeedsReview(execErr):
		resolved = workitem.StatusReview
	case !def.RetriesInPlace():
		resolved = def.OnFailure
	}
	item.Status = resolved

	logger.Error("step failed",
		logging.String(logging.FieldEventType, "step_failure"),
		logging.String("resolved_status", string(resolved)),
		logging.Error(execErr),
	)

	if err := e.store.Update(ctx, item); err != nil {
		e.logger.Error("failed to persist step failure", logging.Error(err))
	}
	e.setLastError(execErr)
	return execErr
}
