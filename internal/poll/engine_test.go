package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"curator/internal/config"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/workitem"
)

type scriptedHandler struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, item *workitem.Item) error
}

func (h *scriptedHandler) Execute(ctx context.Context, item *workitem.Item) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fn == nil {
		return nil
	}
	return h.fn(ctx, item)
}

func (h *scriptedHandler) HealthCheck(context.Context) registry.Health {
	return registry.Healthy("scripted")
}

func (h *scriptedHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{seen: make(map[string]int)}
}

func (f *fakeEnqueuer) Ensure(_ context.Context, step, itemID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	key := step + "/" + itemID
	f.seen[key]++
	return f.seen[key] == 1, nil
}

func (f *fakeEnqueuer) count(step, itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[step+"/"+itemID]
}

func inlineStep(name string, from, to workitem.Status, handler registry.Handler) *registry.Definition {
	return &registry.Definition{
		Name:         name,
		Precondition: from,
		OnSuccess:    to,
		OnFailure:    from,
		Mode:         registry.ModeInline,
		Concurrency:  2,
		Handler:      handler,
	}
}

func mustRegister(t *testing.T, reg *registry.Registry, defs ...*registry.Definition) {
	t.Helper()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, store *testsupport.FakeStore, reg *registry.Registry, enq Enqueuer) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testsupport.NewConfig(t)
	}
	return NewEngine(cfg, store, reg, enq, nil)
}

func TestRunDrainsInlineChain(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)
	store.NewItem("item-2", workitem.TypeImage, workitem.StatusProbed)
	store.NewItem("item-3", workitem.TypeAudio, workitem.StatusPending)

	reg := registry.New()
	mustRegister(t, reg,
		inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}),
		inlineStep("scrape", workitem.StatusProbed, workitem.StatusScraped, &scriptedHandler{}),
		inlineStep("evaluate", workitem.StatusScraped, workitem.StatusCompleted, &scriptedHandler{}),
	)

	engine := newTestEngine(t, nil, store, reg, nil)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, id := range []string{"item-1", "item-2", "item-3"} {
		if got := store.Item(id).Status; got != workitem.StatusCompleted {
			t.Errorf("%s: status = %s, want %s", id, got, workitem.StatusCompleted)
		}
	}

	summary := engine.Status()
	if summary.Running {
		t.Error("summary still reports running")
	}
	if summary.StopReason != "no actionable items" {
		t.Errorf("stop reason = %q", summary.StopReason)
	}
	if summary.Cycles == 0 {
		t.Error("expected at least one cycle")
	}
}

func TestCycleChainDepthBound(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	reg := registry.New()
	mustRegister(t, reg,
		inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}),
		inlineStep("scrape", workitem.StatusProbed, workitem.StatusScraped, &scriptedHandler{}),
		inlineStep("evaluate", workitem.StatusScraped, workitem.StatusEvaluated, &scriptedHandler{}),
	)

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.MaxChainDepth = 2
	engine := newTestEngine(t, cfg, store, reg, nil)

	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := store.Item("item-1").Status; got != workitem.StatusScraped {
		t.Errorf("status after bounded chain = %s, want %s", got, workitem.StatusScraped)
	}

	// The next cycle resumes from where the chain stopped.
	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := store.Item("item-1").Status; got != workitem.StatusEvaluated {
		t.Errorf("status after second cycle = %s, want %s", got, workitem.StatusEvaluated)
	}
}

func TestCycleEnqueuesQueuedSteps(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusEvaluated)
	store.NewItem("item-2", workitem.TypeImage, workitem.StatusEvaluated)

	handler := &scriptedHandler{}
	reg := registry.New()
	mustRegister(t, reg, &registry.Definition{
		Name:         "thumbnail",
		Precondition: workitem.StatusEvaluated,
		OnSuccess:    workitem.StatusThumbnailed,
		Mode:         registry.ModeQueued,
		Concurrency:  2,
		Handler:      handler,
	})

	enq := newFakeEnqueuer()
	engine := newTestEngine(t, nil, store, reg, enq)

	for i := 0; i < 3; i++ {
		if _, err := engine.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if handler.callCount() != 0 {
		t.Errorf("queued handler executed inline %d times", handler.callCount())
	}
	for _, id := range []string{"item-1", "item-2"} {
		if got := enq.count("thumbnail", id); got != 3 {
			t.Errorf("ensure calls for %s = %d, want 3", id, got)
		}
		if got := store.Item(id).Status; got != workitem.StatusEvaluated {
			t.Errorf("%s advanced to %s without worker execution", id, got)
		}
	}
}

func TestCycleBranchOverridesOnSuccess(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("audio-1", workitem.TypeAudio, workitem.StatusScraped)
	store.NewItem("image-1", workitem.TypeImage, workitem.StatusScraped)

	reg := registry.New()
	mustRegister(t, reg, &registry.Definition{
		Name:         "evaluate",
		Precondition: workitem.StatusScraped,
		OnSuccess:    workitem.StatusEvaluated,
		Mode:         registry.ModeInline,
		Concurrency:  2,
		Handler:      &scriptedHandler{},
		Branch: func(item *workitem.Item) workitem.Status {
			if item.Type == workitem.TypeAudio {
				return workitem.StatusThumbnailed
			}
			return ""
		},
	})

	engine := newTestEngine(t, nil, store, reg, nil)
	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if got := store.Item("audio-1").Status; got != workitem.StatusThumbnailed {
		t.Errorf("audio branch target = %s, want %s", got, workitem.StatusThumbnailed)
	}
	if got := store.Item("image-1").Status; got != workitem.StatusEvaluated {
		t.Errorf("static target = %s, want %s", got, workitem.StatusEvaluated)
	}
}

func TestCycleGateDefersWithoutError(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("parent-1", workitem.TypeVideoContainer, workitem.StatusTagged)

	handler := &scriptedHandler{}
	var ready bool
	reg := registry.New()
	mustRegister(t, reg, &registry.Definition{
		Name:         "finalize",
		Precondition: workitem.StatusTagged,
		OnSuccess:    workitem.StatusCompleted,
		Mode:         registry.ModeInline,
		Concurrency:  1,
		Handler:      handler,
		Gate: func(context.Context, *workitem.Item) (bool, error) {
			return ready, nil
		},
	})

	engine := newTestEngine(t, nil, store, reg, nil)

	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if handler.callCount() != 0 {
		t.Error("handler ran before gate opened")
	}
	if got := store.Item("parent-1").Status; got != workitem.StatusTagged {
		t.Errorf("status changed while gated: %s", got)
	}

	ready = true
	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle after gate opened: %v", err)
	}
	if got := store.Item("parent-1").Status; got != workitem.StatusCompleted {
		t.Errorf("status after gate opened = %s, want %s", got, workitem.StatusCompleted)
	}
}

func TestCycleFailureRoutesToReview(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	handler := &scriptedHandler{fn: func(context.Context, *workitem.Item) error {
		return services.Wrap(services.ErrValidation, "probe", "inspect", "source file unreadable", nil)
	}}
	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, handler))

	engine := newTestEngine(t, nil, store, reg, nil)
	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	item := store.Item("item-1")
	if item.Status != workitem.StatusReview {
		t.Fatalf("status = %s, want %s", item.Status, workitem.StatusReview)
	}
	entries := item.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if summary := engine.Status(); summary.LastError == "" {
		t.Error("expected last error in summary")
	}
}

func TestCycleFailureRetriesInPlace(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	handler := &scriptedHandler{fn: func(context.Context, *workitem.Item) error {
		return services.Wrap(services.ErrTransient, "probe", "inspect", "store briefly unavailable", nil)
	}}
	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, handler))

	engine := newTestEngine(t, nil, store, reg, nil)
	for i := 0; i < 2; i++ {
		if _, err := engine.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	item := store.Item("item-1")
	if item.Status != workitem.StatusPending {
		t.Fatalf("status = %s, want %s", item.Status, workitem.StatusPending)
	}
	if handler.callCount() != 2 {
		t.Errorf("handler calls = %d, want 2", handler.callCount())
	}
	if entries := item.AuditEntries(); len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

func TestCycleFailureMovesToConfiguredTarget(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	handler := &scriptedHandler{fn: func(context.Context, *workitem.Item) error {
		return services.Wrap(services.ErrExternalTool, "probe", "inspect", "tool crashed", nil)
	}}
	reg := registry.New()
	def := inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, handler)
	def.OnFailure = workitem.StatusFailed
	mustRegister(t, reg, def)

	engine := newTestEngine(t, nil, store, reg, nil)
	if _, err := engine.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if got := store.Item("item-1").Status; got != workitem.StatusFailed {
		t.Errorf("status = %s, want %s", got, workitem.StatusFailed)
	}
}

func TestCycleSkipsStatusesWithoutSteps(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusDescribed)

	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}))

	engine := newTestEngine(t, nil, store, reg, nil)
	scanned, err := engine.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if scanned != 1 {
		t.Errorf("scanned = %d, want 1", scanned)
	}
	if got := store.Item("item-1").Status; got != workitem.StatusDescribed {
		t.Errorf("status = %s, want unchanged %s", got, workitem.StatusDescribed)
	}
}

func TestRunStopsAtMaxRunDuration(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.MaxRunDuration = -1
	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}))

	engine := newTestEngine(t, cfg, store, reg, nil)
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := engine.Status().StopReason; got != "max run duration reached" {
		t.Errorf("stop reason = %q", got)
	}
}

func TestStartStop(t *testing.T) {
	store := testsupport.NewFakeStore()
	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}))

	engine := newTestEngine(t, nil, store, reg, nil)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := engine.Start(context.Background()); err == nil {
		t.Error("second start should fail while running")
	}
	engine.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for engine.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("engine still running after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunCancelledBeforeFirstCycle(t *testing.T) {
	store := testsupport.NewFakeStore()
	store.NewItem("item-1", workitem.TypeImage, workitem.StatusPending)

	reg := registry.New()
	mustRegister(t, reg, inlineStep("probe", workitem.StatusPending, workitem.StatusProbed, &scriptedHandler{}))

	engine := newTestEngine(t, nil, store, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("cancelled run returned error: %v", err)
	}
	if got := engine.Status().StopReason; got != "cancelled" {
		t.Errorf("stop reason = %q", got)
	}
}
