package ipc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"curator/internal/daemon"
	"curator/internal/ipc"
	"curator/internal/jobqueue"
	"curator/internal/logging"
	"curator/internal/poll"
	"curator/internal/registry"
	"curator/internal/testsupport"
	"curator/internal/workitem"
)

type noopHandler struct{}

func (noopHandler) Execute(context.Context, *workitem.Item) error { return nil }
func (noopHandler) HealthCheck(context.Context) registry.Health {
	return registry.Healthy("noop")
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	records := testsupport.NewFakeStore()
	jobs := testsupport.MustOpenJobStore(t, cfg)
	logger := logging.NewNop()

	reg := registry.New()
	if err := reg.Register(&registry.Definition{
		Name:         "describe",
		Precondition: workitem.StatusDescribed,
		OnSuccess:    workitem.StatusTagged,
		Mode:         registry.ModeQueued,
		Concurrency:  1,
		Handler:      noopHandler{},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	records.NewItem("item-1", workitem.TypeImage, workitem.StatusDescribed,
		workitem.FieldTitle, "Parade footage")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Seed one dead and one done job before the daemon starts claiming.
	if _, err := jobs.Ensure(ctx, "describe", "item-1", ""); err != nil {
		t.Fatalf("Ensure item-1: %v", err)
	}
	if _, err := jobs.Ensure(ctx, "describe", "item-2", ""); err != nil {
		t.Fatalf("Ensure item-2: %v", err)
	}
	job1, err := jobs.Claim(ctx, "describe")
	if err != nil || job1 == nil {
		t.Fatalf("Claim job1: %v", err)
	}
	job2, err := jobs.Claim(ctx, "describe")
	if err != nil || job2 == nil {
		t.Fatalf("Claim job2: %v", err)
	}
	if err := jobs.MarkDead(ctx, job1.ID, "model unreachable"); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	if err := jobs.MarkDone(ctx, job2.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	workers := jobqueue.NewEngine(jobs, records, reg, nil, logger, jobqueue.EngineOptions{
		ClaimInterval: 25 * time.Millisecond,
	})
	poller := poll.NewEngine(cfg, records, reg, jobqueue.NewEnqueuer(jobs, nil), logger)
	d, err := daemon.New(cfg, records, reg, jobs, workers, poller, nil, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected a pid, got %d", status.PID)
	}
	if !strings.HasSuffix(status.JobDBPath, "jobs.db") {
		t.Fatalf("unexpected job db path: %s", status.JobDBPath)
	}
	if len(status.StepHealth) != 1 || status.StepHealth[0].Name != "noop" {
		t.Fatalf("unexpected step health: %#v", status.StepHealth)
	}

	deadResp, err := client.DeadLetter()
	if err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}
	if len(deadResp.Jobs) != 1 || deadResp.Jobs[0].ID != job1.ID {
		t.Fatalf("unexpected dead letter: %#v", deadResp.Jobs)
	}
	if deadResp.Jobs[0].Error != "model unreachable" {
		t.Fatalf("unexpected dead job error: %s", deadResp.Jobs[0].Error)
	}

	requeueResp, err := client.Requeue(job1.ID)
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if !requeueResp.Requeued {
		t.Fatal("expected requeue to succeed")
	}

	// The running worker pool should claim the requeued job and advance the
	// item through the noop step.
	deadline := time.Now().Add(5 * time.Second)
	for {
		item := records.Item("item-1")
		if item != nil && item.Status == workitem.StatusTagged {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item-1 never advanced, status=%v", item)
		}
		time.Sleep(20 * time.Millisecond)
	}

	clearResp, err := client.ClearDone(0)
	if err != nil {
		t.Fatalf("ClearDone failed: %v", err)
	}
	if clearResp.Removed < 1 {
		t.Fatalf("expected at least one done job removed, got %d", clearResp.Removed)
	}

	notifyResp, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if !notifyResp.Sent {
		t.Fatalf("expected notification to report sent, got %#v", notifyResp)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected stop response to be true")
	}

	status2, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status2.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
