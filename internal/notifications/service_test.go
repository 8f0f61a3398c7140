package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"curator/internal/config"
	"curator/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "describe", "item-1", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Errors = true

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "describe", "item-9", errors.New("model unreachable")); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}

	if captured.title != "Curator - Job Failed" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.body != "Job for item item-9 on queue describe failed: model unreachable" {
		t.Fatalf("unexpected message %q", captured.body)
	}
	if captured.tags != "curator,error,alert" {
		t.Fatalf("unexpected tags %q", captured.tags)
	}
	if captured.priority != "high" {
		t.Fatalf("unexpected priority %q", captured.priority)
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = false
	cfg.Notifications.Review = false
	cfg.Notifications.QueueComplete = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "tag", "item-1", errors.New("x")); err != nil {
		t.Fatalf("suppressed error event returned %v", err)
	}
	if err := svc.NotifyItemReview(context.Background(), "item-1", "low quality"); err != nil {
		t.Fatalf("suppressed review event returned %v", err)
	}
	if err := svc.NotifyRunCompleted(context.Background(), 3, 2, time.Minute); err != nil {
		t.Fatalf("suppressed run event returned %v", err)
	}
}
