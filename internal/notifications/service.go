package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
)

const userAgent = "Curator/0.1.0"

// Service defines the notification surface exposed to the engines.
type Service interface {
	NotifyItemReview(ctx context.Context, itemID, reason string) error
	NotifyJobFailed(ctx context.Context, queue, itemID string, failure error) error
	NotifyRunCompleted(ctx context.Context, advanced, cycles int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendErrors:    cfg.Notifications.Errors,
		sendReview:    cfg.Notifications.Review,
		sendRunEvents: cfg.Notifications.QueueComplete,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	sendErrors    bool
	sendReview    bool
	sendRunEvents bool
}

func (n *ntfyService) NotifyItemReview(ctx context.Context, itemID, reason string) error {
	if !n.sendReview {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "needs operator input"
	}
	data := payload{
		title:   "Curator - Review Needed",
		message: fmt.Sprintf("Item %s paused for review: %s", itemID, reason),
		tags:    []string{"curator", "review"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, queue, itemID string, failure error) error {
	if !n.sendErrors {
		return nil
	}
	detail := "unknown"
	if failure != nil {
		detail = strings.TrimSpace(failure.Error())
	}
	data := payload{
		title:    "Curator - Job Failed",
		message:  fmt.Sprintf("Job for item %s on queue %s failed: %s", itemID, queue, detail),
		tags:     []string{"curator", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, advanced, cycles int, duration time.Duration) error {
	if !n.sendRunEvents {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:   "Curator - Run Complete",
		message: fmt.Sprintf("Poll run finished: %d items advanced over %d cycles in %s", advanced, cycles, duration),
		tags:    []string{"curator", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Curator - Test",
		message:  "Notification system test",
		tags:     []string{"curator", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyItemReview(context.Context, string, string) error          { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, error) error    { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
