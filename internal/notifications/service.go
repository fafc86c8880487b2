// Package notifications pushes queue milestones to an ntfy topic. When no
// topic is configured a noop implementation is returned, so callers never
// branch on whether notifications are enabled.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telecine/internal/config"
)

const userAgent = "Telecine-Go/0.1.0"

// Service defines the notification surface exposed to the schedulers.
type Service interface {
	NotifyQueueStarted(ctx context.Context, count int) error
	NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyItemCompleted(ctx context.Context, name string) error
	NotifyItemFailed(ctx context.Context, name, reason string) error
	NotifyBatchCompleted(ctx context.Context, batchID string, items int, success bool) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

func (n *ntfyService) NotifyQueueStarted(ctx context.Context, count int) error {
	if !n.cfg.Queue {
		return nil
	}
	data := payload{
		title:   "Telecine - Queue Started",
		message: fmt.Sprintf("Started processing queue with %d items", count),
		tags:    []string{"telecine", "queue", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.cfg.Queue {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Telecine - Queue Complete"
		message = fmt.Sprintf("Queue processing complete: %d items transcoded in %s", processed, durationText)
	} else {
		title = "Telecine - Queue Complete (with errors)"
		message = fmt.Sprintf("Queue processing complete: %d succeeded, %d failed in %s", processed, failed, durationText)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"telecine", "queue", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemCompleted(ctx context.Context, name string) error {
	if !n.cfg.Queue {
		return nil
	}
	data := payload{
		title:   "Telecine - Transcode Complete",
		message: fmt.Sprintf("Finished: %s", strings.TrimSpace(name)),
		tags:    []string{"telecine", "item", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, name, reason string) error {
	if !n.cfg.Errors {
		return nil
	}
	message := fmt.Sprintf("Failed: %s", strings.TrimSpace(name))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Telecine - Transcode Failed",
		message:  message,
		tags:     []string{"telecine", "item", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, batchID string, items int, success bool) error {
	if !n.cfg.Batch {
		return nil
	}
	title := "Telecine - Batch Complete"
	if !success {
		title = "Telecine - Batch Complete (with errors)"
	}
	data := payload{
		title:   title,
		message: fmt.Sprintf("Batch %s finished with %d items", strings.TrimSpace(batchID), items),
		tags:    []string{"telecine", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Telecine - Test",
		message:  "Notification system test",
		tags:     []string{"telecine", "test"},
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

func (noopService) NotifyQueueStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyQueueCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyItemCompleted(context.Context, string) error                   { return nil }
func (noopService) NotifyItemFailed(context.Context, string, string) error              { return nil }
func (noopService) NotifyBatchCompleted(context.Context, string, int, bool) error       { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
