package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"telecine/internal/daemon"
	"telecine/internal/history"
	"telecine/internal/queue"
)

// apiClient speaks the daemon's JSON API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

type addPayload struct {
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path,omitempty"`
	Settings   queue.Settings `json:"settings,omitempty"`
}

type itemEnvelope struct {
	Item *queue.Item `json:"item"`
}

type listEnvelope struct {
	Items []*queue.Item `json:"items"`
}

type actionEnvelope struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type historyEnvelope struct {
	Entries []history.Entry `json:"entries"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func newAPIClient(address string) *apiClient {
	return &apiClient{
		baseURL: "http://" + address,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) Status(ctx context.Context) (daemon.Status, error) {
	var status daemon.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *apiClient) QueueList(ctx context.Context, statuses []string) ([]*queue.Item, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var list listEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *apiClient) QueueAdd(ctx context.Context, inputPath, outputPath string, settings queue.Settings) (*queue.Item, error) {
	var envelope itemEnvelope
	payload := addPayload{InputPath: inputPath, OutputPath: outputPath, Settings: settings}
	if err := c.do(ctx, http.MethodPost, "/api/queue", payload, &envelope); err != nil {
		return nil, err
	}
	return envelope.Item, nil
}

func (c *apiClient) QueueItem(ctx context.Context, id string) (*queue.Item, error) {
	var envelope itemEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Item, nil
}

// ItemAction posts one of the per-item verbs: pause, resume, cancel, retry.
func (c *apiClient) ItemAction(ctx context.Context, id, action string) error {
	return c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/"+action, nil, nil)
}

func (c *apiClient) RemoveItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) PauseAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/pause", nil, nil)
}

func (c *apiClient) ResumeAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/resume", nil, nil)
}

// SetLimit returns the limit the daemon actually applied after clamping.
// An empty pool targets the single queue; "video" and "audio" target the
// batch pools.
func (c *apiClient) SetLimit(ctx context.Context, limit int, pool string) (int, error) {
	var result actionEnvelope
	payload := map[string]any{"max_concurrent": limit}
	if pool != "" {
		payload["pool"] = pool
	}
	if err := c.do(ctx, http.MethodPost, "/api/limit", payload, &result); err != nil {
		return 0, err
	}
	applied, err := strconv.Atoi(result.Message)
	if err != nil {
		return limit, nil
	}
	return applied, nil
}

func (c *apiClient) History(ctx context.Context, limit int) ([]history.Entry, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envelope historyEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Entries, nil
}

func (c *apiClient) TestNotification(ctx context.Context) (actionEnvelope, error) {
	var result actionEnvelope
	err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, &result)
	return result, err
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr errorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func wrapDialError(err error, baseURL string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `telecined`", baseURL)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
