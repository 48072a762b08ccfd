// Package syncer delivers telemetry events to the backend collector with
// chunking, bounded retry, and offline-queue fallback.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blackwell-systems/tapwatch/internal/event"
)

// UserAgent identifies the agent to the collector.
const UserAgent = "tapwatch/" + Version

// Version is the agent build version reported in device-status telemetry.
const Version = "1.2.0"

// ErrRejected marks a response the server actively refused (non-2xx or
// success:false). For queuing purposes it is handled like a transient
// failure (the data is preserved), but it is logged distinctly so operators
// can spot schema drift.
var ErrRejected = errors.New("syncer: server rejected event")

// apiResponse is the collector's response envelope.
type apiResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// batchRequest is the POST /api/analytics/batch body.
type batchRequest struct {
	DeviceID  string            `json:"deviceId"`
	UserID    string            `json:"userId,omitempty"`
	Data      []json.RawMessage `json:"data"`
	Timestamp string            `json:"timestamp"`
}

// HealthStatus is the result of a collector health check.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	Message string
}

// Client is the HTTP client for the collector's analytics API. Every request
// carries the device ID header so the server can attribute events without
// trusting payload contents.
type Client struct {
	baseURL  string
	deviceID string
	userID   string
	http     *http.Client
}

// NewClient creates a collector API client.
func NewClient(baseURL, deviceID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

// SetUserID attaches an optional study participant ID to batch requests.
func (c *Client) SetUserID(id string) { c.userID = id }

// DeviceID returns the device identifier this client reports.
func (c *Client) DeviceID() string { return c.deviceID }

// Health checks GET /api/health and measures round-trip latency.
func (c *Client) Health(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return HealthStatus{Message: err.Error()}
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return HealthStatus{Latency: latency, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, ok := decodeResponse(resp)
	return HealthStatus{
		Healthy: ok && body.Success,
		Latency: latency,
		Message: body.Message,
	}
}

// SendEvent posts a single event to /api/analytics/data.
// An event that cannot be serialized returns the marshal error unwrapped;
// the caller must drop it, not queue it.
func (c *Client) SendEvent(ctx context.Context, e event.Event) error {
	payload, err := event.Marshal(e)
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/analytics/data", payload)
}

// SendBatch posts a batch of pre-marshaled events to /api/analytics/batch.
// The server processes items independently but reports a single pass/fail;
// per-item outcomes are not distinguishable from a batch response.
func (c *Client) SendBatch(ctx context.Context, payloads []json.RawMessage) error {
	body, err := json.Marshal(batchRequest{
		DeviceID:  c.deviceID,
		UserID:    c.userID,
		Data:      payloads,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("syncer: marshal batch: %w", err)
	}
	return c.post(ctx, "/api/analytics/batch", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("syncer: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("syncer: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	envelope, ok := decodeResponse(resp)
	if !ok || !envelope.Success {
		return fmt.Errorf("%w: %s: status %d: %s", ErrRejected, path, resp.StatusCode, envelope.Message)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
}

// decodeResponse parses the response envelope. A 2xx with an unparseable
// body is treated as a failure; the contract requires an explicit
// success flag.
func decodeResponse(resp *http.Response) (apiResponse, bool) {
	var envelope apiResponse

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope, false
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return envelope, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return envelope, false
	}
	return envelope, true
}
