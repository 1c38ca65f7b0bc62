// Package relay is the Relay push client (C6): HMAC-signed HTTP POSTs with
// retry, fanning out status transitions and heartbeats to the external
// Relay service. A sony/gobreaker circuit breaker wraps outbound calls,
// grounded on the retried, fire-and-forget external push in
// AchilleasB-identity-access-service's outbox Relay type — the breaker only
// short-circuits additional attempts once Relay is observed to be down; it
// never changes the documented 1-retry or 15s-per-attempt semantics.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/voltwatch/upsmonitor/internal/repository"
	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

const (
	attemptTimeout     = 15 * time.Second
	eventRetryAttempts = 2
	eventRetryDelay    = 2 * time.Second
)

// ErrRelayCallFailed wraps the underlying transport/status error for calls
// whose failure must be surfaced to the HTTP layer (CreatePairCode).
var ErrRelayCallFailed = errors.New("relay: call failed")

// EventBody is the JSON body for POST /event, accepted by Relay with
// camelCase keys per §4.6.
type EventBody struct {
	TenantID       string  `json:"tenantId"`
	EventID        string  `json:"eventId"`
	EventType      string  `json:"eventType"`
	Timestamp      int64   `json:"timestamp"`
	Environment    string  `json:"environment"`
	UPSID          *string `json:"upsId,omitempty"`
	Status         *string `json:"status,omitempty"`
	ServerID       *string `json:"serverId,omitempty"`
	BatteryLevel   *int    `json:"batteryLevel,omitempty"`
	InstallationID *string `json:"installationId,omitempty"`
}

type heartbeatBody struct {
	TenantID  string `json:"tenantId"`
	ServerID  string `json:"serverId"`
	Timestamp int64  `json:"timestamp"`
}

type pairBody struct {
	TenantID  string `json:"tenantId"`
	ServerID  string `json:"serverId"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}

// Client is the Relay HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: attemptTimeout},
		breaker:    breaker,
	}
}

// SendEvent posts to /event with 2 total attempts, 2s between them, exiting
// as soon as any attempt gets a 2xx. Per §4.6/§7, failures here are logged
// and dropped — the Poller never blocks on the outcome.
func (c *Client) SendEvent(ctx context.Context, eventType string, upsID string, status *upsmodel.Status, timestampSeconds int64, batteryLevel *int, installationID *string) error {
	body := EventBody{
		TenantID:       c.cfg.TenantID.String(),
		EventID:        uuid.NewString(),
		EventType:      eventType,
		Timestamp:      timestampSeconds,
		Environment:    string(c.cfg.Environment),
		ServerID:       strPtr(c.cfg.ServerID.String()),
		BatteryLevel:   batteryLevel,
		InstallationID: installationID,
	}
	if upsID != "" {
		body.UPSID = &upsID
	}
	if status != nil {
		s := string(*status)
		body.Status = &s
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("relay: marshal event body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < eventRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(eventRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		_, err := c.post(ctx, "/event", raw)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("relay: SendEvent attempt %d/%d failed: %v", attempt+1, eventRetryAttempts, err)
	}
	return fmt.Errorf("%w: %v", ErrRelayCallFailed, lastErr)
}

// SendHeartbeat posts to /heartbeat with no retry, swallowing any error
// after logging it — the Poller's heartbeat cadence never blocks on Relay.
func (c *Client) SendHeartbeat(ctx context.Context, timestampSeconds int64) {
	body := heartbeatBody{
		TenantID:  c.cfg.TenantID.String(),
		ServerID:  c.cfg.ServerID.String(),
		Timestamp: timestampSeconds,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		log.Printf("relay: marshal heartbeat body: %v", err)
		return
	}
	if _, err := c.post(ctx, "/heartbeat", raw); err != nil {
		log.Printf("relay: SendHeartbeat failed: %v", err)
	}
}

// CreatePairCode posts to /pair and, unlike the other calls, propagates
// failure to the caller — the HTTP handler surfaces it as a 502.
func (c *Client) CreatePairCode(ctx context.Context, code string, timestampSeconds int64) error {
	body := pairBody{
		TenantID:  c.cfg.TenantID.String(),
		ServerID:  c.cfg.ServerID.String(),
		Code:      code,
		Timestamp: timestampSeconds,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("relay: marshal pair body: %w", err)
	}
	if _, err := c.post(ctx, "/pair", raw); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayCallFailed, err)
	}
	return nil
}

// SendServerUpdateRequired fans out a tenant-level broadcast to both
// environments, skipping entirely if there are no registered devices.
func (c *Client) SendServerUpdateRequired(ctx context.Context, devices repository.DeviceRepository, timestampSeconds int64) error {
	return c.broadcast(ctx, devices, "server_update_required", timestampSeconds)
}

// SendServerUpdateAvailable is the non-mandatory counterpart.
func (c *Client) SendServerUpdateAvailable(ctx context.Context, devices repository.DeviceRepository, timestampSeconds int64) error {
	return c.broadcast(ctx, devices, "server_update_available", timestampSeconds)
}

func (c *Client) broadcast(ctx context.Context, devices repository.DeviceRepository, eventType string, timestampSeconds int64) error {
	sandboxCount, err := devices.CountByEnvironment(ctx, upsmodel.EnvironmentSandbox)
	if err != nil {
		return fmt.Errorf("relay: count sandbox devices: %w", err)
	}
	productionCount, err := devices.CountByEnvironment(ctx, upsmodel.EnvironmentProduction)
	if err != nil {
		return fmt.Errorf("relay: count production devices: %w", err)
	}
	if sandboxCount == 0 && productionCount == 0 {
		return nil
	}

	for _, env := range []upsmodel.Environment{upsmodel.EnvironmentSandbox, upsmodel.EnvironmentProduction} {
		broadcastCfg := c.cfg
		broadcastCfg.Environment = env
		broadcaster := &Client{cfg: broadcastCfg, httpClient: c.httpClient, breaker: c.breaker}
		if err := broadcaster.SendEvent(ctx, eventType, "", nil, timestampSeconds, nil, nil); err != nil {
			log.Printf("relay: broadcast %s to %s failed: %v", eventType, env, err)
		}
	}
	return nil
}

// post issues one signed attempt, running the actual HTTP call through the
// circuit breaker so a persistently-down Relay fails fast on subsequent
// calls instead of burning a full 15s timeout on every one.
func (c *Client) post(ctx context.Context, path string, rawBody []byte) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doPost(ctx, path, rawBody)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *Client) doPost(ctx context.Context, path string, rawBody []byte) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	nonce := uuid.NewString()
	requestID := uuid.NewString()
	signature := sign(c.cfg.Secret, timestamp, nonce, rawBody)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(rawBody))
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Volteec-Nonce", nonce)
	req.Header.Set("X-Volteec-Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: request %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay: %s returned status %d", path, resp.StatusCode)
	}
	return resp, nil
}

func strPtr(s string) *string { return &s }
