// Package client implements the agent's HTTP side of the fleet protocol:
// register, heartbeat, command poll, and command result reporting. Each call
// makes a single request; NextBackoff and Jitter provide the exponential
// backoff with jitter that the runtime's registration retry loop uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/greenwatt/fleet/shared/status"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	// jitterFraction adds up to ±20% random jitter to each backoff interval
	// to prevent thundering herd when many agents retry simultaneously.
	jitterFraction = 0.2

	requestTimeout = 15 * time.Second
)

// ErrUnauthorized is returned when the server rejects the agent's bearer
// token (401). Callers should clear any persisted credentials and
// re-register.
var ErrUnauthorized = fmt.Errorf("client: unauthorized")

// ErrRejected is returned when the server rejects a request as invalid
// (400/422) — retrying without changing the request would fail identically,
// so callers should treat this as fatal rather than enqueue-and-retry.
var ErrRejected = fmt.Errorf("client: request rejected")

// Client talks to the fleet server over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a Client pointed at baseURL, authenticating with token once
// one is known. token may be empty before the first registration.
func New(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// SetToken updates the bearer token used for authenticated requests, e.g.
// after a fresh registration.
func (c *Client) SetToken(token string) {
	c.token = token
}

// RegisterRequest mirrors the server's agent registration payload.
type RegisterRequest struct {
	Fingerprint  string `json:"fingerprint"`
	Hostname     string `json:"hostname"`
	OSType       string `json:"os_type"`
	OSVersion    string `json:"os_version"`
	AgentVersion string `json:"agent_version"`
}

// RegisterResponse mirrors the server's agent registration response.
type RegisterResponse struct {
	MachineID string `json:"machine_id"`
	Token     string `json:"token"`
	Message   string `json:"message"`
}

// Register enrolls this machine with the server. A 400/422 response is
// fatal (the fingerprint or payload itself is invalid); other failures are
// retried with backoff by the caller (see runtime.Agent.EnsureRegistered).
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/agents/register", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HeartbeatRequest mirrors the server's heartbeat payload.
type HeartbeatRequest struct {
	IdleSeconds int64     `json:"idle_seconds"`
	CPUUsage    *float64  `json:"cpu_usage,omitempty"`
	MemoryUsage *float64  `json:"memory_usage,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HeartbeatResponse mirrors the server's heartbeat response.
type HeartbeatResponse struct {
	Status            string               `json:"status"`
	MachineStatus     status.MachineStatus `json:"machine_status"`
	EnergyWastedKWh   float64              `json:"energy_wasted_kwh"`
	HasPendingCommand bool                 `json:"has_pending_command"`
	CommandID         *string              `json:"command_id"`
}

// Heartbeat reports the latest telemetry sample.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/agents/heartbeat", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PollResponse mirrors the server's command-poll response.
type PollResponse struct {
	HasCommand           bool    `json:"has_command"`
	CommandID            *string `json:"command_id"`
	CommandType          string  `json:"command_type"`
	IdleThresholdMinutes *int    `json:"idle_threshold_minutes"`
}

// PollCommand checks whether the server has an outstanding shutdown command
// for this machine.
func (c *Client) PollCommand(ctx context.Context) (*PollResponse, error) {
	var resp PollResponse
	if err := c.do(ctx, http.MethodGet, "/agents/commands/poll", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResultRequest mirrors the server's command-result payload.
type ResultRequest struct {
	CommandID              string `json:"command_id"`
	Executed               bool   `json:"executed"`
	Reason                 string `json:"reason,omitempty"`
	IdleMinutesAtExecution *int   `json:"idle_minutes_at_execution,omitempty"`
}

// ReportResult tells the server whether a shutdown command was executed.
func (c *Client) ReportResult(ctx context.Context, req ResultRequest) error {
	return c.do(ctx, http.MethodPost, "/agents/commands/result", req, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %s %s returned %d", ErrRejected, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("client: %s %s returned %d", method, path, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	// The server wraps every success payload as {"data": <payload>}.
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("client: decoding response from %s: %w", path, err)
	}
	return nil
}

// NextBackoff returns the next backoff duration, capped at backoffMax.
func NextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		current = backoffInitial
	}
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// Jitter adds a random ±jitterFraction perturbation to d to avoid
// thundering herd when many agents retry at once.
func Jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// InitialBackoff is the starting backoff duration for a fresh retry loop.
const InitialBackoff = backoffInitial
