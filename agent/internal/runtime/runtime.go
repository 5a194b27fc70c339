// Package runtime drives the agent's two loops — heartbeat and command
// poll — and the shutdown-on-command path. The command path re-measures
// idle locally before acting: the server only knows idle-by-last-heartbeat,
// so an agent that executes on the server's word alone could shut down a
// machine the user started using seconds after the heartbeat that
// triggered the command. See checkCommand and decideExecution below.
package runtime

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/greenwatt/fleet/agent/internal/client"
	"github.com/greenwatt/fleet/agent/internal/config"
	"github.com/greenwatt/fleet/agent/internal/probe"
	"github.com/greenwatt/fleet/agent/internal/queue"
)

// pollInterval is how often the agent checks for a pending shutdown command,
// independent of the (usually longer) heartbeat interval.
const pollInterval = 30 * time.Second

// Agent ties together configuration, the HTTP client, the offline queue,
// and the platform probe into the two running loops.
type Agent struct {
	cfg    *config.Config
	client *client.Client
	queue  *queue.Queue
	logger *zap.Logger
}

// New returns an Agent ready to Run.
func New(cfg *config.Config, c *client.Client, q *queue.Queue, logger *zap.Logger) *Agent {
	return &Agent{cfg: cfg, client: c, queue: q, logger: logger}
}

// EnsureRegistered registers the machine if no credentials are persisted
// yet, and persists the result for future restarts.
func (a *Agent) EnsureRegistered(ctx context.Context, fingerprint, hostname, osType, osVersion, agentVersion string) error {
	if a.cfg.AgentToken != "" && a.cfg.MachineID != "" {
		a.client.SetToken(a.cfg.AgentToken)
		return nil
	}

	req := client.RegisterRequest{
		Fingerprint:  fingerprint,
		Hostname:     hostname,
		OSType:       osType,
		OSVersion:    osVersion,
		AgentVersion: agentVersion,
	}
	resp, err := a.client.Register(ctx, req)
	for backoff, attempt := client.InitialBackoff, 1; err != nil; attempt++ {
		if errors.Is(err, client.ErrRejected) || attempt >= a.cfg.RetryMaxAttempts {
			return err
		}
		a.logger.Warn("registration failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(client.Jitter(backoff)):
		}
		backoff = client.NextBackoff(backoff)
		resp, err = a.client.Register(ctx, req)
	}

	a.client.SetToken(resp.Token)
	return a.cfg.SaveCredentials(resp.Token, resp.MachineID)
}

// Run blocks until ctx is cancelled, driving the heartbeat and command-poll
// loops concurrently. On cancellation it flushes the offline queue to disk
// and returns.
func (a *Agent) Run(ctx context.Context) {
	done := make(chan struct{}, 2)

	go func() {
		a.heartbeatLoop(ctx)
		done <- struct{}{}
	}()
	go func() {
		a.pollLoop(ctx)
		done <- struct{}{}
	}()

	<-done
	<-done
	a.logger.Info("runtime stopped, queue persisted")
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.HeartbeatIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	snap := probe.Collect(ctx)
	req := client.HeartbeatRequest{
		IdleSeconds: snap.IdleSeconds,
		CPUUsage:    snap.CPUPercent,
		MemoryUsage: snap.MemPercent,
		Timestamp:   time.Now(),
	}

	if _, err := a.client.Heartbeat(ctx, req); err != nil {
		a.handleTransportError(ctx, err, req)
		return
	}

	a.drainQueue(ctx)
}

// handleTransportError enqueues the failed heartbeat for later retry, unless
// the failure is an expired/invalid credential, in which case it clears the
// persisted credentials and drops the heartbeat. The running loops do not
// re-register; EnsureRegistered does so on the agent's next start.
func (a *Agent) handleTransportError(ctx context.Context, err error, req client.HeartbeatRequest) {
	if err == client.ErrUnauthorized {
		a.logger.Warn("agent credentials rejected, clearing for re-registration")
		_ = a.cfg.SaveCredentials("", "")
		return
	}

	a.logger.Warn("heartbeat failed, queueing for retry", zap.Error(err))
	qhb := queue.Heartbeat{
		IdleSeconds: req.IdleSeconds,
		CPUUsage:    req.CPUUsage,
		MemoryUsage: req.MemoryUsage,
		Timestamp:   req.Timestamp,
	}
	if err := a.queue.Push(qhb); err != nil {
		a.logger.Error("failed to persist queued heartbeat", zap.Error(err))
	}
}

// drainQueue best-effort replays queued heartbeats after a successful send.
// Items that fail again are pushed back rather than lost.
func (a *Agent) drainQueue(ctx context.Context) {
	if a.queue.Len() == 0 {
		return
	}

	items, err := a.queue.Drain()
	if err != nil {
		a.logger.Error("failed to drain offline queue", zap.Error(err))
		return
	}

	for _, item := range items {
		req := client.HeartbeatRequest{
			IdleSeconds: item.IdleSeconds,
			CPUUsage:    item.CPUUsage,
			MemoryUsage: item.MemoryUsage,
			Timestamp:   item.Timestamp,
		}
		if _, err := a.client.Heartbeat(ctx, req); err != nil {
			a.logger.Warn("re-queueing heartbeat after failed replay", zap.Error(err))
			_ = a.queue.Push(item)
		}
	}
}

func (a *Agent) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkCommand(ctx)
		}
	}
}

func (a *Agent) checkCommand(ctx context.Context) {
	resp, err := a.client.PollCommand(ctx)
	if err != nil {
		if err == client.ErrUnauthorized {
			_ = a.cfg.SaveCredentials("", "")
		}
		a.logger.Warn("command poll failed", zap.Error(err))
		return
	}
	if !resp.HasCommand || resp.CommandID == nil {
		return
	}

	threshold := 15
	if resp.IdleThresholdMinutes != nil {
		threshold = *resp.IdleThresholdMinutes
	}

	// Re-measure idle locally — the server's view is only as fresh as the
	// last heartbeat. This is the one check that makes the shutdown safe.
	snap := probe.Collect(ctx)
	idleMinutes := int(snap.IdleSeconds / 60)
	executed, reason := decideExecution(idleMinutes, threshold)

	result := client.ResultRequest{
		CommandID:              *resp.CommandID,
		Executed:               executed,
		Reason:                 reason,
		IdleMinutesAtExecution: &idleMinutes,
	}
	a.reportResult(ctx, result)

	if !executed {
		return
	}
	if err := osShutdown(ctx); err != nil {
		a.logger.Error("OS shutdown command failed", zap.Error(err))
	}
}

// decideExecution applies the local-idle re-validation: a machine that has
// become active since the heartbeat that triggered the command must not be
// shut down, regardless of what the server believed at issue time.
func decideExecution(idleMinutes, thresholdMinutes int) (executed bool, reason string) {
	if idleMinutes < thresholdMinutes {
		return false, "not idle"
	}
	return true, ""
}

func (a *Agent) reportResult(ctx context.Context, result client.ResultRequest) {
	if err := a.client.ReportResult(ctx, result); err != nil {
		a.logger.Warn("failed to report command result", zap.Error(err))
	}
}

// osShutdown invokes the platform shutdown command. Reporting the result to
// the server happens before this call, since the machine may not come back
// up in time to deliver it afterward.
func osShutdown(ctx context.Context) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "shutdown", "/s", "/t", "0")
	case "darwin":
		cmd = exec.CommandContext(ctx, "shutdown", "-h", "now")
	default:
		cmd = exec.CommandContext(ctx, "shutdown", "-h", "now")
	}
	return cmd.Run()
}
