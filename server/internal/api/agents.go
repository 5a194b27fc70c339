package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/commands"
	"github.com/greenwatt/fleet/server/internal/registry"
	"github.com/greenwatt/fleet/server/internal/telemetry"
)

// AgentHandler groups the machine-facing HTTP handlers: registration,
// heartbeat ingestion, and shutdown-command poll/result.
type AgentHandler struct {
	registry   *registry.Registry
	ingestor   *telemetry.Ingestor
	dispatcher *commands.Dispatcher
	logger     *zap.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(reg *registry.Registry, ing *telemetry.Ingestor, dispatcher *commands.Dispatcher, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: reg, ingestor: ing, dispatcher: dispatcher, logger: logger.Named("agent_handler")}
}

// registerRequest is the JSON body expected by POST /agents/register.
type registerRequest struct {
	Fingerprint  string `json:"fingerprint"`
	Hostname     string `json:"hostname"`
	OSType       string `json:"os_type"`
	OSVersion    string `json:"os_version"`
	AgentVersion string `json:"agent_version"`
	IP           string `json:"ip"`
}

type registerResponse struct {
	MachineID uuid.UUID `json:"machine_id"`
	Token     string    `json:"token"`
	Message   string    `json:"message"`
}

// Register handles POST /agents/register. Open endpoint — a machine's
// fingerprint is its own proof of identity for first contact.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hostname == "" || req.OSType == "" {
		ErrBadRequest(w, "hostname and os_type are required")
		return
	}

	ip := req.IP
	if ip == "" {
		ip = r.RemoteAddr
	}

	result, err := h.registry.Register(r.Context(), registry.RegisterRequest{
		Fingerprint:  req.Fingerprint,
		Hostname:     req.Hostname,
		OSType:       req.OSType,
		OSVersion:    req.OSVersion,
		AgentVersion: req.AgentVersion,
		IPAddress:    registry.TruncateIP(ip, 64),
	})
	if err != nil {
		if errors.Is(err, registry.ErrInvalidFingerprint) {
			ErrUnprocessable(w, "fingerprint must be six colon-separated hex octets")
			return
		}
		h.logger.Error("registration failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	message := "registered"
	if result.Outcome == "renewed" {
		message = "token renewed"
	}

	Created(w, registerResponse{
		MachineID: result.Machine.ID,
		Token:     result.AgentToken,
		Message:   message,
	})
}

// heartbeatRequest is the JSON body expected by POST /agents/heartbeat.
type heartbeatRequest struct {
	IdleSeconds int64      `json:"idle_seconds"`
	CPUUsage    *float64   `json:"cpu_usage"`
	MemoryUsage *float64   `json:"memory_usage"`
	Timestamp   *time.Time `json:"timestamp"`
	IP          string     `json:"ip"`
}

type heartbeatResponse struct {
	Status            string     `json:"status"`
	MachineStatus     string     `json:"machine_status"`
	EnergyWastedKWh   float64    `json:"energy_wasted_kwh"`
	HasPendingCommand bool       `json:"has_pending_command,omitempty"`
	CommandID         *uuid.UUID `json:"command_id,omitempty"`
}

// Heartbeat handles POST /agents/heartbeat (agent-bearer).
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IdleSeconds < 0 || req.IdleSeconds > 86400 {
		ErrBadRequest(w, "idle_seconds must be within [0, 86400]")
		return
	}
	if req.CPUUsage != nil && (*req.CPUUsage < 0 || *req.CPUUsage > 100) {
		ErrBadRequest(w, "cpu_usage must be within [0, 100]")
		return
	}
	if req.MemoryUsage != nil && (*req.MemoryUsage < 0 || *req.MemoryUsage > 100) {
		ErrBadRequest(w, "memory_usage must be within [0, 100]")
		return
	}

	machine := machineFromCtx(r.Context())
	if machine == nil {
		ErrUnauthorized(w)
		return
	}

	hb := telemetry.Heartbeat{
		IdleSeconds:   req.IdleSeconds,
		CPUPercent:    req.CPUUsage,
		MemoryPercent: req.MemoryUsage,
		IPAddress:     registry.TruncateIP(req.IP, 64),
	}
	if req.Timestamp != nil {
		hb.Timestamp = *req.Timestamp
	}

	result, err := h.ingestor.Ingest(r.Context(), machine, hb)
	if err != nil {
		h.logger.Error("heartbeat ingestion failed", zap.String("machine_id", machine.ID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	resp := heartbeatResponse{
		Status:          "ok",
		MachineStatus:   string(result.MachineStatus),
		EnergyWastedKWh: result.DeltaEnergyKWh,
	}

	if pending, err := h.dispatcher.Poll(r.Context(), machine.ID); err == nil && pending != nil {
		resp.HasPendingCommand = true
		id := pending.ID
		resp.CommandID = &id
	}

	Ok(w, resp)
}

type pollResponse struct {
	HasCommand           bool       `json:"has_command"`
	CommandID            *uuid.UUID `json:"command_id,omitempty"`
	CommandType          string     `json:"command_type,omitempty"`
	IdleThresholdMinutes *int       `json:"idle_threshold_minutes,omitempty"`
}

// Poll handles GET /agents/commands/poll (agent-bearer).
func (h *AgentHandler) Poll(w http.ResponseWriter, r *http.Request) {
	machine := machineFromCtx(r.Context())
	if machine == nil {
		ErrUnauthorized(w)
		return
	}

	cmd, err := h.dispatcher.Poll(r.Context(), machine.ID)
	if err != nil {
		h.logger.Error("poll failed", zap.String("machine_id", machine.ID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	if cmd == nil {
		Ok(w, pollResponse{HasCommand: false})
		return
	}

	id := cmd.ID
	threshold := cmd.IdleThresholdMinutes
	Ok(w, pollResponse{
		HasCommand:           true,
		CommandID:            &id,
		CommandType:          "shutdown",
		IdleThresholdMinutes: &threshold,
	})
}

// resultRequest is the JSON body expected by POST /agents/commands/result.
type resultRequest struct {
	CommandID              uuid.UUID `json:"command_id"`
	Executed               bool      `json:"executed"`
	Reason                 string    `json:"reason"`
	IdleMinutesAtExecution *int      `json:"idle_minutes_at_execution"`
}

// Result handles POST /agents/commands/result (agent-bearer).
func (h *AgentHandler) Result(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CommandID == uuid.Nil {
		ErrBadRequest(w, "command_id is required")
		return
	}

	machine := machineFromCtx(r.Context())
	if machine == nil {
		ErrUnauthorized(w)
		return
	}

	err := h.dispatcher.Result(r.Context(), machine.ID, commands.ResultReport{
		CommandID:              req.CommandID,
		Executed:               req.Executed,
		Reason:                 req.Reason,
		IdleMinutesAtExecution: req.IdleMinutesAtExecution,
	})
	if err != nil {
		if errors.Is(err, commands.ErrCommandMismatch) {
			ErrBadRequest(w, "command not for this machine")
			return
		}
		h.logger.Error("result report failed", zap.String("machine_id", machine.ID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
