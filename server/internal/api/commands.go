package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/commands"
	"github.com/greenwatt/fleet/server/internal/repository"
)

// defaultIdleThresholdMinutes is applied when an operator omits the field on
// a shutdown issue request.
const defaultIdleThresholdMinutes = 15

// CommandHandler groups the operator-facing shutdown-command HTTP handlers.
type CommandHandler struct {
	dispatcher *commands.Dispatcher
	machines   repository.MachineRepository
	logger     *zap.Logger
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(dispatcher *commands.Dispatcher, machines repository.MachineRepository, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{dispatcher: dispatcher, machines: machines, logger: logger.Named("command_handler")}
}

// issueShutdownRequest is the JSON body expected by POST /commands/shutdown.
type issueShutdownRequest struct {
	MachineID            uuid.UUID `json:"machine_id"`
	IdleThresholdMinutes *int      `json:"idle_threshold_minutes"`
	Notes                string    `json:"notes"`
}

type issueShutdownResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
}

// IssueShutdown handles POST /commands/shutdown (operator-bearer, admin
// only). The target machine must currently be idle.
func (h *CommandHandler) IssueShutdown(w http.ResponseWriter, r *http.Request) {
	var req issueShutdownRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MachineID == uuid.Nil {
		ErrBadRequest(w, "machine_id is required")
		return
	}

	threshold := defaultIdleThresholdMinutes
	if req.IdleThresholdMinutes != nil {
		threshold = *req.IdleThresholdMinutes
	}
	if threshold <= 0 {
		ErrBadRequest(w, "idle_threshold_minutes must be positive")
		return
	}

	claims := claimsFromCtx(r.Context())
	if claims == nil {
		ErrUnauthorized(w)
		return
	}
	issuerID, err := uuid.Parse(claims.OperatorID)
	if err != nil {
		ErrInternal(w)
		return
	}

	if _, err := h.machines.GetByID(r.Context(), req.MachineID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("looking up target machine failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	cmd, err := h.dispatcher.Issue(r.Context(), req.MachineID, issuerID, threshold, req.Notes)
	if err != nil {
		if errors.Is(err, commands.ErrMachineNotIdle) {
			ErrBadRequest(w, "shutdown only allowed for idle machines")
			return
		}
		h.logger.Error("issuing shutdown command failed", zap.String("machine_id", req.MachineID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, issueShutdownResponse{
		CommandID: cmd.ID.String(),
		Status:    cmd.Status,
		ExpiresAt: cmd.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
