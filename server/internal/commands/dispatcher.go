// Package commands implements the shutdown command lifecycle: an operator
// issues a command against an idle machine, the agent polls for it and
// reports back whether it executed.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

// defaultCommandTTL bounds how long a pending command remains pollable
// before it lazily expires.
const defaultCommandTTL = 120 * time.Second

// ErrMachineNotIdle is returned by Issue when the target machine's current
// status is not idle.
var ErrMachineNotIdle = errors.New("commands: target machine is not idle")

// ErrCommandMismatch is returned by Result when the reported command does
// not belong to the reporting machine.
var ErrCommandMismatch = errors.New("commands: command does not belong to this machine")

// Dispatcher owns the shutdown-command lifecycle. It holds the raw *gorm.DB
// (not just repository interfaces) because Issue and the lazy-expiry path in
// Poll require more than one write inside a single transaction.
type Dispatcher struct {
	conn       *gorm.DB
	commandTTL time.Duration
}

// New returns a Dispatcher bound to conn. Every operation opens its own
// transaction and derives fresh repositories from it, so the Dispatcher
// itself needs nothing but the connection.
func New(conn *gorm.DB) *Dispatcher {
	return &Dispatcher{conn: conn, commandTTL: defaultCommandTTL}
}

// Issue creates a new pending shutdown command for a machine, expiring any
// prior pending command for the same machine in the same transaction. The
// target machine must currently be idle.
func (d *Dispatcher) Issue(ctx context.Context, machineID, issuerID uuid.UUID, idleThresholdMinutes int, notes string) (*db.ShutdownCommand, error) {
	var created db.ShutdownCommand

	err := d.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := repository.NewMachineRepository(tx).GetByID(ctx, machineID)
		if err != nil {
			return err
		}
		if machine.Status != string(status.MachineIdle) {
			return ErrMachineNotIdle
		}

		cmds := repository.NewShutdownCommandRepository(tx)

		if err := expireAllPending(ctx, tx, machineID); err != nil {
			return err
		}

		now := time.Now()
		created = db.ShutdownCommand{
			MachineID:            machineID,
			IssuerID:             issuerID,
			Status:               string(status.CommandPending),
			IdleThresholdMinutes: idleThresholdMinutes,
			IssuedAt:             now,
			ExpiresAt:            now.Add(d.commandTTL),
			Notes:                notes,
		}
		if err := cmds.Create(ctx, &created); err != nil {
			return err
		}

		return repository.NewAuditLogRepository(tx).Create(ctx, &db.AuditLog{
			ActorID:   &issuerID,
			Action:    "shutdown_command.issued",
			MachineID: &machineID,
			Detail:    created.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// expireAllPending transitions every pending command for a machine to
// expired. Under the single-pending invariant this touches at most one row.
func expireAllPending(ctx context.Context, tx *gorm.DB, machineID uuid.UUID) error {
	return tx.WithContext(ctx).
		Model(&db.ShutdownCommand{}).
		Where("machine_id = ? AND status = ?", machineID, string(status.CommandPending)).
		Update("status", string(status.CommandExpired)).Error
}

// Poll returns the single live pending command for a machine, if any,
// lazily expiring any pending command whose TTL has already elapsed first.
func (d *Dispatcher) Poll(ctx context.Context, machineID uuid.UUID) (*db.ShutdownCommand, error) {
	var result *db.ShutdownCommand

	err := d.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cmds := repository.NewShutdownCommandRepository(tx)

		cmd, err := cmds.GetPendingForMachine(ctx, machineID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		if time.Now().After(cmd.ExpiresAt) {
			cmd.Status = string(status.CommandExpired)
			if err := cmds.Update(ctx, cmd); err != nil {
				return err
			}
			return nil
		}

		result = cmd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResultReport carries an agent's outcome for a previously polled command.
type ResultReport struct {
	CommandID              uuid.UUID
	Executed               bool
	Reason                 string
	IdleMinutesAtExecution *int
}

// Result records an agent's execution outcome for a command. It is
// idempotent: reporting the same terminal outcome again on retry is a no-op,
// since the command's status is already terminal by then.
func (d *Dispatcher) Result(ctx context.Context, machineID uuid.UUID, report ResultReport) error {
	return d.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cmds := repository.NewShutdownCommandRepository(tx)

		cmd, err := cmds.GetByID(ctx, report.CommandID)
		if err != nil {
			return err
		}
		if cmd.MachineID != machineID {
			return ErrCommandMismatch
		}

		// Already terminalized (e.g. a retried result report) — the desired
		// state is already met, so this is success, not failure.
		if cmd.Status != string(status.CommandPending) {
			return nil
		}

		now := time.Now()
		machines := repository.NewMachineRepository(tx)
		audit := repository.NewAuditLogRepository(tx)

		if report.Executed {
			cmd.Status = string(status.CommandExecuted)
			cmd.ExecutedAt = &now
			if err := cmds.Update(ctx, cmd); err != nil {
				return err
			}

			machine, err := machines.GetByID(ctx, machineID)
			if err != nil {
				return err
			}
			machine.Status = string(status.MachineShutdown)
			if err := machines.Update(ctx, machine); err != nil {
				return err
			}

			return audit.Create(ctx, &db.AuditLog{
				Action:    "shutdown_command.executed",
				MachineID: &machineID,
				Detail:    cmd.ID.String(),
			})
		}

		cmd.Status = string(status.CommandRejected)
		cmd.RejectionReason = report.Reason
		if err := cmds.Update(ctx, cmd); err != nil {
			return err
		}

		return audit.Create(ctx, &db.AuditLog{
			Action:    "shutdown_command.rejected",
			MachineID: &machineID,
			Detail:    fmt.Sprintf("%s: %s", cmd.ID, report.Reason),
		})
	})
}
