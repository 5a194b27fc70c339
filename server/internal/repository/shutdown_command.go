package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// ShutdownCommandRepository persists operator-issued remote shutdown requests.
type ShutdownCommandRepository interface {
	Create(ctx context.Context, cmd *db.ShutdownCommand) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ShutdownCommand, error)
	// GetPendingForMachine returns the one row with Status == "pending" for a
	// machine, if any. Returns ErrNotFound if none exists.
	GetPendingForMachine(ctx context.Context, machineID uuid.UUID) (*db.ShutdownCommand, error)
	Update(ctx context.Context, cmd *db.ShutdownCommand) error
	ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.ShutdownCommand, int64, error)
}

// gormShutdownCommandRepository is the GORM implementation of ShutdownCommandRepository.
type gormShutdownCommandRepository struct {
	db *gorm.DB
}

// NewShutdownCommandRepository returns a ShutdownCommandRepository backed by the provided *gorm.DB.
func NewShutdownCommandRepository(db *gorm.DB) ShutdownCommandRepository {
	return &gormShutdownCommandRepository{db: db}
}

// Create inserts a new shutdown command row.
func (r *gormShutdownCommandRepository) Create(ctx context.Context, cmd *db.ShutdownCommand) error {
	if err := r.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("shutdown_commands: create: %w", err)
	}
	return nil
}

// GetByID retrieves a shutdown command by UUID. Returns ErrNotFound if no
// record exists.
func (r *gormShutdownCommandRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ShutdownCommand, error) {
	var cmd db.ShutdownCommand
	err := r.db.WithContext(ctx).First(&cmd, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shutdown_commands: get by id: %w", err)
	}
	return &cmd, nil
}

// GetPendingForMachine retrieves the single pending command for a machine, if
// any. Returns ErrNotFound if none exists.
func (r *gormShutdownCommandRepository) GetPendingForMachine(ctx context.Context, machineID uuid.UUID) (*db.ShutdownCommand, error) {
	var cmd db.ShutdownCommand
	err := r.db.WithContext(ctx).
		First(&cmd, "machine_id = ? AND status = ?", machineID, "pending").Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shutdown_commands: get pending for machine: %w", err)
	}
	return &cmd, nil
}

// Update persists changes to an existing shutdown command record.
func (r *gormShutdownCommandRepository) Update(ctx context.Context, cmd *db.ShutdownCommand) error {
	result := r.db.WithContext(ctx).Save(cmd)
	if result.Error != nil {
		return fmt.Errorf("shutdown_commands: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByMachine returns a paginated, most-recent-first command history for
// one machine.
func (r *gormShutdownCommandRepository) ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.ShutdownCommand, int64, error) {
	var cmds []db.ShutdownCommand
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ShutdownCommand{}).
		Where("machine_id = ?", machineID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("shutdown_commands: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("issued_at DESC").
		Find(&cmds).Error; err != nil {
		return nil, 0, fmt.Errorf("shutdown_commands: list: %w", err)
	}

	return cmds, total, nil
}
