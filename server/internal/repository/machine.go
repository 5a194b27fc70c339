package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// MachineRepository persists registered fleet machines.
type MachineRepository interface {
	Create(ctx context.Context, m *db.Machine) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Machine, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*db.Machine, error)
	Update(ctx context.Context, m *db.Machine) error
	List(ctx context.Context, opts ListOptions) ([]db.Machine, int64, error)
	// ListStaleBefore returns machines whose status is "online" or "idle" and whose
	// LastSeenAt is older than cutoff, for the liveness reaper to transition.
	ListStaleBefore(ctx context.Context, cutoff time.Time) ([]db.Machine, error)
}

// gormMachineRepository is the GORM implementation of MachineRepository.
type gormMachineRepository struct {
	db *gorm.DB
}

// NewMachineRepository returns a MachineRepository backed by the provided *gorm.DB.
func NewMachineRepository(db *gorm.DB) MachineRepository {
	return &gormMachineRepository{db: db}
}

// Create inserts a new machine record.
func (r *gormMachineRepository) Create(ctx context.Context, m *db.Machine) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("machines: create: %w", err)
	}
	return nil
}

// GetByID retrieves a machine by UUID. Returns ErrNotFound if no record exists.
func (r *gormMachineRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Machine, error) {
	var m db.Machine
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("machines: get by id: %w", err)
	}
	return &m, nil
}

// GetByFingerprint retrieves a machine by its normalized MAC fingerprint.
// Returns ErrNotFound if no record exists.
func (r *gormMachineRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*db.Machine, error) {
	var m db.Machine
	err := r.db.WithContext(ctx).First(&m, "fingerprint = ?", fingerprint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("machines: get by fingerprint: %w", err)
	}
	return &m, nil
}

// Update persists changes to an existing machine record.
func (r *gormMachineRepository) Update(ctx context.Context, m *db.Machine) error {
	result := r.db.WithContext(ctx).Save(m)
	if result.Error != nil {
		return fmt.Errorf("machines: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of machines and the total count.
func (r *gormMachineRepository) List(ctx context.Context, opts ListOptions) ([]db.Machine, int64, error) {
	var machines []db.Machine
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Machine{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("machines: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("last_seen_at DESC").
		Find(&machines).Error; err != nil {
		return nil, 0, fmt.Errorf("machines: list: %w", err)
	}

	return machines, total, nil
}

// ListStaleBefore returns machines in {online, idle} last seen before cutoff.
// Offline and shutdown machines are excluded — the reaper must never pull a
// deliberately shut-down machine back into the liveness lifecycle.
func (r *gormMachineRepository) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]db.Machine, error) {
	var machines []db.Machine
	err := r.db.WithContext(ctx).
		Where("status IN ? AND last_seen_at < ?", []string{"online", "idle"}, cutoff).
		Find(&machines).Error
	if err != nil {
		return nil, fmt.Errorf("machines: list stale: %w", err)
	}
	return machines, nil
}
