package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// HeartbeatRepository persists the append-only telemetry history.
type HeartbeatRepository interface {
	Create(ctx context.Context, hb *db.Heartbeat) error
	ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.Heartbeat, int64, error)
}

// gormHeartbeatRepository is the GORM implementation of HeartbeatRepository.
type gormHeartbeatRepository struct {
	db *gorm.DB
}

// NewHeartbeatRepository returns a HeartbeatRepository backed by the provided *gorm.DB.
func NewHeartbeatRepository(db *gorm.DB) HeartbeatRepository {
	return &gormHeartbeatRepository{db: db}
}

// Create inserts a new heartbeat row. Heartbeats are never updated.
func (r *gormHeartbeatRepository) Create(ctx context.Context, hb *db.Heartbeat) error {
	if err := r.db.WithContext(ctx).Create(hb).Error; err != nil {
		return fmt.Errorf("heartbeats: create: %w", err)
	}
	return nil
}

// ListByMachine returns a paginated, most-recent-first heartbeat history for
// one machine.
func (r *gormHeartbeatRepository) ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.Heartbeat, int64, error) {
	var heartbeats []db.Heartbeat
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Heartbeat{}).
		Where("machine_id = ?", machineID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("heartbeats: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("timestamp DESC").
		Find(&heartbeats).Error; err != nil {
		return nil, 0, fmt.Errorf("heartbeats: list: %w", err)
	}

	return heartbeats, total, nil
}
