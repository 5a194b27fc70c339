package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// AuditLogRepository persists append-only security and command-lifecycle events.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *db.AuditLog) error
	ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.AuditLog, int64, error)
}

// gormAuditLogRepository is the GORM implementation of AuditLogRepository.
type gormAuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository returns an AuditLogRepository backed by the provided *gorm.DB.
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &gormAuditLogRepository{db: db}
}

// Create inserts a new audit log entry. Entries are never updated or deleted.
func (r *gormAuditLogRepository) Create(ctx context.Context, entry *db.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("audit_logs: create: %w", err)
	}
	return nil
}

// ListByMachine returns a paginated, most-recent-first audit trail for one
// machine.
func (r *gormAuditLogRepository) ListByMachine(ctx context.Context, machineID uuid.UUID, opts ListOptions) ([]db.AuditLog, int64, error) {
	var entries []db.AuditLog
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.AuditLog{}).
		Where("machine_id = ?", machineID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit_logs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("audit_logs: list: %w", err)
	}

	return entries, total, nil
}
