package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// OperatorRepository persists dashboard operator accounts.
type OperatorRepository interface {
	Create(ctx context.Context, op *db.Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Operator, error)
	GetByUsername(ctx context.Context, username string) (*db.Operator, error)
	Update(ctx context.Context, op *db.Operator) error
	CountActive(ctx context.Context) (int64, error)
	List(ctx context.Context, opts ListOptions) ([]db.Operator, int64, error)
}

// gormOperatorRepository is the GORM implementation of OperatorRepository.
type gormOperatorRepository struct {
	db *gorm.DB
}

// NewOperatorRepository returns an OperatorRepository backed by the provided *gorm.DB.
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &gormOperatorRepository{db: db}
}

// Create inserts a new operator record.
func (r *gormOperatorRepository) Create(ctx context.Context, op *db.Operator) error {
	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("operators: create: %w", err)
	}
	return nil
}

// GetByID retrieves an operator by UUID. Returns ErrNotFound if no record exists.
func (r *gormOperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Operator, error) {
	var op db.Operator
	err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("operators: get by id: %w", err)
	}
	return &op, nil
}

// GetByUsername retrieves an operator by its normalized username.
// Returns ErrNotFound if no record exists.
func (r *gormOperatorRepository) GetByUsername(ctx context.Context, username string) (*db.Operator, error) {
	var op db.Operator
	err := r.db.WithContext(ctx).First(&op, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("operators: get by username: %w", err)
	}
	return &op, nil
}

// Update persists changes to an existing operator record, including zeroed
// fields (Save, not Updates) so clearing LockoutUntil works.
func (r *gormOperatorRepository) Update(ctx context.Context, op *db.Operator) error {
	result := r.db.WithContext(ctx).Save(op)
	if result.Error != nil {
		return fmt.Errorf("operators: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive returns the number of non-disabled operator accounts. Used by
// bootstrap to decide whether a seed admin is still needed.
func (r *gormOperatorRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Operator{}).Where("active = ?", true).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("operators: count active: %w", err)
	}
	return count, nil
}

// List returns a paginated list of operators and the total count.
func (r *gormOperatorRepository) List(ctx context.Context, opts ListOptions) ([]db.Operator, int64, error) {
	var ops []db.Operator
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Operator{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("operators: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at ASC").
		Find(&ops).Error; err != nil {
		return nil, 0, fmt.Errorf("operators: list: %w", err)
	}

	return ops, total, nil
}
