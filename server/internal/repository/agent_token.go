package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenwatt/fleet/server/internal/db"
)

// AgentTokenRepository persists the one-to-one bearer credential issued to
// each registered machine.
type AgentTokenRepository interface {
	Upsert(ctx context.Context, token *db.AgentToken) error
	GetByHash(ctx context.Context, hash string) (*db.AgentToken, error)
	GetByMachineID(ctx context.Context, machineID uuid.UUID) (*db.AgentToken, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// gormAgentTokenRepository is the GORM implementation of AgentTokenRepository.
type gormAgentTokenRepository struct {
	db *gorm.DB
}

// NewAgentTokenRepository returns an AgentTokenRepository backed by the provided *gorm.DB.
func NewAgentTokenRepository(db *gorm.DB) AgentTokenRepository {
	return &gormAgentTokenRepository{db: db}
}

// Upsert creates the machine's token row, or replaces it in place (rotation
// on re-registration) if one already exists. MachineID is unique, so this
// looks the row up by machine_id and then either creates it or saves over the
// existing row's ID.
func (r *gormAgentTokenRepository) Upsert(ctx context.Context, token *db.AgentToken) error {
	var existing db.AgentToken
	err := r.db.WithContext(ctx).First(&existing, "machine_id = ?", token.MachineID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
			return fmt.Errorf("agent_tokens: create: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("agent_tokens: lookup for upsert: %w", err)
	default:
		token.ID = existing.ID
		if err := r.db.WithContext(ctx).Save(token).Error; err != nil {
			return fmt.Errorf("agent_tokens: update: %w", err)
		}
		return nil
	}
}

// GetByHash retrieves a token row by its SHA-256 digest.
// Returns ErrNotFound if no record exists.
func (r *gormAgentTokenRepository) GetByHash(ctx context.Context, hash string) (*db.AgentToken, error) {
	var token db.AgentToken
	err := r.db.WithContext(ctx).First(&token, "token_hash = ?", hash).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agent_tokens: get by hash: %w", err)
	}
	return &token, nil
}

// GetByMachineID retrieves the token row for a given machine.
// Returns ErrNotFound if no record exists.
func (r *gormAgentTokenRepository) GetByMachineID(ctx context.Context, machineID uuid.UUID) (*db.AgentToken, error) {
	var token db.AgentToken
	err := r.db.WithContext(ctx).First(&token, "machine_id = ?", machineID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agent_tokens: get by machine id: %w", err)
	}
	return &token, nil
}

// TouchLastUsed bumps LastUsedAt to now. Registry.Authenticate treats an
// error here as an authentication failure.
func (r *gormAgentTokenRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&db.AgentToken{}).
		Where("id = ?", id).
		Update("last_used_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	if err != nil {
		return fmt.Errorf("agent_tokens: touch last used: %w", err)
	}
	return nil
}
