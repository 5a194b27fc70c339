package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
// GORM automatically filters out soft-deleted records from all queries unless
// Unscoped() is used explicitly.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Operators & sessions
// -----------------------------------------------------------------------------

// Operator represents a human dashboard user. Username is stored normalized
// (trim + lowercase) — every write path must normalize before persisting.
type Operator struct {
	softDelete
	Username       string `gorm:"uniqueIndex;not null"`
	PasswordHash   string `gorm:"type:text;not null"` // argon2id encoded string, never plaintext
	Role           string `gorm:"not null;default:'viewer'"` // "admin" or "viewer", always lowercase
	Active         bool   `gorm:"not null;default:true"`
	FailedAttempts int    `gorm:"not null;default:0"`
	LockoutUntil   *time.Time
	LastLoginAt    *time.Time
}

// RefreshToken stores only the SHA-256 hex digest of an opaque refresh token.
// Tokens are single-use: Refresh revokes the presented row in the same
// transaction that issues a replacement.
type RefreshToken struct {
	base
	OperatorID uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash  string    `gorm:"not null;uniqueIndex"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	RevokedAt  *time.Time
	UserAgent  string `gorm:"default:''"`
	IPAddress  string `gorm:"default:''"` // truncated, see registry.TruncateIP
}

// -----------------------------------------------------------------------------
// Machines
// -----------------------------------------------------------------------------

// Machine represents one end-user host reporting telemetry. Fingerprint is
// the normalized MAC address and is the stable external identity of the
// machine — registration is idempotent keyed on it.
type Machine struct {
	softDelete
	Fingerprint   string `gorm:"uniqueIndex;not null"` // normalized MAC, AA:BB:CC:DD:EE:FF
	Hostname      string `gorm:"not null"`
	OSType        string `gorm:"not null"`
	OSVersion     string `gorm:"default:''"`
	AgentVersion  string `gorm:"default:''"`
	LastIP        string `gorm:"default:''"`
	Status        string `gorm:"not null;default:'online';index"` // status.MachineStatus
	IdleSeconds   int64  `gorm:"not null;default:0"`               // most recently reported value
	TotalIdleSecs int64  `gorm:"not null;default:0"`
	TotalEnergyKWh float64 `gorm:"column:total_energy_kwh;not null;default:0"`
	TotalCost      float64 `gorm:"not null;default:0"`
	TotalCO2Kg     float64 `gorm:"not null;default:0"`
	FirstSeenAt    time.Time `gorm:"not null"`
	LastSeenAt     time.Time `gorm:"not null;index"`
	RegisteredAt   time.Time `gorm:"not null"`
	Active         bool      `gorm:"not null;default:true"`
}

// AgentToken is one-to-one with Machine and stored only as a SHA-256 digest.
type AgentToken struct {
	base
	MachineID  uuid.UUID `gorm:"type:text;not null;uniqueIndex"`
	TokenHash  string    `gorm:"not null;uniqueIndex"`
	IssuedAt   time.Time `gorm:"not null"`
	LastUsedAt *time.Time
	Revoked    bool `gorm:"not null;default:false"`
}

// Heartbeat is an append-only telemetry history row. Never updated once
// written; delta fields are the accounting contribution of this one
// heartbeat, not a running total (see Machine's cumulative totals for that).
type Heartbeat struct {
	base
	MachineID     uuid.UUID `gorm:"type:text;not null;index"`
	Timestamp     time.Time `gorm:"not null;index"`
	IdleSeconds   int64     `gorm:"not null"`
	CPUPercent    *float64
	MemoryPercent *float64
	DeltaEnergyKWh float64 `gorm:"column:delta_energy_kwh;not null"`
	DeltaCost      float64 `gorm:"not null"`
	DeltaCO2Kg     float64 `gorm:"not null"`
	ClassifiedIdle bool    `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Shutdown commands
// -----------------------------------------------------------------------------

// ShutdownCommand represents one operator-issued remote shutdown request.
// At most one row per Machine may have Status == "pending" at a time — this
// invariant is enforced by the commands package inside a single transaction,
// not by a database constraint, because "expire the prior pending row" is a
// write, not a conflict to reject.
type ShutdownCommand struct {
	base
	MachineID           uuid.UUID `gorm:"type:text;not null;index"`
	IssuerID            uuid.UUID `gorm:"type:text;not null"`
	Status              string    `gorm:"not null;default:'pending';index"` // status.CommandStatus
	IdleThresholdMinutes int      `gorm:"not null"`
	IssuedAt            time.Time `gorm:"not null"`
	ExpiresAt           time.Time `gorm:"not null;index"`
	ExecutedAt          *time.Time
	Notes               string `gorm:"type:text;default:''"`
	RejectionReason     string `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

// AuditLog is an append-only record of security and command-lifecycle
// events. Never updated or deleted; read endpoints over it are out of scope.
type AuditLog struct {
	base
	ActorID   *uuid.UUID `gorm:"type:text"` // nil for agent-reported events (command executed/rejected)
	Action    string     `gorm:"not null"`
	MachineID *uuid.UUID `gorm:"type:text"`
	Detail    string     `gorm:"type:text;default:''"`
}
