// Package registry implements machine registration and agent-token
// authentication: normalizing and validating device fingerprints, creating
// or updating Machine rows idempotently, and resolving a presented agent
// token back to its owning machine on every heartbeat.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenwatt/fleet/server/internal/auth"
	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

// ErrInvalidFingerprint is returned when the supplied fingerprint does not
// match the strict MAC-address form after normalization.
var ErrInvalidFingerprint = errors.New("registry: invalid fingerprint")

// ErrTokenInvalid is returned by Authenticate when the presented agent token
// does not resolve to an active, non-revoked token row.
var ErrTokenInvalid = errors.New("registry: invalid or revoked agent token")

// fingerprintPattern matches six colon-separated 2-hex-digit groups,
// case-insensitively — the normalized form is always uppercase.
var fingerprintPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

const maxHostnameLen = 253

// NormalizeFingerprint uppercases and validates a MAC-style device
// fingerprint. Returns ErrInvalidFingerprint if the input is not six
// colon-separated hex octets once trimmed.
func NormalizeFingerprint(raw string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if !fingerprintPattern.MatchString(trimmed) {
		return "", ErrInvalidFingerprint
	}
	return trimmed, nil
}

// SanitizeHostname trims whitespace and caps the length of a reported
// hostname so an oversized or control-character-laden value from a
// misbehaving agent can never reach storage uninspected.
func SanitizeHostname(raw string) string {
	h := strings.TrimSpace(raw)
	h = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, h)
	if len(h) > maxHostnameLen {
		h = h[:maxHostnameLen]
	}
	if h == "" {
		h = "unknown-host"
	}
	return h
}

// TruncateIP caps a client-reported IP/IP:port string to a safe storage
// length without attempting full address parsing — the audit trail only
// needs a best-effort value.
func TruncateIP(raw string, max int) string {
	if len(raw) <= max {
		return raw
	}
	return raw[:max]
}

// RegisterRequest carries the fields an agent supplies on registration.
type RegisterRequest struct {
	Fingerprint  string
	Hostname     string
	OSType       string
	OSVersion    string
	AgentVersion string
	IPAddress    string
}

// RegisterResult is returned to the caller after a successful registration.
type RegisterResult struct {
	Machine    *db.Machine
	AgentToken string // raw token, shown to the agent exactly once
	Outcome    string // "new" or "renewed"
}

// Registry resolves and persists machines and their agent tokens.
type Registry struct {
	machines repository.MachineRepository
	tokens   repository.AgentTokenRepository
}

// New returns a Registry backed by the given repositories.
func New(machines repository.MachineRepository, tokens repository.AgentTokenRepository) *Registry {
	return &Registry{machines: machines, tokens: tokens}
}

// Register creates a new Machine and AgentToken if the fingerprint is
// unseen, or updates the existing Machine's metadata and rotates its token
// if seen. Both branches return a freshly usable raw token — re-registration
// is idempotent for the Machine record even though the token digest changes.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	fingerprint, err := NormalizeFingerprint(req.Fingerprint)
	if err != nil {
		return nil, err
	}
	hostname := SanitizeHostname(req.Hostname)
	now := time.Now()

	machine, err := r.machines.GetByFingerprint(ctx, fingerprint)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		machine = &db.Machine{
			Fingerprint:  fingerprint,
			Hostname:     hostname,
			OSType:       req.OSType,
			OSVersion:    req.OSVersion,
			AgentVersion: req.AgentVersion,
			LastIP:       req.IPAddress,
			Status:       string(status.MachineOnline),
			FirstSeenAt:  now,
			LastSeenAt:   now,
			RegisteredAt: now,
			Active:       true,
		}
		if err := r.machines.Create(ctx, machine); err != nil {
			return nil, fmt.Errorf("registry: creating machine: %w", err)
		}

		raw, _, err := r.issueToken(ctx, machine.ID)
		if err != nil {
			return nil, err
		}
		return &RegisterResult{Machine: machine, AgentToken: raw, Outcome: "new"}, nil

	case err != nil:
		return nil, fmt.Errorf("registry: looking up fingerprint: %w", err)

	default:
		machine.Hostname = hostname
		machine.OSType = req.OSType
		machine.OSVersion = req.OSVersion
		machine.AgentVersion = req.AgentVersion
		machine.LastIP = req.IPAddress
		machine.Status = string(status.MachineOnline)
		machine.LastSeenAt = now
		machine.Active = true
		if err := r.machines.Update(ctx, machine); err != nil {
			return nil, fmt.Errorf("registry: updating machine: %w", err)
		}

		raw, _, err := r.issueToken(ctx, machine.ID)
		if err != nil {
			return nil, err
		}
		return &RegisterResult{Machine: machine, AgentToken: raw, Outcome: "renewed"}, nil
	}
}

func (r *Registry) issueToken(ctx context.Context, machineID uuid.UUID) (raw string, token *db.AgentToken, err error) {
	raw, hash, err := auth.GenerateAgentToken()
	if err != nil {
		return "", nil, fmt.Errorf("registry: generating agent token: %w", err)
	}

	token = &db.AgentToken{
		MachineID: machineID,
		TokenHash: hash,
		IssuedAt:  time.Now(),
		Revoked:   false,
	}
	if err := r.tokens.Upsert(ctx, token); err != nil {
		return "", nil, fmt.Errorf("registry: persisting agent token: %w", err)
	}
	return raw, token, nil
}

// Authenticate resolves a raw bearer token presented by an agent to its
// owning Machine, bumping the token's last-used timestamp. Returns
// ErrTokenInvalid if the token is unknown or revoked.
func (r *Registry) Authenticate(ctx context.Context, rawToken string) (*db.Machine, error) {
	hash := auth.DigestToken(rawToken)

	token, err := r.tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("registry: looking up token: %w", err)
	}
	if token.Revoked {
		return nil, ErrTokenInvalid
	}

	if err := r.tokens.TouchLastUsed(ctx, token.ID); err != nil {
		return nil, fmt.Errorf("registry: touching token last-used: %w", err)
	}

	machine, err := r.machines.GetByID(ctx, token.MachineID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("registry: fetching machine for token: %w", err)
	}
	return machine, nil
}
