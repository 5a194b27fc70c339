package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenwatt/fleet/server/internal/db"
	"github.com/greenwatt/fleet/server/internal/repository"
)

// normalizeUsername trims and lowercases a username so lookups and the
// unique index agree on a single canonical form.
func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

const (
	// refreshTokenDuration defines how long a refresh token remains valid.
	refreshTokenDuration = 7 * 24 * time.Hour

	// failedAttemptThreshold is the number of consecutive wrong passwords
	// that trips the lockout.
	failedAttemptThreshold = 10

	// lockoutWindow is how long an account stays locked after tripping the
	// threshold, after which the counter effectively restarts.
	lockoutWindow = 15 * time.Minute
)

// LoginRequest carries credentials and client metadata for a login attempt.
type LoginRequest struct {
	Username  string
	Password  string
	UserAgent string
	IPAddress string
}

// TokenPair is returned after a successful login or token refresh.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	OperatorID            uuid.UUID
	Username              string
	Role                  string
}

// Service is the session authority: it issues, rotates, and revokes operator
// sessions. There is exactly one auth backend (username/password) so, unlike
// a pluggable-provider design, Service owns the whole login/refresh/logout
// procedure directly instead of delegating to an interface.
type Service struct {
	operators repository.OperatorRepository
	tokens    repository.RefreshTokenRepository
	jwt       *JWTManager
}

// NewService creates a Service with the given dependencies.
func NewService(operators repository.OperatorRepository, tokens repository.RefreshTokenRepository, jwt *JWTManager) *Service {
	return &Service{operators: operators, tokens: tokens, jwt: jwt}
}

// JWTManager exposes the Service's JWTManager so the API layer's
// Authenticate middleware can validate access tokens without the Service
// itself needing to expose a request-scoped method.
func (s *Service) JWTManager() *JWTManager {
	return s.jwt
}

// ErrLockedOutUntil is like ErrLockedOut but carries the wait duration the
// caller should surface as Retry-After.
type ErrLockedOutUntil struct {
	Until time.Time
}

func (e *ErrLockedOutUntil) Error() string {
	return fmt.Sprintf("auth: account locked until %s", e.Until.Format(time.RFC3339))
}

// Login validates username/password, applying lockout bookkeeping, and
// issues a token pair on success. Steps follow the fixed procedure: look up
// -> check active -> check lockout -> verify password (always, even on a
// lookup miss, via TimingSafeDummyVerify) -> update counters -> issue tokens.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	username := normalizeUsername(req.Username)

	operator, err := s.operators.GetByUsername(ctx, username)
	if err != nil {
		if err == repository.ErrNotFound {
			TimingSafeDummyVerify(req.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: fetching operator by username: %w", err)
	}

	if !operator.Active {
		TimingSafeDummyVerify(req.Password)
		return nil, ErrOperatorDisabled
	}

	now := time.Now()
	if operator.LockoutUntil != nil && operator.LockoutUntil.After(now) {
		TimingSafeDummyVerify(req.Password)
		return nil, &ErrLockedOutUntil{Until: *operator.LockoutUntil}
	}

	if !VerifyPassword(req.Password, operator.PasswordHash) {
		operator.FailedAttempts++
		if operator.FailedAttempts >= failedAttemptThreshold {
			until := now.Add(lockoutWindow)
			operator.LockoutUntil = &until
			operator.FailedAttempts = 0
		}
		if err := s.operators.Update(ctx, operator); err != nil {
			return nil, fmt.Errorf("auth: persisting failed attempt: %w", err)
		}
		return nil, ErrInvalidCredentials
	}

	operator.FailedAttempts = 0
	operator.LockoutUntil = nil
	operator.LastLoginAt = &now
	if NeedsRehash(operator.PasswordHash) {
		if rehashed, err := HashPassword(req.Password); err == nil {
			operator.PasswordHash = rehashed
		}
	}
	if err := s.operators.Update(ctx, operator); err != nil {
		return nil, fmt.Errorf("auth: persisting successful login: %w", err)
	}

	return s.issueTokenPair(ctx, operator, req.UserAgent, req.IPAddress)
}

// RefreshToken validates a refresh token, rotates it (revoke-then-issue in
// one transactional step at the repository layer), and issues a new pair.
func (s *Service) RefreshToken(ctx context.Context, rawToken, userAgent, ipAddress string) (*TokenPair, error) {
	hash := DigestToken(rawToken)

	stored, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("auth: fetching refresh token: %w", err)
	}

	if stored.RevokedAt != nil {
		return nil, ErrRefreshTokenNotFound
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if err := s.tokens.Revoke(ctx, stored.ID); err != nil {
		return nil, fmt.Errorf("auth: revoking used refresh token: %w", err)
	}

	operator, err := s.operators.GetByID(ctx, stored.OperatorID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("auth: fetching operator for refresh: %w", err)
	}
	if !operator.Active {
		return nil, ErrOperatorDisabled
	}

	return s.issueTokenPair(ctx, operator, userAgent, ipAddress)
}

// Logout revokes the given refresh token. If the token does not exist the
// call is a no-op — the client should discard its copy regardless.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	hash := DigestToken(rawToken)
	stored, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil
		}
		return fmt.Errorf("auth: fetching refresh token for logout: %w", err)
	}
	if err := s.tokens.Revoke(ctx, stored.ID); err != nil {
		return fmt.Errorf("auth: revoking refresh token on logout: %w", err)
	}
	return nil
}

// LogoutAllSessions revokes every active refresh token for an operator.
// Called on password reset or a detected account compromise.
func (s *Service) LogoutAllSessions(ctx context.Context, operatorID uuid.UUID) error {
	if err := s.tokens.RevokeAllForOperator(ctx, operatorID); err != nil {
		return fmt.Errorf("auth: revoking all sessions for operator %s: %w", operatorID, err)
	}
	return nil
}

// ValidateAccessToken parses and verifies a JWT access token. Used by the
// HTTP middleware to authenticate incoming requests.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.jwt.ValidateAccessToken(tokenString)
}

func (s *Service) issueTokenPair(ctx context.Context, operator *db.Operator, userAgent, ipAddress string) (*TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(operator.ID.String(), operator.Username, operator.Role)
	if err != nil {
		return nil, err
	}

	rawRefresh, hash, err := GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth: generating refresh token: %w", err)
	}

	expiresAt := time.Now().Add(refreshTokenDuration)

	if err := s.tokens.Create(ctx, &db.RefreshToken{
		OperatorID: operator.ID,
		TokenHash:  hash,
		ExpiresAt:  expiresAt,
		UserAgent:  truncate(userAgent, 256),
		IPAddress:  ipAddress,
	}); err != nil {
		return nil, fmt.Errorf("auth: persisting refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          rawRefresh,
		RefreshTokenExpiresAt: expiresAt,
		OperatorID:            operator.ID,
		Username:              operator.Username,
		Role:                  operator.Role,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
