package auth

import "errors"

// Sentinel errors returned by the credential store and session authority.
// Callers should use errors.Is for comparison.
var (
	// ErrInvalidCredentials is returned when username/password do not match,
	// or the account does not exist — callers must not distinguish the two
	// in a response, only in logs.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrOperatorNotFound is returned when no operator exists for the given identifier.
	ErrOperatorNotFound = errors.New("auth: operator not found")

	// ErrOperatorDisabled is returned when the operator account is inactive.
	ErrOperatorDisabled = errors.New("auth: operator account is disabled")

	// ErrLockedOut is returned when an operator account is within its lockout
	// window following repeated failed login attempts.
	ErrLockedOut = errors.New("auth: account is temporarily locked")

	// ErrTokenExpired is returned when a JWT or refresh token has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrRefreshTokenNotFound is returned when the provided refresh token
	// does not exist, has already been rotated out, or was revoked.
	ErrRefreshTokenNotFound = errors.New("auth: refresh token not found")
)
