package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessTokenDuration defines how long an access token remains valid.
// Short-lived by design — refresh tokens handle session continuity.
const accessTokenDuration = 15 * time.Minute

// Claims holds the custom JWT claims embedded in every access token.
// Standard claims (exp, iat, iss) are included via jwt.RegisteredClaims.
type Claims struct {
	jwt.RegisteredClaims

	// OperatorID is the UUID of the authenticated operator.
	OperatorID string `json:"oid"`

	// Username is included so handlers don't need a DB round trip to log it.
	Username string `json:"username"`

	// Role is the operator's role at token issuance time.
	// Access tokens are short-lived so role staleness is acceptable.
	Role string `json:"role"`
}

// JWTManager signs and verifies access tokens with a single shared HMAC
// secret. The secret must be at least 32 bytes; it is the one thing every
// server process in a fleet deployment must agree on, which is why it comes
// from configuration rather than a per-process generated key pair.
type JWTManager struct {
	secret []byte
	issuer string
}

// NewJWTManager returns a JWTManager using the provided secret for
// HMAC-SHA256 signing. Returns an error if the secret is too short to resist
// brute force.
func NewJWTManager(secret []byte, issuer string) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return &JWTManager{secret: secret, issuer: issuer}, nil
}

// GenerateAccessToken creates a signed HS256 JWT for the given operator.
// The token expires after accessTokenDuration (15 minutes).
func (m *JWTManager) GenerateAccessToken(operatorID, username, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenDuration)),
			ID:        uuid.NewString(),
		},
		OperatorID: operatorID,
		Username:   username,
		Role:       role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing access token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and verifies a JWT string.
// Returns the embedded Claims on success, or a sentinel error on failure.
//
// Callers should use errors.Is(err, auth.ErrTokenExpired) to distinguish
// expired tokens from tampered/malformed ones.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			// Reject tokens signed with anything other than an HMAC method. This
			// prevents the "alg:none" and RSA/HMAC confusion attacks.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
