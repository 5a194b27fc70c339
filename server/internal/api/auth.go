package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/auth"
)

// AuthHandler groups the operator authentication HTTP handlers. Unlike the
// cookie-based flows this protocol replaces, both tokens are returned
// directly in the JSON response body — there is no browser session to
// protect with httpOnly cookies on the agent/operator-CLI side of this
// protocol.
type AuthHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger.Named("auth_handler")}
}

// loginRequest is the JSON body expected by POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse is the JSON body returned by login and refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	Role         string `json:"role"`
	Username     string `json:"username"`
}

func toTokenResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.RefreshTokenExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Role:         pair.Role,
		Username:     pair.Username,
	}
}

// Login handles POST /auth/login. Authenticates via username/password and
// returns both tokens in the response body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		ErrBadRequest(w, "username and password are required")
		return
	}

	pair, err := h.svc.Login(r.Context(), auth.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	})
	if err != nil {
		var lockedErr *auth.ErrLockedOutUntil
		switch {
		case errors.As(err, &lockedErr):
			wait := int(time.Until(lockedErr.Until).Seconds())
			if wait < 0 {
				wait = 0
			}
			ErrRateLimited(w, wait)
			return
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrOperatorDisabled):
			// Same 401 for wrong credentials and disabled accounts to avoid
			// user enumeration.
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, toTokenResponse(pair))
}

// refreshRequest is the JSON body expected by POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh. Rotates the refresh token and returns
// a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		ErrBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.svc.RefreshToken(r.Context(), req.RefreshToken, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	Ok(w, toTokenResponse(pair))
}

// logoutRequest is the JSON body expected by POST /auth/logout.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout handles POST /auth/logout. Revokes the presented refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		NoContent(w)
		return
	}

	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Warn("logout error", zap.Error(err))
	}
	NoContent(w)
}
