package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/auth"
	"github.com/greenwatt/fleet/server/internal/commands"
	"github.com/greenwatt/fleet/server/internal/ratelimit"
	"github.com/greenwatt/fleet/server/internal/registry"
	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/server/internal/telemetry"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Auth       *auth.Service
	Registry   *registry.Registry
	Ingestor   *telemetry.Ingestor
	Dispatcher *commands.Dispatcher
	Machines   repository.MachineRepository

	// GeneralLimiter applies to every route; LoginLimiter additionally
	// applies to the login endpoint only, per spec.md's two-bucket policy.
	GeneralLimiter *ratelimit.Limiter
	LoginLimiter   *ratelimit.Limiter

	Logger *zap.Logger
}

// clientKey is the rate limiter key function: the remote address as already
// normalized by Chi's RealIP middleware.
func clientKey(r *http.Request) string {
	return r.RemoteAddr
}

// NewRouter builds and returns the fully configured Chi router. Routes are
// not versioned under /api/v1 — this is a closed agent/operator protocol,
// not a public REST API with its own evolution schedule.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cfg.GeneralLimiter.Middleware(clientKey))

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	agentHandler := NewAgentHandler(cfg.Registry, cfg.Ingestor, cfg.Dispatcher, cfg.Logger)
	commandHandler := NewCommandHandler(cfg.Dispatcher, cfg.Machines, cfg.Logger)

	jwtMgr := cfg.Auth.JWTManager()

	// --- Public operator auth routes ---
	r.Group(func(r chi.Router) {
		r.With(cfg.LoginLimiter.Middleware(clientKey)).Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)
	})

	// --- Public machine registration ---
	r.Post("/agents/register", agentHandler.Register)

	// --- Agent-bearer routes ---
	r.Group(func(r chi.Router) {
		r.Use(AuthenticateAgent(cfg.Registry))
		r.Post("/agents/heartbeat", agentHandler.Heartbeat)
		r.Get("/agents/commands/poll", agentHandler.Poll)
		r.Post("/agents/commands/result", agentHandler.Result)
	})

	// --- Operator-bearer routes (admin only) ---
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(jwtMgr))
		r.Use(RequireRole("admin"))
		r.Post("/commands/shutdown", commandHandler.IssueShutdown)
	})

	return r
}
