package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/user"
)

// RouterConfig holds everything the router needs to assemble routes.
type RouterConfig struct {
	Guard          *Guard
	Ingest         *IngestHandlers
	Auth           *AuthHandlers
	Trusted        *TrustedHandlers
	Rejections     *RejectionHandlers
	Audit          *AuditHandlers
	SecurityEvents *SecurityEventHandlers
	Stats          *StatsHandlers
	Health         *HealthHandlers

	Metrics      *middleware.Metrics
	PromRegistry *prometheus.Registry

	RateLimitStore middleware.RateLimitStore
	IngestLimit    middleware.RateLimitConfig
	LoginLimit     middleware.RateLimitConfig

	Logger *slog.Logger
}

// NewRouter assembles the full route table with per-route guards and the
// shared middleware chain RequestID -> Metrics -> Logging.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	ingestLimiter := middleware.RateLimiter(cfg.RateLimitStore, cfg.IngestLimit, middleware.IPKeyFunc())
	loginLimiter := middleware.RateLimiter(cfg.RateLimitStore, cfg.LoginLimit, middleware.IPKeyFunc())

	// Write side
	mux.Handle("POST /api/v1/ingest", ingestLimiter(http.HandlerFunc(cfg.Ingest.Ingest)))
	mux.Handle("POST /api/v1/auth/login", loginLimiter(http.HandlerFunc(cfg.Auth.Login)))

	// Read side, per-role
	guarded := func(h http.HandlerFunc, roles ...string) http.Handler {
		return cfg.Guard.RequireUser(cfg.Guard.RequireRoles(roles...)(h))
	}
	mux.Handle("GET /api/v1/trusted",
		guarded(cfg.Trusted.List, user.RoleOperator, user.RoleAnalyst, user.RoleAdmin))
	mux.Handle("GET /api/v1/stats",
		guarded(cfg.Stats.Stats, user.RoleOperator, user.RoleAnalyst, user.RoleAdmin))
	mux.Handle("GET /api/v1/rejections",
		guarded(cfg.Rejections.List, user.RoleAnalyst, user.RoleAdmin))
	mux.Handle("GET /api/v1/audit",
		guarded(cfg.Audit.List, user.RoleAuditor, user.RoleAdmin))
	mux.Handle("GET /api/v1/security-events",
		guarded(cfg.SecurityEvents.List, user.RoleAuditor, user.RoleAdmin))

	// Administrative mutation
	mux.Handle("PATCH /api/v1/trusted/{id}",
		guarded(cfg.Trusted.Patch, user.RoleAdmin))

	// Probes and metrics
	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.PromRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.PromRegistry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	}
	handler = middleware.Logging(cfg.Logger)(handler)
	handler = middleware.RequestID(handler)
	return handler
}
