package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/trustpipe/trustpipe/internal/auth"
	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/security"
	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/user"
)

// APIKeyHeader is the HTTP header carrying the source credential.
const APIKeyHeader = "X-API-Key"

// ErrSourceAuthFailed is returned by AuthenticateSource on any credential
// failure. The cause is recorded in the security log, never returned to
// the caller.
var ErrSourceAuthFailed = errors.New("source authentication failed")

// Guard performs credential and role checks and records security events
// for every denial. Security events are written through their own
// statements so they survive the failure of the guarded operation.
type Guard struct {
	sources source.Registry
	users   user.Repository
	tokens  *auth.TokenService
	secRepo security.Repository
	logger  *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(sources source.Registry, users user.Repository, tokens *auth.TokenService, secRepo security.Repository, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{sources: sources, users: users, tokens: tokens, secRepo: secRepo, logger: logger}
}

// clientIP extracts the originating client address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// recordSecurityEvent writes a security event, logging rather than
// propagating failures: a denial must never be blocked by logging.
func (g *Guard) recordSecurityEvent(ctx context.Context, ev *security.Event) {
	if err := g.secRepo.Insert(ctx, ev); err != nil {
		g.logger.Error("failed to record security event",
			"event_type", ev.EventType, "error", err)
	}
}

// AuthenticateSource validates the ingestion credential for the named
// source. Unknown sources are denied, never registered: provisioning a
// source row is reserved for the authenticated pipeline, so unauthenticated
// callers cannot grow the registry. Every failure emits an AUTH_FAILED
// security event and returns ErrSourceAuthFailed; the specific cause is
// never disclosed.
func (g *Guard) AuthenticateSource(ctx context.Context, r *http.Request, sourceName string) (*source.Source, error) {
	apiKey := r.Header.Get(APIKeyHeader)
	deny := func(reason string, sourceID *int64) (*source.Source, error) {
		g.recordSecurityEvent(ctx, &security.Event{
			EventType: security.EventAuthFailed,
			Severity:  security.SeverityHigh,
			SourceID:  sourceID,
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: middleware.GetRequestID(ctx),
			Details: map[string]any{
				"source":   sourceName,
				"endpoint": r.URL.Path,
				"reason":   reason,
			},
		})
		return nil, ErrSourceAuthFailed
	}

	if apiKey == "" {
		return deny("missing api key", nil)
	}

	src, err := g.sources.Resolve(ctx, sourceName)
	if errors.Is(err, source.ErrSourceNotFound) {
		return deny("unknown source", nil)
	}
	if err != nil {
		g.logger.Error("failed to resolve source", "source", sourceName, "error", err)
		return nil, err
	}
	if !src.Active() {
		return deny("source inactive", &src.ID)
	}
	if !auth.VerifyAPIKey(apiKey, src.APIKeyHash) {
		return deny("credential mismatch", &src.ID)
	}
	return src, nil
}

// RequireUser is a middleware that validates a Bearer token and attaches
// the authenticated identity to the request context. The token's subject
// must still exist and be active; role comes from the stored user, not
// the token, so demotions take effect before token expiry.
func (g *Guard) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deny := func(reason string, userID *int64) {
			g.recordSecurityEvent(r.Context(), &security.Event{
				EventType: security.EventAuthFailed,
				Severity:  security.SeverityHigh,
				UserID:    userID,
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
				RequestID: middleware.GetRequestID(r.Context()),
				Details: map[string]any{
					"endpoint": r.URL.Path,
					"reason":   reason,
				},
			})
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			deny("missing authorization header", nil)
			return
		}
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			deny("malformed authorization header", nil)
			return
		}

		claims, err := g.tokens.Validate(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				deny("token expired", nil)
			} else {
				deny("invalid token", nil)
			}
			return
		}

		u, err := g.users.GetByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				deny("unknown user", &claims.UserID)
				return
			}
			g.logger.Error("failed to load user", "user_id", claims.UserID, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
			return
		}
		if !u.IsActive {
			deny("user inactive", &u.ID)
			return
		}

		ctx := middleware.SetIdentity(r.Context(), middleware.Identity{
			UserID:   u.ID,
			Username: u.Username,
			Role:     u.Role,
		})
		middleware.UpdateResponseContext(w, ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles is a middleware that restricts a route to the given roles.
// It must run inside RequireUser. Authorization failures respond 403 and
// emit an ACCESS_DENIED security event; this is deliberately distinct
// from the 401 authentication failure.
func (g *Guard) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := middleware.GetIdentity(r.Context())
			if !ok {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
				WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
				return
			}
			if !allowed[id.Role] {
				g.recordSecurityEvent(r.Context(), &security.Event{
					EventType: security.EventAccessDenied,
					Severity:  security.SeverityMedium,
					UserID:    &id.UserID,
					IP:        clientIP(r),
					UserAgent: r.UserAgent(),
					RequestID: middleware.GetRequestID(r.Context()),
					Details: map[string]any{
						"endpoint": r.URL.Path,
						"role":     id.Role,
					},
				})
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
				WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
