package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trustpipe/trustpipe/internal/auth"
	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/user"
)

// AuthHandlers serves login and token issuance.
type AuthHandlers struct {
	users  user.Repository
	tokens *auth.TokenService
	logger *slog.Logger
}

// NewAuthHandlers creates auth handlers.
func NewAuthHandlers(users user.Repository, tokens *auth.TokenService, logger *slog.Logger) *AuthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandlers{users: users, tokens: tokens, logger: logger}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login handles POST /api/v1/auth/login.
// Unknown user, inactive user, and wrong password all return the same
// invalid_credentials response.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "username and password are required")
		return
	}

	invalidCredentials := func() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCredentials)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid credentials")
	}

	u, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			invalidCredentials()
			return
		}
		slog.ErrorContext(r.Context(), "failed to load user for login", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if !u.IsActive || !auth.VerifyPassword(req.Password, u.PasswordHash) {
		invalidCredentials()
		return
	}

	token, err := h.tokens.Issue(u.Username, u.Role, u.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue token", "user_id", u.ID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}
