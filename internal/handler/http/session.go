package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront-sync/internal/session"
	"github.com/utafrali/storefront-sync/pkg/httputil"
	"github.com/utafrali/storefront-sync/pkg/validator"
)

// SessionManager applies identity changes.
type SessionManager interface {
	Login(ctx context.Context, token string) (session.Result, error)
	Logout(ctx context.Context) (session.Result, error)
	Current() session.Result
}

// SessionHandler handles login and logout.
type SessionHandler struct {
	manager SessionManager
	logger  *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(m SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{manager: m, logger: logger}
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// Login handles POST /api/v1/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	res, err := h.manager.Login(r.Context(), req.Token)
	httputil.WriteSoft(w, r, res, err, h.logger)
}

// Logout handles POST /api/v1/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.Logout(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// UserID returns the current identity for request logging.
func (h *SessionHandler) UserID() string {
	return h.manager.Current().UserID
}
