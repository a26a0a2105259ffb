package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/session"
	"go.uber.org/zap"
)

// SessionService is the session store as the bridge uses it.
type SessionService interface {
	Snapshot() session.Snapshot
	Login(ctx context.Context, username, password string) error
	Signup(ctx context.Context, username, email, password string) error
	Logout(ctx context.Context)
	ClearError()
}

// AuthHandler exposes login, signup and logout. These routes are public:
// they are how a session comes into existence.
type AuthHandler struct {
	sessions SessionService
	logger   *zap.Logger
}

func NewAuthHandler(sessions SessionService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// sessionResponse is the JSON view of session.Snapshot.
//
// Why a separate struct?
//   - Snapshot.Err is an error value, which encoding/json renders as {}.
//     The UI needs the message text.
//   - Resolved and Authenticated are methods; the UI needs them as fields to
//     decide between waiting, the login view and the chat view.
type sessionResponse struct {
	State         session.State    `json:"state"`
	Resolved      bool             `json:"resolved"`
	Authenticated bool             `json:"authenticated"`
	Identity      *models.Identity `json:"identity,omitempty"`
	Error         string           `json:"error,omitempty"`
}

func toSessionResponse(s session.Snapshot) sessionResponse {
	resp := sessionResponse{
		State:         s.State,
		Resolved:      s.Resolved(),
		Authenticated: s.Authenticated(),
		Identity:      s.Identity,
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

// Session handles GET /v1/session
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionResponse(h.sessions.Snapshot()))
}

// Login handles POST /v1/auth/login
//
// A rejected login answers 401 with the backend's detail text and leaves
// any existing session as it was.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.Login(c.Request.Context(), req.Username, req.Password); err != nil {
		h.logger.Info("login failed", zap.String("username", req.Username), zap.Error(err))
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(h.sessions.Snapshot()))
}

// Signup handles POST /v1/auth/signup
//
// Signup does not log in; the UI follows up with /v1/auth/login.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.Signup(c.Request.Context(), req.Username, req.Email, req.Password); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

// Logout handles POST /v1/auth/logout. Always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.Logout(c.Request.Context())
	c.JSON(http.StatusOK, toSessionResponse(h.sessions.Snapshot()))
}

// DismissError handles DELETE /v1/session/error
func (h *AuthHandler) DismissError(c *gin.Context) {
	h.sessions.ClearError()
	c.Status(http.StatusNoContent)
}
