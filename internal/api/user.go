package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoclient/internal/middleware"
)

// UserHandler serves the logged-in user's own profile.
type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// GetMe handles GET /v1/me
//
// Why no network call?
//   - RequireSession only lets authenticated sessions through, and an
//     authenticated session always carries the identity resolved at login.
//     Asking the backend again would only duplicate that.
func (h *UserHandler) GetMe(c *gin.Context) {
	id := middleware.GetIdentity(c)
	if id == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	c.JSON(http.StatusOK, id)
}
