package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/session"
)

// ContextKeyIdentity holds the *models.Identity of the current session.
const ContextKeyIdentity = "identity"

// SessionView is the read side of the session store.
type SessionView interface {
	Snapshot() session.Snapshot
}

// RequireSession gates protected bridge routes on the session state.
//
// Why three outcomes instead of a plain 401?
//   - While the stored credential is still being resolved the UI must not
//     decide anything yet: neither show protected views nor redirect to
//     login. 503 with Retry-After tells it to wait.
//   - Once resolved, unauthenticated is a real 401 and the UI shows login.
//   - Only an authenticated session (credential and identity both present)
//     reaches the handler.
func RequireSession(sessions SessionView) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := sessions.Snapshot()

		if !snap.Resolved() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "session is still resolving",
				"state": snap.State,
			})
			return
		}

		if !snap.Authenticated() {
			body := gin.H{"error": "not logged in"}
			if snap.Err != nil {
				body["detail"] = snap.Err.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, body)
			return
		}

		c.Set(ContextKeyIdentity, snap.Identity)
		c.Next()
	}
}

// GetIdentity returns the identity RequireSession stored, or nil.
func GetIdentity(c *gin.Context) *models.Identity {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil
	}
	id, ok := val.(*models.Identity)
	if !ok {
		return nil
	}
	return id
}
