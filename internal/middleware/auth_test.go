package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/session"
	"github.com/stretchr/testify/require"
)

type staticSession session.Snapshot

func (s staticSession) Snapshot() session.Snapshot { return session.Snapshot(s) }

func TestRequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	alice := &models.Identity{ID: uuid.New(), Username: "alice"}

	tests := []struct {
		name       string
		snap       session.Snapshot
		wantStatus int
	}{
		{name: "uninitialized", snap: session.Snapshot{State: session.StateUninitialized}, wantStatus: http.StatusServiceUnavailable},
		{name: "resolving", snap: session.Snapshot{State: session.StateResolving, HasCredential: true}, wantStatus: http.StatusServiceUnavailable},
		{name: "unauthenticated", snap: session.Snapshot{State: session.StateUnauthenticated, Err: session.ErrSessionExpired}, wantStatus: http.StatusUnauthorized},
		{
			name:       "authenticated",
			snap:       session.Snapshot{State: session.StateAuthenticated, HasCredential: true, Identity: alice},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r := gin.New()
			r.GET("/p", RequireSession(staticSession(tt.snap)), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"username": GetIdentity(c).Username})
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))

			req.Equal(tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				req.JSONEq(`{"username":"alice"}`, w.Body.String())
			}
			if tt.wantStatus == http.StatusServiceUnavailable {
				req.Equal("1", w.Header().Get("Retry-After"))
			}
		})
	}
}
