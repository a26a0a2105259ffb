package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoclient/internal/middleware"
	"go.uber.org/zap"
)

// Deps is everything the bridge routes need.
type Deps struct {
	Sessions  SessionService
	Directory DirectoryService
	Engine    ChatEngine
	Logger    *zap.Logger
}

// NewRouter builds the local bridge a browser UI talks to.
func NewRouter(d Deps) *gin.Engine {
	srv := gin.New()
	srv.Use(middleware.RequestLogger(d.Logger), gin.Recovery())

	authHandler := NewAuthHandler(d.Sessions, d.Logger)
	userHandler := NewUserHandler()
	channelHandler := NewChannelHandler(d.Directory, d.Logger)
	chatHandler := NewChatHandler(d.Engine, d.Logger)

	// Public: the UI needs these before (and in order to get) a session.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	srv.GET("/v1/session", authHandler.Session)
	srv.DELETE("/v1/session/error", authHandler.DismissError)
	srv.POST("/v1/auth/login", authHandler.Login)
	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/logout", authHandler.Logout)

	v1 := srv.Group("/v1")
	v1.Use(middleware.RequireSession(d.Sessions))

	v1.GET("/me", userHandler.GetMe)

	v1.GET("/channels", channelHandler.List)
	v1.POST("/channels/:id/join", channelHandler.Join)
	v1.POST("/channels/:id/leave", channelHandler.Leave)

	v1.POST("/chat/:id/activate", chatHandler.Activate)
	v1.DELETE("/chat", chatHandler.Deactivate)
	v1.GET("/chat/state", chatHandler.State)
	v1.GET("/chat/events", chatHandler.Events)
	v1.POST("/chat/:id/messages", chatHandler.SendText)
	v1.POST("/chat/:id/files", chatHandler.SendFile)
	v1.GET("/chat/attachments/:message_id", chatHandler.Attachment)

	return srv
}
