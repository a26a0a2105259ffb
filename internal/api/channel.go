package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/directory"
	"go.uber.org/zap"
)

// DirectoryService is the channel directory as the bridge uses it.
type DirectoryService interface {
	Refresh(ctx context.Context) (directory.Listing, error)
	Join(ctx context.Context, channelID uuid.UUID) (directory.Listing, error)
	Leave(ctx context.Context, channelID uuid.UUID) (directory.Listing, error)
}

type ChannelHandler struct {
	dir    DirectoryService
	logger *zap.Logger
}

func NewChannelHandler(dir DirectoryService, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{dir: dir, logger: logger}
}

// List handles GET /v1/channels
//
// Every call is a fresh refresh. There is no cached answer to go stale.
func (h *ChannelHandler) List(c *gin.Context) {
	listing, err := h.dir.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Warn("failed to list channels", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Join handles POST /v1/channels/:id/join
func (h *ChannelHandler) Join(c *gin.Context) {
	h.mutate(c, "join", h.dir.Join)
}

// Leave handles POST /v1/channels/:id/leave
//
// A refused leave (e.g. sole owner) answers with the error and the listing
// the follow-up refresh produced, so the UI can show both.
func (h *ChannelHandler) Leave(c *gin.Context) {
	h.mutate(c, "leave", h.dir.Leave)
}

func (h *ChannelHandler) mutate(
	c *gin.Context,
	op string,
	call func(context.Context, uuid.UUID) (directory.Listing, error),
) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	listing, err := call(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Warn("membership change failed", zap.String("op", op), zap.Error(err))
		body := gin.H{"error": err.Error(), "listing": listing}
		if d := apperr.Detail(err); d != "" {
			body["detail"] = d
		}
		c.AbortWithStatusJSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, listing)
}
