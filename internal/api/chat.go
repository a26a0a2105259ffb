package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/engine"
	"github.com/lalith-99/echoclient/internal/models"
	"go.uber.org/zap"
)

// ChatEngine is the message engine as the bridge uses it.
type ChatEngine interface {
	Activate(ctx context.Context, channelID uuid.UUID) uint64
	Deactivate()
	Snapshot() engine.Snapshot
	Subscribe() (<-chan struct{}, func())
	SendText(ctx context.Context, channelID uuid.UUID, content string) error
	SendFile(ctx context.Context, channelID uuid.UUID, file *models.FileUpload) error
	ResolveFileAccess(ctx context.Context, messageID int64) (string, error)
}

// ChatHandler exposes the active channel. The bridge owns no chat state of
// its own: every response is built from an engine snapshot.
type ChatHandler struct {
	engine ChatEngine
	logger *zap.Logger
}

func NewChatHandler(eng ChatEngine, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{engine: eng, logger: logger}
}

type sendTextRequest struct {
	Content string `json:"content"`
}

func channelParam(c *gin.Context) (uuid.UUID, bool) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return uuid.Nil, false
	}
	return channelID, true
}

// Activate handles POST /v1/chat/:id/activate
//
// Answers 202: history and the stream arrive later, watch /v1/chat/events.
func (h *ChatHandler) Activate(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	activation := h.engine.Activate(c.Request.Context(), channelID)
	c.JSON(http.StatusAccepted, gin.H{"activation": activation, "channel_id": channelID})
}

// Deactivate handles DELETE /v1/chat
func (h *ChatHandler) Deactivate(c *gin.Context) {
	h.engine.Deactivate()
	c.Status(http.StatusNoContent)
}

// State handles GET /v1/chat/state
func (h *ChatHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

// Events handles GET /v1/chat/events
//
// Server-sent events, one "snapshot" event per change. The first event is
// the current state so a fresh subscriber never waits for a change.
func (h *ChatHandler) Events(c *gin.Context) {
	changes, cancel := h.engine.Subscribe()
	defer cancel()

	c.SSEvent("snapshot", h.engine.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", h.engine.Snapshot())
			return true
		}
	})
}

// SendText handles POST /v1/chat/:id/messages
//
// 202 means the backend accepted the message. It shows up in the snapshot
// once the stream echoes it back.
func (h *ChatHandler) SendText(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.SendText(c.Request.Context(), channelID, req.Content); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// SendFile handles POST /v1/chat/:id/files (multipart, field "file")
func (h *ChatHandler) SendFile(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, engine.ErrNoFile)
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	// MimeType is left empty so the engine sniffs the content instead of
	// trusting the browser's guess.
	upload := &models.FileUpload{Name: fh.Filename, Size: fh.Size, Data: data}
	if err := h.engine.SendFile(c.Request.Context(), channelID, upload); err != nil {
		h.logger.Info("upload rejected", zap.String("name", fh.Filename), zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Attachment handles GET /v1/chat/attachments/:message_id
func (h *ChatHandler) Attachment(c *gin.Context) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	url, err := h.engine.ResolveFileAccess(c.Request.Context(), messageID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
