package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/stretchr/testify/require"
)

const goodToken = "good-token"

// newBackend builds a fake backend with the routes the client uses.
func newBackend(t *testing.T, channelID uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	authed := func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+goodToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		c.Next()
	}

	r.POST("/token", func(c *gin.Context) {
		if c.PostForm("username") == "alice" && c.PostForm("password") == "secret" {
			c.JSON(http.StatusOK, gin.H{"access_token": goodToken, "token_type": "bearer"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
	})
	r.POST("/users/", func(c *gin.Context) {
		var body signupRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
		if body.Username == "taken" {
			c.JSON(http.StatusConflict, gin.H{"detail": "Username already registered"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": uuid.New(), "username": body.Username})
	})
	r.GET("/users/me", authed, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": uuid.New(), "username": "alice"})
	})
	r.GET("/channels/", authed, func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"id": channelID, "name": "general"}})
	})
	r.DELETE("/channels/:id/leave", authed, func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner cannot leave"})
	})
	r.GET("/messages/channel/:id", authed, func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{
			{"id": 1, "channel_id": channelID, "author_username": "alice", "created_at": "2026-01-01T10:00:00Z", "content": "hi"},
			{"id": 2, "channel_id": channelID, "created_at": "2026-01-01T10:01:00Z", "file_key": "k/2", "file_name": "a.png", "file_type": "image/png"},
			{"channel_id": channelID, "content": "no id"},
		})
	})
	r.POST("/messages/channels/:id/files", authed, func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "missing file"})
			return
		}
		if fh.Size > 8 {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "File too large"})
			return
		}
		if fh.Header.Get("Content-Type") != "text/plain" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "bad type " + fh.Header.Get("Content-Type")})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": 9})
	})
	r.GET("/messages/:id/access-url", authed, func(c *gin.Context) {
		if c.Param("id") == "403" {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Not a member"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": "https://files.example.com/" + c.Param("id")})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) (*Client, uuid.UUID) {
	channelID := uuid.New()
	srv := newBackend(t, channelID)
	return New(srv.URL, 5*time.Second, nil), channelID
}

func TestLogin(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, err := c.Login(ctx, "alice", "secret")
	req.NoError(err)
	req.Equal(goodToken, token)

	_, err = c.Login(ctx, "alice", "wrong")
	req.ErrorIs(err, apperr.ErrInvalidCredentials)
	req.Equal("Incorrect username or password", apperr.Detail(err))
}

func TestSignup_Conflict(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	req.NoError(c.Signup(context.Background(), "bob", "bob@example.com", "password1"))

	err := c.Signup(context.Background(), "taken", "t@example.com", "password1")
	req.ErrorIs(err, apperr.ErrConflict)
	req.Equal("Username already registered", apperr.Detail(err))
}

func TestIdentity(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	id, err := c.Identity(context.Background(), goodToken)
	req.NoError(err)
	req.Equal("alice", id.Username)

	_, err = c.Identity(context.Background(), "stale")
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestChannels(t *testing.T) {
	req := require.New(t)
	c, channelID := newTestClient(t)

	all, err := c.ListAllChannels(context.Background(), goodToken)
	req.NoError(err)
	req.Len(all, 1)
	req.Equal(channelID, all[0].ID)
	req.False(all[0].Member)

	err = c.LeaveChannel(context.Background(), goodToken, channelID)
	req.ErrorIs(err, apperr.ErrGeneric)
	req.Equal("owner cannot leave", apperr.Detail(err))
}

func TestChannelHistory_SkipsInvalidRecords(t *testing.T) {
	req := require.New(t)
	c, channelID := newTestClient(t)

	msgs, err := c.ChannelHistory(context.Background(), goodToken, channelID)
	req.NoError(err)
	req.Len(msgs, 2)

	req.Equal(models.KindText, msgs[0].Kind)
	req.Equal("hi", msgs[0].Content)
	req.Equal("alice", msgs[0].AuthorDisplay)

	req.Equal(models.KindFile, msgs[1].Kind)
	req.Equal("a.png", msgs[1].File.OriginalName)
	req.Equal("image/png", msgs[1].File.MimeType)
}

func TestSendFile(t *testing.T) {
	req := require.New(t)
	c, channelID := newTestClient(t)
	ctx := context.Background()

	err := c.SendFile(ctx, goodToken, channelID, models.FileUpload{Name: "a.txt", MimeType: "text/plain", Data: []byte("hello")})
	req.NoError(err)

	err = c.SendFile(ctx, goodToken, channelID, models.FileUpload{Name: "big.txt", MimeType: "text/plain", Data: []byte("way too large")})
	req.ErrorIs(err, apperr.ErrPayloadTooLarge)
}

func TestFileAccessURL(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	url, err := c.FileAccessURL(context.Background(), goodToken, 7)
	req.NoError(err)
	req.Equal("https://files.example.com/7", url)

	_, err = c.FileAccessURL(context.Background(), goodToken, 403)
	req.ErrorIs(err, apperr.ErrForbidden)
}

func TestDecodeError_PlainBody(t *testing.T) {
	req := require.New(t)
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(strings.NewReader("upstream down")),
	}
	apiErr := decodeError(resp)
	req.True(errors.Is(apiErr, apperr.ErrGeneric))
	req.Equal("upstream down", apiErr.Detail)
}
