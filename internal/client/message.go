package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
	"go.uber.org/zap"
)

type sendTextRequest struct {
	Content string `json:"content"`
}

type accessURLResponse struct {
	URL string `json:"url"`
}

// ChannelHistory handles GET /messages/channel/:id
//
// Records that fail validation are logged and skipped; one bad row must
// not hide the rest of the channel.
func (c *Client) ChannelHistory(ctx context.Context, token string, channelID uuid.UUID) ([]models.Message, error) {
	r := request{method: http.MethodGet, path: "/messages/channel/" + channelID.String(), token: token}

	var records []models.MessageRecord
	if err := do(ctx, c, r, &records); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(records))
	for _, rec := range records {
		msg, err := rec.ToMessage()
		if err != nil {
			c.logger.Warn("skipping history record", zap.Stringer("channel_id", channelID), zap.Error(err))
			continue
		}
		if msg.ChannelID == uuid.Nil {
			msg.ChannelID = channelID
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// SendText handles POST /messages/channels/:id/messages
func (c *Client) SendText(ctx context.Context, token string, channelID uuid.UUID, content string) error {
	r, err := jsonRequest(http.MethodPost, "/messages/channels/"+channelID.String()+"/messages", token, sendTextRequest{Content: content})
	if err != nil {
		return err
	}
	return do[struct{}](ctx, c, r, nil)
}

// SendFile handles POST /messages/channels/:id/files
//
// The backend expects a single multipart part named "file".
func (c *Client) SendFile(ctx context.Context, token string, channelID uuid.UUID, file models.FileUpload) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	r := request{
		method:      http.MethodPost,
		path:        "/messages/channels/" + channelID.String() + "/files",
		token:       token,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	return do[struct{}](ctx, c, r, nil)
}

// FileAccessURL handles GET /messages/:id/access-url
func (c *Client) FileAccessURL(ctx context.Context, token string, messageID int64) (string, error) {
	r := request{
		method: http.MethodGet,
		path:   "/messages/" + strconv.FormatInt(messageID, 10) + "/access-url",
		token:  token,
	}
	var resp accessURLResponse
	if err := do(ctx, c, r, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("access url: %w: empty url", apperr.ErrMalformed)
	}
	return resp.URL, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
