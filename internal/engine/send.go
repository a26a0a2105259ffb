package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
	"go.uber.org/zap"
)

// Local rejections. None of them reach the network or change state.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNotActive      = errors.New("channel is not active")
	ErrNotConnected   = errors.New("not connected to the channel")
	ErrUploadInFlight = errors.New("an upload is still in progress")
	ErrNoFile         = errors.New("no file selected")

	ErrUnknownMessage        = errors.New("unknown message")
	ErrNotAFile              = errors.New("message has no attachment")
	ErrAttachmentPending     = errors.New("attachment link is being fetched")
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
)

// sendableLocked returns the activation for channelID if a send may start
// right now. Caller holds mu.
func (e *Engine) sendableLocked(channelID uuid.UUID) (*activation, error) {
	a := e.active
	switch {
	case a == nil || a.channelID != channelID:
		return nil, ErrNotActive
	case a.conn != ConnOpen:
		return nil, ErrNotConnected
	case a.pendingUploads > 0:
		return nil, ErrUploadInFlight
	}
	return a, nil
}

// SendText posts content to channelID. Nothing is added to the message list:
// the message shows up when the stream echoes it. On error the caller keeps
// its compose buffer.
func (e *Engine) SendText(ctx context.Context, channelID uuid.UUID, content string) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	a, err := e.sendableLocked(channelID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	hadFailure := a.cond.SendFailed != ""
	a.cond.SendFailed = ""
	e.mu.Unlock()
	if hadFailure {
		e.changes.Notify()
	}

	if err := e.api.SendText(ctx, a.token, channelID, text); err != nil {
		e.sendFailed(a, err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendFile uploads file to channelID. While it runs, PendingUploads is
// non-zero and every other send is rejected.
func (e *Engine) SendFile(ctx context.Context, channelID uuid.UUID, file *models.FileUpload) error {
	if file == nil || (file.Name == "" && len(file.Data) == 0) {
		return ErrNoFile
	}

	e.mu.Lock()
	a, err := e.sendableLocked(channelID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	a.pendingUploads++
	a.cond.SendFailed = ""
	a.cond.UploadTooLarge = false
	e.mu.Unlock()
	e.changes.Notify()

	defer func() {
		e.mu.Lock()
		a.pendingUploads--
		e.mu.Unlock()
		e.changes.Notify()
	}()

	upload := *file
	if upload.MimeType == "" {
		upload.MimeType = mimetype.Detect(upload.Data).String()
	}
	if upload.Size == 0 {
		upload.Size = int64(len(upload.Data))
	}

	e.logger.Info("uploading file",
		zap.Uint64("activation", a.id),
		zap.String("name", upload.Name),
		zap.String("mime_type", upload.MimeType),
		zap.Int64("size", upload.Size),
	)

	if err := e.api.SendFile(ctx, a.token, channelID, upload); err != nil {
		e.sendFailed(a, err)
		return fmt.Errorf("upload file: %w", err)
	}
	return nil
}

func (e *Engine) sendFailed(a *activation, err error) {
	e.mu.Lock()
	if e.current(a) {
		if errors.Is(err, apperr.ErrPayloadTooLarge) {
			a.cond.UploadTooLarge = true
		} else {
			a.cond.SendFailed = detailOf(err)
		}
	}
	e.mu.Unlock()

	e.logger.Warn("send failed", zap.Uint64("activation", a.id), zap.Error(err))
	if apperr.IsUnauthorized(err) {
		e.session.Invalidate(a.token, err)
	}
	e.changes.Notify()
}

// ResolveFileAccess returns a display URL for a file message of the active
// channel. The URL is cached until the channel is deactivated. A failed
// lookup marks the attachment unavailable and is not retried.
func (e *Engine) ResolveFileAccess(ctx context.Context, messageID int64) (string, error) {
	e.mu.Lock()
	a := e.active
	if a == nil {
		e.mu.Unlock()
		return "", ErrNotActive
	}
	m, ok := a.messages.Get(messageID)
	if !ok {
		e.mu.Unlock()
		return "", ErrUnknownMessage
	}
	if m.Kind != models.KindFile {
		e.mu.Unlock()
		return "", ErrNotAFile
	}
	if att, ok := a.attachments[messageID]; ok {
		e.mu.Unlock()
		switch att.State {
		case AttachmentReady:
			return att.URL, nil
		case AttachmentPending:
			return "", ErrAttachmentPending
		default:
			return "", ErrAttachmentUnavailable
		}
	}
	a.attachments[messageID] = Attachment{State: AttachmentPending}
	e.mu.Unlock()
	e.changes.Notify()

	url, err := e.api.FileAccessURL(ctx, a.token, messageID)

	e.mu.Lock()
	if !e.current(a) {
		e.mu.Unlock()
		return "", ErrNotActive
	}
	if err != nil {
		a.attachments[messageID] = Attachment{State: AttachmentUnavailable}
		e.mu.Unlock()

		e.logger.Warn("attachment unavailable", zap.Int64("message_id", messageID), zap.Error(err))
		if apperr.IsUnauthorized(err) {
			e.session.Invalidate(a.token, err)
		}
		e.changes.Notify()
		return "", fmt.Errorf("%w: %w", ErrAttachmentUnavailable, err)
	}
	a.attachments[messageID] = Attachment{State: AttachmentReady, URL: url}
	e.mu.Unlock()
	e.changes.Notify()
	return url, nil
}

// ReadUpload loads a file from disk for SendFile.
func ReadUpload(path string) (*models.FileUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &models.FileUpload{
		Name:     filepath.Base(path),
		MimeType: mimetype.Detect(data).String(),
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}
