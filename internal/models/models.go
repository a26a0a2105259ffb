package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the user a credential resolves to (GET /users/me).
//
// The backend only needs to return id and username; email is carried when
// present so `whoami` can show it.
type Identity struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
}

// Channel is a chat room as the directory sees it.
//
// Member is derived, never read off the wire: the directory computes it from
// the membership listing on every refresh.
type Channel struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Member bool      `json:"member"`
}

// MessageKind tags what a message carries. It is decided once when the
// record is ingested; renderers switch on it instead of probing fields.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// FileRef points at an uploaded object. StorageKey is opaque to the client;
// a display URL is fetched separately and never stored here.
type FileRef struct {
	StorageKey   string `json:"storage_key"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
}

// Message is one confirmed chat message.
//
// Why int64 for ID?
//   - The server assigns ids from a sequence. The id is the only
//     de-duplication key when history and stream overlap, and the
//     tie-breaker when two messages share a CreatedAt.
//
// There is no "pending" message: anything without a server timestamp is
// never materialized client-side.
type Message struct {
	ID            int64       `json:"id"`
	ChannelID     uuid.UUID   `json:"channel_id"`
	AuthorID      uuid.UUID   `json:"author_id"`
	AuthorDisplay string      `json:"author_display"`
	CreatedAt     time.Time   `json:"created_at"`
	Kind          MessageKind `json:"kind"`
	Content       string      `json:"content,omitempty"`
	File          *FileRef    `json:"file,omitempty"`
}

// Before reports whether m sorts ahead of o in display order:
// createdAt ascending, ties broken by id ascending.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// FileUpload is what the send pipeline hands to the transport.
// Size is informational; the server enforces the real limit.
type FileUpload struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}
