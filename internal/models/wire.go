package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageRecord is the JSON shape the backend uses for a message, both in
// the history listing and on the stream.
//
// Why a separate struct and not decode straight into Message?
//   - The wire record has optional, loosely typed fields (content may be
//     null on file messages, file fields are flat). Message is the cleaned
//     tagged variant. Keeping the two apart means validation lives in one
//     place: ToMessage.
type MessageRecord struct {
	ID             *int64     `json:"id"`
	ChannelID      uuid.UUID  `json:"channel_id"`
	AuthorID       uuid.UUID  `json:"author_id"`
	AuthorUsername string     `json:"author_username"`
	CreatedAt      *time.Time `json:"created_at"`
	Content        *string    `json:"content"`
	FileKey        *string    `json:"file_key"`
	FileName       *string    `json:"file_name"`
	FileType       *string    `json:"file_type"`
}

// ErrInvalidRecord is returned by ToMessage for records that cannot become
// a Message (missing id or timestamp, or neither text nor file).
var ErrInvalidRecord = fmt.Errorf("invalid message record")

// ToMessage validates the record and returns the tagged message.
func (r MessageRecord) ToMessage() (Message, error) {
	if r.ID == nil {
		return Message{}, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if r.CreatedAt == nil || r.CreatedAt.IsZero() {
		return Message{}, fmt.Errorf("%w: message %d has no created_at", ErrInvalidRecord, *r.ID)
	}

	msg := Message{
		ID:            *r.ID,
		ChannelID:     r.ChannelID,
		AuthorID:      r.AuthorID,
		AuthorDisplay: r.AuthorUsername,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if msg.AuthorDisplay == "" {
		msg.AuthorDisplay = r.AuthorID.String()
	}

	switch {
	case r.FileKey != nil && *r.FileKey != "":
		msg.Kind = KindFile
		msg.File = &FileRef{StorageKey: *r.FileKey}
		if r.FileName != nil {
			msg.File.OriginalName = *r.FileName
		}
		if r.FileType != nil {
			msg.File.MimeType = *r.FileType
		}
		if r.Content != nil {
			msg.Content = *r.Content
		}
	case r.Content != nil:
		msg.Kind = KindText
		msg.Content = *r.Content
	default:
		return Message{}, fmt.Errorf("%w: message %d has neither content nor file", ErrInvalidRecord, *r.ID)
	}
	return msg, nil
}

// ParseMessage decodes a single raw record, as delivered by one stream frame.
func ParseMessage(raw []byte) (Message, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}
	var rec MessageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec.ToMessage()
}
