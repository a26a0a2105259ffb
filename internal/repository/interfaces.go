package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/models"
)

// Why is the credential a parameter on every call instead of something the
// HTTP client reads from a global?
//
//   - There is exactly one writer of the credential: the session store.
//     Everything else borrows the current value for the duration of one
//     call. Passing it explicitly makes that visible in every signature.
//   - A call made with a credential that has since been replaced can be
//     recognized (and its result dropped) by comparing the two strings.

// CredentialKey is the single key the credential is persisted under.
const CredentialKey = "authToken"

// ErrNoCredential is returned by CredentialStore.Load when nothing is stored.
var ErrNoCredential = errors.New("no credential stored")

// CredentialStore persists the one opaque credential between runs.
type CredentialStore interface {
	// Load returns the stored credential or ErrNoCredential.
	Load(ctx context.Context) (string, error)

	// Save replaces the stored credential.
	Save(ctx context.Context, token string) error

	// Clear removes the stored credential. No-op if nothing is stored.
	Clear(ctx context.Context) error

	Close() error
}

// AuthAPI is the account side of the backend.
type AuthAPI interface {
	// Login exchanges username/password for a new credential.
	Login(ctx context.Context, username, password string) (string, error)

	// Signup creates an account. It does not log in.
	Signup(ctx context.Context, username, email, password string) error

	// Identity resolves who the credential belongs to.
	Identity(ctx context.Context, token string) (*models.Identity, error)
}

// DirectoryAPI lists channels and mutates membership.
type DirectoryAPI interface {
	ListAllChannels(ctx context.Context, token string) ([]models.Channel, error)
	ListMyMemberships(ctx context.Context, token string) ([]models.Channel, error)
	JoinChannel(ctx context.Context, token string, channelID uuid.UUID) error
	LeaveChannel(ctx context.Context, token string, channelID uuid.UUID) error
}

// MessageAPI is the REST half of a chat view.
type MessageAPI interface {
	// ChannelHistory returns the channel's messages. Order is not trusted;
	// the engine sorts.
	ChannelHistory(ctx context.Context, token string, channelID uuid.UUID) ([]models.Message, error)

	// SendText and SendFile only acknowledge. The message itself arrives on
	// the stream.
	SendText(ctx context.Context, token string, channelID uuid.UUID, content string) error
	SendFile(ctx context.Context, token string, channelID uuid.UUID, file models.FileUpload) error

	// FileAccessURL returns a short-lived URL for a file message.
	FileAccessURL(ctx context.Context, token string, messageID int64) (string, error)
}

// Stream is a live handle returned by StreamOpener.Open.
type Stream interface {
	// Events is closed after the final StreamClosed event.
	Events() <-chan models.StreamEvent

	// Close sends a close frame with code and tears the connection down.
	// Safe to call more than once.
	Close(code int) error
}

// StreamOpener opens the per-channel push connection. Open returns at once;
// the handshake outcome arrives as the first event.
type StreamOpener interface {
	Open(ctx context.Context, channelID uuid.UUID, token string) Stream
}
