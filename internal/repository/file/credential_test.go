package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lalith-99/echoclient/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
	}{
		{name: "plain"},
		{name: "sealed", passphrase: "correct horse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "credential.json")
			s := NewCredentialStore(path, tt.passphrase)

			_, err := s.Load(ctx)
			req.ErrorIs(err, repository.ErrNoCredential)

			req.NoError(s.Save(ctx, "token-1"))
			req.NoError(s.Save(ctx, "token-2"))

			got, err := s.Load(ctx)
			req.NoError(err)
			req.Equal("token-2", got)

			info, err := os.Stat(path)
			req.NoError(err)
			req.Equal(os.FileMode(0o600), info.Mode().Perm())

			req.NoError(s.Clear(ctx))
			req.NoError(s.Clear(ctx))
			_, err = s.Load(ctx)
			req.ErrorIs(err, repository.ErrNoCredential)
		})
	}
}

func TestCredentialStore_Layout(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credential.json")

	req.NoError(NewCredentialStore(path, "").Save(ctx, "abc"))
	raw, err := os.ReadFile(path)
	req.NoError(err)
	req.JSONEq(`{"authToken":"abc"}`, string(raw))

	req.NoError(NewCredentialStore(path, "pw").Save(ctx, "abc"))
	raw, err = os.ReadFile(path)
	req.NoError(err)
	var doc map[string]any
	req.NoError(json.Unmarshal(raw, &doc))
	req.Equal(true, doc["sealed"])
	req.NotEqual("abc", doc["authToken"])
}

func TestCredentialStore_WrongPassphrase(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credential.json")

	req.NoError(NewCredentialStore(path, "right").Save(ctx, "secret-token"))

	_, err := NewCredentialStore(path, "wrong").Load(ctx)
	req.ErrorIs(err, ErrWrongPassphrase)

	_, err = NewCredentialStore(path, "").Load(ctx)
	req.ErrorIs(err, ErrWrongPassphrase)
}
