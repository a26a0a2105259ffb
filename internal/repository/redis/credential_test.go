package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Set ECHO_TEST_REDIS_URL (e.g. redis://localhost:6379/15) to run.
func TestCredentialStore(t *testing.T) {
	redisURL := os.Getenv("ECHO_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("ECHO_TEST_REDIS_URL not set")
	}

	req := require.New(t)
	ctx := context.Background()
	s, err := NewCredentialStore(ctx, redisURL, "test-"+uuid.NewString(), zap.NewNop())
	req.NoError(err)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})

	_, err = s.Load(ctx)
	req.ErrorIs(err, repository.ErrNoCredential)

	req.NoError(s.Save(ctx, "tok"))
	got, err := s.Load(ctx)
	req.NoError(err)
	req.Equal("tok", got)

	req.NoError(s.Clear(ctx))
	_, err = s.Load(ctx)
	req.ErrorIs(err, repository.ErrNoCredential)
}

func TestNewCredentialStore_BadURL(t *testing.T) {
	_, err := NewCredentialStore(context.Background(), "not a url", "", zap.NewNop())
	require.Error(t, err)
}
