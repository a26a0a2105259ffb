package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		apiURL  string
		want    string
		wantErr bool
	}{
		{"plain http", "http://localhost:8000", "ws://localhost:8000", false},
		{"tls", "https://chat.example.com", "wss://chat.example.com", false},
		{"keeps path", "https://example.com/api/", "wss://example.com/api", false},
		{"unknown scheme", "ftp://example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := DeriveStreamURL(tt.apiURL)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("ECHO_API_URL", "https://chat.example.com/")
	t.Setenv("ECHO_CREDENTIAL_STORE", "")
	t.Setenv("ECHO_STREAM_URL", "")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal("https://chat.example.com", cfg.APIURL)
	req.Equal("wss://chat.example.com", cfg.StreamURL)
	req.True(strings.HasPrefix(cfg.CredentialStore, "file://"))
	req.Equal("8081", cfg.BridgePort)
}

func TestLoadConfig_RejectsBadEnv(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "staging")

	_, err := LoadConfig()
	req.Error(err)
}
