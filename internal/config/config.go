package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIURL    string `envconfig:"ECHO_API_URL" default:"http://localhost:8000" validate:"required,url"`
	StreamURL string `envconfig:"ECHO_STREAM_URL" validate:"omitempty,url"`

	// CredentialStore selects where the credential is persisted:
	// file:///path/to/file, redis://host:6379/0 or postgres://...
	CredentialStore string `envconfig:"ECHO_CREDENTIAL_STORE"`
	CredentialKey   string `envconfig:"ECHO_CREDENTIAL_KEY"`

	HTTPTimeout time.Duration `envconfig:"ECHO_HTTP_TIMEOUT" default:"30s" validate:"gt=0"`
	BridgePort  string        `envconfig:"ECHO_BRIDGE_PORT" default:"8081" validate:"required,numeric"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"ENV" default:"development" validate:"oneof=development production test"`
}

var validate = validator.New()

// LoadConfig reads an optional .env file, then the environment.
// Variables already set in the environment win over .env entries.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")

	if c.StreamURL == "" {
		derived, err := DeriveStreamURL(c.APIURL)
		if err != nil {
			return err
		}
		c.StreamURL = derived
	}
	c.StreamURL = strings.TrimSuffix(c.StreamURL, "/")

	if c.CredentialStore == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		c.CredentialStore = "file://" + filepath.Join(dir, "echoclient", "credentials.json")
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// DeriveStreamURL turns the REST base url into the WebSocket base url:
// http becomes ws, https becomes wss, host and path are kept.
func DeriveStreamURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
