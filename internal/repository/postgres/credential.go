package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echoclient/internal/repository"
)

const schema = `
	CREATE TABLE IF NOT EXISTS client_credentials (
		profile    TEXT        NOT NULL,
		key        TEXT        NOT NULL,
		value      TEXT        NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (profile, key)
	)`

// CredentialStore keeps the credential as one row of client_credentials.
// profile lets several clients share a database.
type CredentialStore struct {
	pool    *pgxpool.Pool
	profile string
}

var _ repository.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(pool *pgxpool.Pool, profile string) *CredentialStore {
	return &CredentialStore{pool: pool, profile: profile}
}

// Migrate creates the table if it does not exist yet.
func (s *CredentialStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create client_credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Load(ctx context.Context) (string, error) {
	query := `
		SELECT value
		FROM client_credentials
		WHERE profile = $1 AND key = $2`

	var token string
	err := s.pool.QueryRow(ctx, query, s.profile, repository.CredentialKey).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNoCredential
		}
		return "", fmt.Errorf("select credential: %w", err)
	}
	return token, nil
}

// Save upserts so login over an existing row just replaces it.
func (s *CredentialStore) Save(ctx context.Context, token string) error {
	query := `
		INSERT INTO client_credentials (profile, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, s.profile, repository.CredentialKey, token); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	query := `DELETE FROM client_credentials WHERE profile = $1 AND key = $2`

	if _, err := s.pool.Exec(ctx, query, s.profile, repository.CredentialKey); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Close is a no-op: the pool belongs to db.DB.
func (s *CredentialStore) Close() error { return nil }
