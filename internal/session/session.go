// Package session owns the credential and the identity it resolves to.
//
// It is the only writer of the credential. Everything else borrows it via
// Credential() for one call and reports authorization failures back through
// Invalidate; nothing else clears it.
//
// State machine:
//
//	uninitialized -> resolving -> authenticated | unauthenticated
//	unauthenticated -> resolving              (login)
//	authenticated   -> unauthenticated        (logout, invalidation)
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/auth"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/notify"
	"github.com/lalith-99/echoclient/internal/observ"
	"github.com/lalith-99/echoclient/internal/repository"
	"go.uber.org/zap"
)

type State string

const (
	StateUninitialized   State = "uninitialized"
	StateResolving       State = "resolving"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

var (
	// ErrSessionExpired is the user-facing condition recorded whenever the
	// credential is thrown away because the server (or its exp claim)
	// rejected it.
	ErrSessionExpired = errors.New("your session may have expired, please log in again")

	ErrAlreadyAuthenticated = errors.New("already logged in, log out first")

	// errSuperseded means the credential changed while a call was in
	// flight; the result belongs to a session that no longer exists.
	errSuperseded = errors.New("credential superseded")
)

// Snapshot is a copy of the session for consumers.
type Snapshot struct {
	State         State
	Identity      *models.Identity
	HasCredential bool
	// Err is the last user-facing condition (e.g. ErrSessionExpired).
	Err error
}

// Authenticated holds iff a credential and the identity fetched with it are
// both present.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.HasCredential && s.Identity != nil
}

// Resolved reports whether consumers may render: protected and public-only
// views both wait until this is true.
func (s Snapshot) Resolved() bool {
	return s.State == StateAuthenticated || s.State == StateUnauthenticated
}

type Store struct {
	api    repository.AuthAPI
	creds  repository.CredentialStore
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	credential string
	identity   *models.Identity
	err        error

	changes *notify.Broadcaster
}

func New(api repository.AuthAPI, creds repository.CredentialStore, logger *zap.Logger) *Store {
	return &Store{
		api:     api,
		creds:   creds,
		logger:  observ.Component(logger, "session"),
		now:     time.Now,
		state:   StateUninitialized,
		changes: notify.NewBroadcaster(),
	}
}

// Subscribe wakes the caller on every state change; read Snapshot after.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         s.state,
		HasCredential: s.credential != "",
		Err:           s.err,
	}
	if s.identity != nil {
		id := *s.identity
		snap.Identity = &id
	}
	return snap
}

// Credential returns the credential only while authenticated. A credential
// that is still being resolved is not lent out.
func (s *Store) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.credential == "" || s.identity == nil {
		return "", false
	}
	return s.credential, true
}

// Initialize reads the persisted credential and resolves it. Calling it
// again after the first time is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateResolving
	s.mu.Unlock()
	s.changes.Notify()

	token, err := s.creds.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateUnauthenticated
		s.mu.Unlock()
		s.changes.Notify()

		if errors.Is(err, repository.ErrNoCredential) {
			s.logger.Debug("no stored credential")
			return nil
		}
		return fmt.Errorf("load credential: %w", err)
	}

	s.mu.Lock()
	s.credential = token
	s.mu.Unlock()

	return s.ResolveIdentity(ctx, token)
}

// ResolveIdentity fetches the identity for token. On any failure the whole
// session is dropped and ErrSessionExpired recorded. If the credential is
// replaced while the call is in flight, the result is discarded.
func (s *Store) ResolveIdentity(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.credential != token || token == "" {
		s.mu.Unlock()
		return errSuperseded
	}
	s.state = StateResolving
	s.identity = nil
	s.mu.Unlock()
	s.changes.Notify()

	if claims, err := auth.Inspect(token); err == nil && claims.Expired(s.now()) {
		s.logger.Info("stored credential already expired", zap.Time("expires_at", claims.ExpiresAt))
		s.drop(ctx, token)
		return ErrSessionExpired
	}

	id, err := s.api.Identity(ctx, token)
	if err != nil {
		s.logger.Warn("identity resolution failed", zap.Error(err))
		s.drop(ctx, token)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	s.mu.Lock()
	if s.credential != token {
		s.mu.Unlock()
		return errSuperseded
	}
	s.identity = id
	s.state = StateAuthenticated
	s.err = nil
	s.mu.Unlock()
	s.changes.Notify()

	s.logger.Info("session authenticated", zap.String("username", id.Username))
	return nil
}

// Login exchanges username/password for a credential, persists it and
// resolves the identity. A rejected login leaves the session untouched.
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	s.mu.Unlock()

	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := s.creds.Save(ctx, token); err != nil {
		// The in-memory session still works; it just won't survive a restart.
		s.logger.Warn("failed to persist credential", zap.Error(err))
	}

	s.mu.Lock()
	s.credential = token
	s.identity = nil
	s.err = nil
	s.state = StateResolving
	s.mu.Unlock()
	s.changes.Notify()

	return s.ResolveIdentity(ctx, token)
}

var validate = validator.New()

type signupInput struct {
	Username string `validate:"required,max=64"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8,max=72"`
}

// Signup creates an account. It never logs in and never touches the session.
func (s *Store) Signup(ctx context.Context, username, email, password string) error {
	in := signupInput{Username: username, Email: email, Password: password}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	if err := s.api.Signup(ctx, username, email, password); err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	return nil
}

// Logout clears credential, identity and any error. Idempotent.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.credential = ""
	s.identity = nil
	s.err = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear stored credential", zap.Error(err))
	}
	s.changes.Notify()
}

// Invalidate is called by any component that got an authorization failure
// using token. It drops the session only if token is still the current
// credential, so a late 401 from a previous session cannot log out a newer
// one.
func (s *Store) Invalidate(token string, cause error) {
	if !apperr.IsUnauthorized(cause) {
		s.logger.Debug("ignoring non-authorization invalidation", zap.Error(cause))
		return
	}
	s.logger.Info("session invalidated", zap.Error(cause))
	s.drop(context.Background(), token)
}

// ClearError dismisses the recorded user-facing condition.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.changes.Notify()
}

func (s *Store) drop(ctx context.Context, token string) {
	s.mu.Lock()
	if s.credential != token || token == "" {
		s.mu.Unlock()
		return
	}
	s.credential = ""
	s.identity = nil
	s.state = StateUnauthenticated
	s.err = ErrSessionExpired
	s.mu.Unlock()

	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear stored credential", zap.Error(err))
	}
	s.changes.Notify()
}
