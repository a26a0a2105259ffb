// Package app wires the client together for the CLI and the bridge.
package app

import (
	"context"
	"fmt"

	"github.com/lalith-99/echoclient/internal/client"
	"github.com/lalith-99/echoclient/internal/config"
	"github.com/lalith-99/echoclient/internal/directory"
	"github.com/lalith-99/echoclient/internal/engine"
	"github.com/lalith-99/echoclient/internal/repository"
	"github.com/lalith-99/echoclient/internal/session"
	"github.com/lalith-99/echoclient/internal/stream"
	"go.uber.org/zap"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Session   *session.Store
	Directory *directory.Service
	Engine    *engine.Engine

	creds     repository.CredentialStore
	stopWatch context.CancelFunc
}

// New builds every component. It does not touch the network beyond opening
// the credential backend; call Session.Initialize to resolve the stored
// credential.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	creds, err := OpenCredentialStore(ctx, cfg.CredentialStore, cfg.CredentialKey, logger.Named("credentials"))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	// One REST client serves all three collaborator contracts.
	api := client.New(cfg.APIURL, cfg.HTTPTimeout, logger)
	dialer := stream.NewDialer(cfg.StreamURL, logger)

	sess := session.New(api, creds, logger)
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Session:   sess,
		Directory: directory.NewService(api, sess, logger),
		Engine:    engine.New(api, dialer, sess, logger),
		creds:     creds,
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	go WatchSession(watchCtx, sess, a.Engine, logger)

	return a, nil
}

func (a *App) Close() {
	a.stopWatch()
	a.Engine.Deactivate()
	if err := a.creds.Close(); err != nil {
		a.Logger.Warn("closing credential store", zap.Error(err))
	}
}

// SessionSource is what WatchSession observes.
type SessionSource interface {
	Subscribe() (<-chan struct{}, func())
	Snapshot() session.Snapshot
}

// Deactivator is what WatchSession tears down.
type Deactivator interface {
	Deactivate()
}

// WatchSession deactivates the engine whenever the session goes from
// authenticated to anything else, so a logout or invalidation never leaves
// a stream running on a dead credential.
func WatchSession(ctx context.Context, sess SessionSource, eng Deactivator, logger *zap.Logger) {
	changes, cancel := sess.Subscribe()
	defer cancel()

	wasAuthenticated := sess.Snapshot().Authenticated()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			now := sess.Snapshot().Authenticated()
			if wasAuthenticated && !now {
				logger.Info("session ended, deactivating chat")
				eng.Deactivate()
			}
			wasAuthenticated = now
		}
	}
}
