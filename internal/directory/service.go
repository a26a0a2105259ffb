// Package directory lists channels split into "mine" and "joinable" and
// mutates membership. The server is the only source of truth: every join or
// leave is followed by a full refresh, never by a local set update.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/observ"
	"github.com/lalith-99/echoclient/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session is the slice of the session store the directory needs.
type Session interface {
	Credential() (string, bool)
	Invalidate(token string, cause error)
}

// Listing is one consistent view: both halves come from the same refresh.
type Listing struct {
	Mine     []models.Channel `json:"mine"`
	Joinable []models.Channel `json:"joinable"`
}

type Service struct {
	api     repository.DirectoryAPI
	session Session
	logger  *zap.Logger

	mu      sync.Mutex
	listing *Listing
}

func NewService(api repository.DirectoryAPI, session Session, logger *zap.Logger) *Service {
	return &Service{
		api:     api,
		session: session,
		logger:  observ.Component(logger, "directory"),
	}
}

// Listing returns the last successful refresh, if any.
func (s *Service) Listing() (Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listing == nil {
		return Listing{}, false
	}
	return *s.listing, true
}

// Refresh fetches the full listing and the membership listing concurrently.
// If either fails the cached listing is dropped; stale and fresh halves are
// never shown together.
func (s *Service) Refresh(ctx context.Context) (Listing, error) {
	token, ok := s.session.Credential()
	if !ok {
		s.reset()
		return Listing{}, fmt.Errorf("refresh channels: %w", apperr.ErrUnauthorized)
	}

	var all, mine []models.Channel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = s.api.ListAllChannels(gctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		mine, err = s.api.ListMyMemberships(gctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		s.reset()
		s.report(token, err)
		return Listing{}, fmt.Errorf("refresh channels: %w", err)
	}

	listing := split(all, mine)

	s.mu.Lock()
	s.listing = &listing
	s.mu.Unlock()

	s.logger.Debug("channels refreshed",
		zap.Int("mine", len(listing.Mine)),
		zap.Int("joinable", len(listing.Joinable)),
	)
	return listing, nil
}

// Join joins channelID, then refreshes.
func (s *Service) Join(ctx context.Context, channelID uuid.UUID) (Listing, error) {
	return s.mutate(ctx, "join", channelID, s.api.JoinChannel)
}

// Leave leaves channelID, then refreshes. The server may refuse (e.g. the
// caller is the sole owner); the refresh shows what actually happened.
func (s *Service) Leave(ctx context.Context, channelID uuid.UUID) (Listing, error) {
	return s.mutate(ctx, "leave", channelID, s.api.LeaveChannel)
}

func (s *Service) mutate(
	ctx context.Context,
	verb string,
	channelID uuid.UUID,
	call func(context.Context, string, uuid.UUID) error,
) (Listing, error) {
	token, ok := s.session.Credential()
	if !ok {
		return Listing{}, fmt.Errorf("%s channel: %w", verb, apperr.ErrUnauthorized)
	}

	if err := call(ctx, token, channelID); err != nil {
		s.report(token, err)
		if apperr.IsUnauthorized(err) {
			s.reset()
			return Listing{}, fmt.Errorf("%s channel: %w", verb, err)
		}
		s.logger.Info("membership change rejected",
			zap.String("op", verb),
			zap.Stringer("channel_id", channelID),
			zap.Error(err),
		)
		// Still refresh so the caller sees the server's view.
		listing, _ := s.Refresh(ctx)
		return listing, fmt.Errorf("%s channel: %w", verb, err)
	}

	return s.Refresh(ctx)
}

func (s *Service) report(token string, err error) {
	if apperr.IsUnauthorized(err) {
		s.session.Invalidate(token, err)
	}
}

func (s *Service) reset() {
	s.mu.Lock()
	s.listing = nil
	s.mu.Unlock()
}

// split computes joinable = all - mine by id. Membership entries are taken
// from the membership listing itself so a channel the full listing does not
// page in still shows up under "mine".
func split(all, mine []models.Channel) Listing {
	memberOf := lo.KeyBy(mine, func(c models.Channel) uuid.UUID { return c.ID })

	joinable := lo.Filter(all, func(c models.Channel, _ int) bool {
		_, ok := memberOf[c.ID]
		return !ok
	})
	joinable = lo.Map(joinable, func(c models.Channel, _ int) models.Channel {
		c.Member = false
		return c
	})

	own := lo.Map(lo.UniqBy(mine, func(c models.Channel) uuid.UUID { return c.ID }),
		func(c models.Channel, _ int) models.Channel {
			c.Member = true
			return c
		})

	return Listing{Mine: own, Joinable: joinable}
}
