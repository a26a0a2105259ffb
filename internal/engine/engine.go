// Package engine keeps the message list of the one active channel in sync.
//
// An activation is one "we are looking at channel X" period. It owns:
//   - one history fetch
//   - one stream connection
//   - the merged, de-duplicated, ordered message set
//   - the send pipeline's in-flight state and the attachment URL cache
//
// Activations are compared by pointer. Every goroutine working for an
// activation re-checks, under the engine lock, that its activation is still
// the current one before touching state; a late history result or a stale
// stream event for an old activation is dropped there.
//
// There is no reconnect. A closed stream stays closed until the channel is
// activated again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/notify"
	"github.com/lalith-99/echoclient/internal/observ"
	"github.com/lalith-99/echoclient/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type HistoryState string

const (
	HistoryIdle    HistoryState = "idle"
	HistoryLoading HistoryState = "loading"
	HistoryReady   HistoryState = "ready"
	HistoryFailed  HistoryState = "failed"
)

type ConnectionState string

const (
	// ConnIdle means no stream was opened: nothing is active, or there was
	// no credential to open one with.
	ConnIdle       ConnectionState = "idle"
	ConnConnecting ConnectionState = "connecting"
	ConnOpen       ConnectionState = "open"
	ConnClosed     ConnectionState = "closed"
	ConnFailed     ConnectionState = "failed"
)

// LoadFailure says why history could not be loaded.
type LoadFailure string

const (
	FailureNone         LoadFailure = ""
	FailureNoAccess     LoadFailure = "no_access"
	FailureUnauthorized LoadFailure = "unauthorized"
	FailureGeneric      LoadFailure = "generic"
)

// Conditions are independent flags; any combination may be shown at once
// (e.g. history ready and live updates lost).
type Conditions struct {
	LoadFailure     LoadFailure `json:"load_failure,omitempty"`
	LoadDetail      string      `json:"load_detail,omitempty"`
	LiveUpdatesLost bool        `json:"live_updates_lost"`
	SendFailed      string      `json:"send_failed,omitempty"`
	UploadTooLarge  bool        `json:"upload_too_large"`
}

type AttachmentState string

const (
	AttachmentPending     AttachmentState = "pending"
	AttachmentReady       AttachmentState = "ready"
	AttachmentUnavailable AttachmentState = "unavailable"
)

type Attachment struct {
	State AttachmentState `json:"state"`
	URL   string          `json:"url,omitempty"`
}

// Snapshot is a copy of the active channel's state for presentation.
type Snapshot struct {
	Active         bool                 `json:"active"`
	Activation     uint64               `json:"activation"`
	ChannelID      uuid.UUID            `json:"channel_id"`
	Messages       []models.Message     `json:"messages"`
	History        HistoryState         `json:"history"`
	Connection     ConnectionState      `json:"connection"`
	PendingUploads int                  `json:"pending_uploads"`
	Conditions     Conditions           `json:"conditions"`
	Attachments    map[int64]Attachment `json:"attachments,omitempty"`
}

// Session is the slice of the session store the engine needs.
type Session interface {
	Credential() (string, bool)
	Invalidate(token string, cause error)
}

type activation struct {
	id        uint64
	channelID uuid.UUID
	token     string

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by Engine.mu.
	stream         repository.Stream
	messages       *MessageSet
	history        HistoryState
	conn           ConnectionState
	pendingUploads int
	cond           Conditions
	attachments    map[int64]Attachment
}

type Engine struct {
	api     repository.MessageAPI
	streams repository.StreamOpener
	session Session
	logger  *zap.Logger

	mu     sync.Mutex
	seq    uint64
	active *activation

	changes *notify.Broadcaster
}

func New(api repository.MessageAPI, streams repository.StreamOpener, session Session, logger *zap.Logger) *Engine {
	return &Engine{
		api:     api,
		streams: streams,
		session: session,
		logger:  observ.Component(logger, "engine"),
		changes: notify.NewBroadcaster(),
	}
}

// Subscribe wakes the caller after every state change; read Snapshot after.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.changes.Subscribe()
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.active
	if a == nil {
		return Snapshot{History: HistoryIdle, Connection: ConnIdle}
	}
	return Snapshot{
		Active:         true,
		Activation:     a.id,
		ChannelID:      a.channelID,
		Messages:       a.messages.Messages(),
		History:        a.history,
		Connection:     a.conn,
		PendingUploads: a.pendingUploads,
		Conditions:     a.cond,
		Attachments:    maps.Clone(a.attachments),
	}
}

// Activate makes channelID the active channel. Any previous activation is
// torn down first (its stream closed with a normal-closure code), then a
// fresh history fetch and a fresh stream are started. Nothing carries over,
// not even when channelID is the channel that was already active.
//
// ctx only contributes values; the activation lives until Deactivate or the
// next Activate.
func (e *Engine) Activate(ctx context.Context, channelID uuid.UUID) uint64 {
	token, hasCredential := e.session.Credential()

	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activation{
		channelID:   channelID,
		token:       token,
		ctx:         actx,
		cancel:      cancel,
		messages:    NewMessageSet(),
		history:     HistoryLoading,
		conn:        ConnConnecting,
		attachments: make(map[int64]Attachment),
	}

	e.mu.Lock()
	e.seq++
	a.id = e.seq
	old := e.active
	e.active = a
	if !hasCredential {
		a.history = HistoryFailed
		a.conn = ConnIdle
		a.cond.LoadFailure = FailureUnauthorized
	}
	e.mu.Unlock()

	if old != nil {
		e.teardown(old)
	}

	log := e.logger.With(zap.Uint64("activation", a.id), zap.Stringer("channel_id", channelID))
	if !hasCredential {
		log.Info("activated without credential")
		cancel()
		e.changes.Notify()
		return a.id
	}

	s := e.streams.Open(actx, channelID, token)

	e.mu.Lock()
	if e.active != a {
		// Superseded while opening.
		e.mu.Unlock()
		s.Close(models.CloseNormal)
		go drain(s)
		return a.id
	}
	a.stream = s
	e.mu.Unlock()

	log.Info("channel activated")
	e.changes.Notify()

	go e.pump(a, s)
	go e.loadHistory(a)
	return a.id
}

// Deactivate closes the active stream and drops all state for it.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	a := e.active
	e.active = nil
	e.mu.Unlock()

	if a == nil {
		return
	}
	e.teardown(a)
	e.logger.Info("channel deactivated", zap.Uint64("activation", a.id))
	e.changes.Notify()
}

// teardown closes a's stream and cancels its outstanding calls. a must
// already be detached from e.active.
func (e *Engine) teardown(a *activation) {
	a.cancel()

	e.mu.Lock()
	s := a.stream
	e.mu.Unlock()

	if s == nil {
		return
	}
	if err := s.Close(models.CloseNormal); err != nil {
		e.logger.Debug("closing stream", zap.Uint64("activation", a.id), zap.Error(err))
	}
}

// current reports whether a is still the active activation. Caller holds mu.
func (e *Engine) current(a *activation) bool {
	return e.active == a
}

// pump drains every event of s, including those that arrive after a was
// torn down, so the stream's goroutines can finish.
func (e *Engine) pump(a *activation, s repository.Stream) {
	for ev := range s.Events() {
		e.handleStreamEvent(a, ev)
	}
}

func drain(s repository.Stream) {
	for range s.Events() {
	}
}

func (e *Engine) handleStreamEvent(a *activation, ev models.StreamEvent) {
	log := e.logger.With(zap.Uint64("activation", a.id), zap.Stringer("event", ev.Type))

	e.mu.Lock()
	if !e.current(a) {
		e.mu.Unlock()
		log.Debug("dropping event for stale activation")
		return
	}

	switch ev.Type {
	case models.StreamOpened:
		a.conn = ConnOpen
		a.cond.LiveUpdatesLost = false

	case models.StreamMessage:
		m, err := models.ParseMessage(ev.Data)
		if err != nil {
			e.mu.Unlock()
			log.Warn("discarding malformed stream payload",
				zap.Error(fmt.Errorf("%w: %w", apperr.ErrMalformed, err)),
				zap.ByteString("payload", truncate(ev.Data)),
			)
			return
		}
		if m.ChannelID == uuid.Nil {
			m.ChannelID = a.channelID
		}
		if m.ChannelID != a.channelID {
			e.mu.Unlock()
			log.Warn("discarding message for another channel",
				zap.Int64("message_id", m.ID),
				zap.Stringer("message_channel_id", m.ChannelID),
			)
			return
		}
		if !a.messages.Add(m) {
			e.mu.Unlock()
			return
		}

	case models.StreamError:
		a.conn = ConnFailed
		a.cond.LiveUpdatesLost = true
		log.Warn("stream failed", zap.Error(lostCause(ev.Err)))

	case models.StreamClosed:
		if ev.Code == models.ClosePolicyViolation {
			// The server rejected the credential. Drop the activation and
			// the session together.
			e.active = nil
			e.mu.Unlock()

			log.Warn("stream closed by policy violation, invalidating session")
			e.teardown(a)
			e.session.Invalidate(a.token, fmt.Errorf("stream closed with code %d: %w", ev.Code, apperr.ErrUnauthorized))
			e.changes.Notify()
			return
		}
		if a.conn != ConnFailed {
			a.conn = ConnClosed
		}
		if !ev.Clean && ev.Code != models.CloseNormal {
			a.cond.LiveUpdatesLost = true
			log.Warn("stream lost",
				zap.Int("code", ev.Code),
				zap.Error(fmt.Errorf("%w: close code %d", apperr.ErrTransportLost, ev.Code)),
			)
		} else {
			log.Info("stream closed", zap.Int("code", ev.Code))
		}

	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.changes.Notify()
}

func (e *Engine) loadHistory(a *activation) {
	msgs, err := e.api.ChannelHistory(a.ctx, a.token, a.channelID)

	e.mu.Lock()
	if !e.current(a) {
		e.mu.Unlock()
		e.logger.Debug("discarding history for stale activation", zap.Uint64("activation", a.id))
		return
	}

	if err != nil {
		a.history = HistoryFailed
		switch {
		case apperr.IsUnauthorized(err):
			a.cond.LoadFailure = FailureUnauthorized
		case apperr.IsNoAccess(err):
			a.cond.LoadFailure = FailureNoAccess
		default:
			a.cond.LoadFailure = FailureGeneric
			a.cond.LoadDetail = detailOf(err)
		}
		e.mu.Unlock()

		e.logger.Warn("history load failed",
			zap.Uint64("activation", a.id),
			zap.Stringer("channel_id", a.channelID),
			zap.Error(err),
		)
		if apperr.IsUnauthorized(err) {
			e.session.Invalidate(a.token, err)
		}
		e.changes.Notify()
		return
	}

	own := lo.Filter(msgs, func(m models.Message, _ int) bool {
		return m.ChannelID == uuid.Nil || m.ChannelID == a.channelID
	})
	added := a.messages.Merge(own)
	a.history = HistoryReady
	e.mu.Unlock()

	e.logger.Debug("history loaded",
		zap.Uint64("activation", a.id),
		zap.Int("fetched", len(msgs)),
		zap.Int("added", added),
	)
	e.changes.Notify()
}

const maxLoggedPayload = 256

// lostCause tags a stream failure as TransportLost so callers matching on
// the taxonomy see it.
func lostCause(err error) error {
	if err == nil {
		return apperr.ErrTransportLost
	}
	if errors.Is(err, apperr.ErrTransportLost) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrTransportLost, err)
}

func truncate(b []byte) []byte {
	if len(b) > maxLoggedPayload {
		return b[:maxLoggedPayload]
	}
	return b
}

// detailOf prefers the server's detail text over the wrapped error string.
func detailOf(err error) string {
	if d := apperr.Detail(err); d != "" {
		return d
	}
	var apiErr *apperr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind.Error()
	}
	return err.Error()
}
