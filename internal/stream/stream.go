// Package stream opens the per-channel WebSocket feed.
//
// A Conn turns the gorilla connection into a channel of models.StreamEvent:
// open, one message per text frame, then exactly one close. It never
// reconnects. Deciding what a close means is the engine's job.
package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/observ"
	"github.com/lalith-99/echoclient/internal/repository"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 1 << 20

	eventBuffer = 64
)

// Dialer opens streams at baseURL + "/ws/{channel_id}?token=...".
type Dialer struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

var _ repository.StreamOpener = (*Dialer)(nil)

func NewDialer(baseURL string, logger *zap.Logger) *Dialer {
	return &Dialer{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: observ.Component(logger, "stream"),
	}
}

// Conn is one stream handle.
type Conn struct {
	channelID uuid.UUID
	events    chan models.StreamEvent
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
	// localCode is the code we closed with; the read loop reports it
	// instead of whatever error the torn-down socket produces.
	localCode int

	writeMu sync.Mutex
	done    chan struct{}
}

// Open starts dialing in the background and returns immediately.
func (d *Dialer) Open(ctx context.Context, channelID uuid.UUID, token string) repository.Stream {
	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		channelID: channelID,
		events:    make(chan models.StreamEvent, eventBuffer),
		logger:    d.logger.With(zap.Stringer("channel_id", channelID)),
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run(d, token)
	return c
}

func (d *Dialer) streamURL(channelID uuid.UUID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return d.baseURL + "/ws/" + channelID.String() + "?" + q.Encode()
}

func (c *Conn) Events() <-chan models.StreamEvent {
	return c.events
}

// Close sends a close frame with code and shuts the socket. The final
// StreamClosed event reports code as a clean close.
func (c *Conn) Close(code int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.localCode = code
	ws := c.ws
	c.mu.Unlock()

	// Still dialing: cancelling the context aborts the handshake.
	c.cancel()
	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, "")
	err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()

	closeErr := ws.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

func (c *Conn) emit(ev models.StreamEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) run(d *Dialer, token string) {
	defer close(c.events)

	ws, resp, err := d.dialer.DialContext(c.ctx, d.streamURL(c.channelID, token), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		local, code := c.closed, c.localCode
		c.mu.Unlock()
		if local {
			c.emit(models.StreamEvent{Type: models.StreamClosed, Code: code, Clean: true})
			return
		}
		c.logger.Warn("stream dial failed", zap.Error(err))
		c.emit(models.StreamEvent{Type: models.StreamError, Err: err})
		// A rejected handshake looks like an abnormal closure to the
		// consumer, the same as a browser WebSocket would report it.
		c.emit(models.StreamEvent{Type: models.StreamClosed, Code: models.CloseAbnormal, Clean: false})
		return
	}

	c.mu.Lock()
	if c.closed {
		code := c.localCode
		c.mu.Unlock()
		ws.Close()
		c.emit(models.StreamEvent{Type: models.StreamClosed, Code: code, Clean: true})
		return
	}
	c.ws = ws
	c.mu.Unlock()

	c.emit(models.StreamEvent{Type: models.StreamOpened})

	go c.pingLoop(ws)
	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	defer close(c.done)

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			c.emitClose(err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.emit(models.StreamEvent{Type: models.StreamMessage, Data: data})
	}
}

// emitClose classifies the read error. A received close frame is a clean
// close carrying the peer's code; anything else is an abnormal closure.
func (c *Conn) emitClose(err error) {
	c.mu.Lock()
	local, code := c.closed, c.localCode
	c.mu.Unlock()

	ev := models.StreamEvent{Type: models.StreamClosed}
	var closeErr *websocket.CloseError
	switch {
	case local:
		ev.Code = code
		ev.Clean = true
	case errors.As(err, &closeErr):
		ev.Code = closeErr.Code
		ev.Clean = closeErr.Code != websocket.CloseAbnormalClosure
	default:
		ev.Code = models.CloseAbnormal
		ev.Clean = false
		c.logger.Warn("stream read failed", zap.Error(err))
	}

	// Block until delivered or the consumer stops listening; the events
	// channel is buffered so this does not hang a slow reader.
	select {
	case c.events <- ev:
	case <-time.After(writeWait):
		c.logger.Warn("dropping close event, consumer not reading")
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
