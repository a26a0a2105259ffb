package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handle for every upgraded connection and records the
// query token it saw.
func wsServer(t *testing.T, handle func(conn *websocket.Conn)) (*httptest.Server, chan string) {
	t.Helper()
	tokens := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, tokens
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, s <-chan models.StreamEvent) models.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-s:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return models.StreamEvent{}
	}
}

func TestConn_DeliversMessagesThenPolicyClose(t *testing.T) {
	req := require.New(t)
	srv, tokens := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1}`))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a member")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	})

	d := NewDialer(wsURL(srv), nil)
	s := d.Open(context.Background(), uuid.New(), "tok en")
	defer s.Close(models.CloseNormal)

	req.Equal(models.StreamOpened, next(t, s.Events()).Type)

	ev := next(t, s.Events())
	req.Equal(models.StreamMessage, ev.Type)
	req.JSONEq(`{"id":1}`, string(ev.Data))

	ev = next(t, s.Events())
	req.Equal(models.StreamClosed, ev.Type)
	req.Equal(models.ClosePolicyViolation, ev.Code)
	req.True(ev.Clean)

	req.Equal("tok en", <-tokens)
}

func TestConn_AbruptDropIsUnclean(t *testing.T) {
	req := require.New(t)
	srv, _ := wsServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	s := NewDialer(wsURL(srv), nil).Open(context.Background(), uuid.New(), "t")
	req.Equal(models.StreamOpened, next(t, s.Events()).Type)

	ev := next(t, s.Events())
	req.Equal(models.StreamClosed, ev.Type)
	req.Equal(models.CloseAbnormal, ev.Code)
	req.False(ev.Clean)
}

func TestConn_LocalCloseSendsCode(t *testing.T) {
	req := require.New(t)
	got := make(chan int, 1)
	srv, _ := wsServer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			got <- ce.Code
		}
	})

	s := NewDialer(wsURL(srv), nil).Open(context.Background(), uuid.New(), "t")
	req.Equal(models.StreamOpened, next(t, s.Events()).Type)

	req.NoError(s.Close(models.CloseNormal))
	req.NoError(s.Close(models.CloseNormal))

	ev := next(t, s.Events())
	req.Equal(models.StreamClosed, ev.Type)
	req.Equal(models.CloseNormal, ev.Code)
	req.True(ev.Clean)

	select {
	case code := <-got:
		req.Equal(websocket.CloseNormalClosure, code)
	case <-time.After(3 * time.Second):
		req.Fail("server never saw the close frame")
	}

	_, open := <-s.Events()
	req.False(open)
}

func TestConn_DialFailure(t *testing.T) {
	req := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewDialer(wsURL(srv), nil).Open(context.Background(), uuid.New(), "t")

	ev := next(t, s.Events())
	req.Equal(models.StreamError, ev.Type)
	req.Error(ev.Err)

	ev = next(t, s.Events())
	req.Equal(models.StreamClosed, ev.Type)
	req.False(ev.Clean)
}
