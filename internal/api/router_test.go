package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/directory"
	"github.com/lalith-99/echoclient/internal/engine"
	"github.com/lalith-99/echoclient/internal/models"
	"github.com/lalith-99/echoclient/internal/notify"
	"github.com/lalith-99/echoclient/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSessions struct {
	mu       sync.Mutex
	snap     session.Snapshot
	loginErr error
}

func (f *fakeSessions) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSessions) Login(_ context.Context, username, _ string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = session.Snapshot{
		State:         session.StateAuthenticated,
		HasCredential: true,
		Identity:      &models.Identity{ID: uuid.New(), Username: username},
	}
	return nil
}

func (f *fakeSessions) Signup(context.Context, string, string, string) error { return nil }

func (f *fakeSessions) Logout(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = session.Snapshot{State: session.StateUnauthenticated}
}

func (f *fakeSessions) ClearError() {}

type fakeDirectory struct {
	listing  directory.Listing
	leaveErr error
}

func (f *fakeDirectory) Refresh(context.Context) (directory.Listing, error) { return f.listing, nil }

func (f *fakeDirectory) Join(context.Context, uuid.UUID) (directory.Listing, error) {
	return f.listing, nil
}

func (f *fakeDirectory) Leave(context.Context, uuid.UUID) (directory.Listing, error) {
	return f.listing, f.leaveErr
}

type fakeEngine struct {
	mu        sync.Mutex
	snap      engine.Snapshot
	changes   *notify.Broadcaster
	sendErr   error
	accessErr error
	uploads   []models.FileUpload
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{changes: notify.NewBroadcaster()}
}

func (f *fakeEngine) Activate(_ context.Context, channelID uuid.UUID) uint64 {
	f.mu.Lock()
	f.snap = engine.Snapshot{Active: true, Activation: 1, ChannelID: channelID, History: engine.HistoryLoading, Connection: engine.ConnConnecting}
	f.mu.Unlock()
	f.changes.Notify()
	return 1
}

func (f *fakeEngine) Deactivate() {
	f.mu.Lock()
	f.snap = engine.Snapshot{}
	f.mu.Unlock()
	f.changes.Notify()
}

func (f *fakeEngine) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) Subscribe() (<-chan struct{}, func()) { return f.changes.Subscribe() }

func (f *fakeEngine) SendText(context.Context, uuid.UUID, string) error { return f.sendErr }

func (f *fakeEngine) SendFile(_ context.Context, _ uuid.UUID, file *models.FileUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, *file)
	return f.sendErr
}

func (f *fakeEngine) ResolveFileAccess(context.Context, int64) (string, error) {
	if f.accessErr != nil {
		return "", f.accessErr
	}
	return "https://files.example.com/x", nil
}

type harness struct {
	router   *gin.Engine
	sessions *fakeSessions
	dir      *fakeDirectory
	engine   *fakeEngine
}

func newHarness(state session.State) *harness {
	gin.SetMode(gin.TestMode)
	h := &harness{
		sessions: &fakeSessions{snap: session.Snapshot{State: state}},
		dir: &fakeDirectory{listing: directory.Listing{
			Mine:     []models.Channel{{ID: uuid.New(), Name: "general", Member: true}},
			Joinable: []models.Channel{{ID: uuid.New(), Name: "random"}},
		}},
		engine: newFakeEngine(),
	}
	h.router = NewRouter(Deps{Sessions: h.sessions, Directory: h.dir, Engine: h.engine, Logger: zap.NewNop()})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	return w
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	w := h.do(http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_SessionGating(t *testing.T) {
	tests := []struct {
		state session.State
		want  int
	}{
		{session.StateUninitialized, http.StatusServiceUnavailable},
		{session.StateResolving, http.StatusServiceUnavailable},
		{session.StateUnauthenticated, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			req := require.New(t)
			h := newHarness(tt.state)

			req.Equal(http.StatusOK, h.do(http.MethodGet, "/v1/health", "").Code)
			req.Equal(http.StatusOK, h.do(http.MethodGet, "/v1/session", "").Code)
			req.Equal(tt.want, h.do(http.MethodGet, "/v1/channels", "").Code)
			req.Equal(tt.want, h.do(http.MethodGet, "/v1/chat/state", "").Code)
		})
	}
}

func TestRouter_Login(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)

	h.sessions.loginErr = &apperr.APIError{Status: 401, Kind: apperr.ErrInvalidCredentials, Detail: "Incorrect username or password"}
	w := h.do(http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"bad"}`)
	req.Equal(http.StatusUnauthorized, w.Code)
	req.Contains(w.Body.String(), "Incorrect username or password")

	w = h.do(http.MethodPost, "/v1/auth/login", `{"username":"alice"}`)
	req.Equal(http.StatusBadRequest, w.Code)

	h.sessions.loginErr = nil
	w = h.do(http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"pw"}`)
	req.Equal(http.StatusOK, w.Code)

	var resp sessionResponse
	req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	req.True(resp.Authenticated)
	req.True(resp.Resolved)
	req.Equal("alice", resp.Identity.Username)

	w = h.do(http.MethodGet, "/v1/me", "")
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"username":"alice"`)

	req.Equal(http.StatusOK, h.do(http.MethodPost, "/v1/auth/logout", "").Code)
	req.Equal(http.StatusUnauthorized, h.do(http.MethodGet, "/v1/me", "").Code)
}

func TestRouter_Signup(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)

	w := h.do(http.MethodPost, "/v1/auth/signup", `{"username":"bob","email":"nope","password":"password1"}`)
	req.Equal(http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/v1/auth/signup", `{"username":"bob","email":"bob@example.com","password":"password1"}`)
	req.Equal(http.StatusCreated, w.Code)
}

func TestRouter_Channels(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)
	h.login(t)

	w := h.do(http.MethodGet, "/v1/channels", "")
	req.Equal(http.StatusOK, w.Code)
	var listing directory.Listing
	req.NoError(json.Unmarshal(w.Body.Bytes(), &listing))
	req.Equal("general", listing.Mine[0].Name)
	req.Equal("random", listing.Joinable[0].Name)

	req.Equal(http.StatusBadRequest, h.do(http.MethodPost, "/v1/channels/not-a-uuid/join", "").Code)
	req.Equal(http.StatusOK, h.do(http.MethodPost, "/v1/channels/"+uuid.NewString()+"/join", "").Code)

	h.dir.leaveErr = &apperr.APIError{Status: 400, Kind: apperr.ErrGeneric, Detail: "owner cannot leave"}
	w = h.do(http.MethodPost, "/v1/channels/"+uuid.NewString()+"/leave", "")
	req.Equal(http.StatusBadRequest, w.Code)
	req.Contains(w.Body.String(), "owner cannot leave")
	req.Contains(w.Body.String(), `"listing"`)
}

func TestRouter_Chat(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)
	h.login(t)
	channelID := uuid.NewString()

	w := h.do(http.MethodPost, "/v1/chat/"+channelID+"/activate", "")
	req.Equal(http.StatusAccepted, w.Code)

	w = h.do(http.MethodGet, "/v1/chat/state", "")
	req.Equal(http.StatusOK, w.Code)
	var snap engine.Snapshot
	req.NoError(json.Unmarshal(w.Body.Bytes(), &snap))
	req.True(snap.Active)
	req.Equal(channelID, snap.ChannelID.String())

	req.Equal(http.StatusAccepted, h.do(http.MethodPost, "/v1/chat/"+channelID+"/messages", `{"content":"hi"}`).Code)

	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrEmptyMessage, http.StatusBadRequest},
		{engine.ErrNotConnected, http.StatusConflict},
		{engine.ErrUploadInFlight, http.StatusConflict},
		{&apperr.APIError{Status: 401, Kind: apperr.ErrUnauthorized}, http.StatusUnauthorized},
		{&apperr.APIError{Status: 500, Kind: apperr.ErrGeneric, Detail: "boom"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		h.engine.sendErr = tt.err
		w := h.do(http.MethodPost, "/v1/chat/"+channelID+"/messages", `{"content":"hi"}`)
		req.Equal(tt.want, w.Code, tt.err.Error())
	}
	h.engine.sendErr = nil

	h.engine.accessErr = engine.ErrAttachmentUnavailable
	req.Equal(http.StatusGone, h.do(http.MethodGet, "/v1/chat/attachments/7", "").Code)
	h.engine.accessErr = nil
	w = h.do(http.MethodGet, "/v1/chat/attachments/7", "")
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"url":"https://files.example.com/x"}`, w.Body.String())
	req.Equal(http.StatusBadRequest, h.do(http.MethodGet, "/v1/chat/attachments/x", "").Code)

	req.Equal(http.StatusNoContent, h.do(http.MethodDelete, "/v1/chat", "").Code)
	req.False(h.engine.Snapshot().Active)
}

func TestRouter_SendFile(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)
	h.login(t)
	channelID := uuid.NewString()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "hello.txt")
	req.NoError(err)
	_, err = part.Write([]byte("hello"))
	req.NoError(err)
	req.NoError(mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/"+channelID+"/files", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)

	req.Equal(http.StatusAccepted, w.Code)
	req.Len(h.engine.uploads, 1)
	req.Equal("hello.txt", h.engine.uploads[0].Name)
	req.Equal([]byte("hello"), h.engine.uploads[0].Data)

	// No file part at all.
	r = httptest.NewRequest(http.MethodPost, "/v1/chat/"+channelID+"/files", strings.NewReader(""))
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestRouter_EventsStream(t *testing.T) {
	req := require.New(t)
	h := newHarness(session.StateUnauthenticated)
	h.login(t)

	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/chat/events", nil)
	req.NoError(err)
	resp, err := srv.Client().Do(r)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() string {
		var data string
		for lines.Scan() {
			line := lines.Text()
			if line == "" && data != "" {
				return data
			}
			if strings.HasPrefix(line, "data:") {
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		return data
	}

	var first engine.Snapshot
	req.NoError(json.Unmarshal([]byte(readEvent()), &first))
	req.False(first.Active)

	channelID := uuid.New()
	h.engine.Activate(context.Background(), channelID)

	var second engine.Snapshot
	req.NoError(json.Unmarshal([]byte(readEvent()), &second))
	req.True(second.Active)
	req.Equal(channelID, second.ChannelID)
}
