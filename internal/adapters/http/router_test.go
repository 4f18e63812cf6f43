package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/AvatarCall/internal/app"
	"github.com/dkeye/AvatarCall/internal/config"
	"github.com/dkeye/AvatarCall/internal/domain"
	"github.com/dkeye/AvatarCall/internal/media"
)

type fakeService struct {
	mu       sync.Mutex
	joinErr  error
	shareErr error
	joins    int
	leaves   int
	st       app.State
	subs     chan app.State
}

func (f *fakeService) Join(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.joinErr != nil {
		return f.joinErr
	}
	f.st.Status = domain.StatusConnecting
	f.st.Message = app.MsgCreatingCall
	f.st.Tone = domain.ToneNeutral
	return nil
}

func (f *fakeService) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	f.st = app.State{Status: domain.StatusDisconnected, Message: app.MsgDisconnected, Tone: domain.ToneNeutral}
	return nil
}

func (f *fakeService) ToggleScreenShare(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shareErr != nil {
		return f.shareErr
	}
	f.st.ScreenSharing = !f.st.ScreenSharing
	return nil
}

func (f *fakeService) State() app.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeService) Subscribe() (<-chan app.State, func()) {
	f.subs <- f.State()
	return f.subs, func() {}
}

type fakeSinks []media.SinkInfo

func (f fakeSinks) Snapshot() []media.SinkInfo { return f }

type handle string

func (h handle) ID() string { return string(h) }

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>call</h1>"), 0o600))
	cfg := &config.Config{
		Mode:       gin.TestMode,
		StaticPath: dir,
		Secret:     "test-secret",
		ReadLimit:  4096,
		PingPeriod: time.Second,
	}
	sinks := fakeSinks{{Participant: "r1", Role: app.RoleCamera, HandleID: "cam", State: "forwarding", Forwarded: 7}}
	srv := httptest.NewServer(SetupRouter(cfg, svc, sinks))
	t.Cleanup(srv.Close)
	return srv
}

func newFakeService() *fakeService {
	return &fakeService{st: app.State{Status: domain.StatusIdle}, subs: make(chan app.State, 4)}
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestJoinAndLeave(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/call/join")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "connecting", body["status"])
	assert.Equal(t, app.MsgCreatingCall, body["message"])
	assert.Equal(t, true, body["can_leave"])
	assert.Equal(t, false, body["can_join"])

	resp, body = do(t, http.MethodPost, srv.URL+"/api/call/leave")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["status"])
	assert.Equal(t, true, body["can_join"])
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.joins)
	assert.Equal(t, 1, svc.leaves)
}

func TestErrorStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{app.ErrJoinInFlight, http.StatusConflict},
		{app.ErrAlreadyJoined, http.StatusConflict},
		{app.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			svc := newFakeService()
			svc.joinErr = tc.err
			srv := newTestServer(t, svc)
			resp, body := do(t, http.MethodPost, srv.URL+"/api/call/join")
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestToggleScreenShare(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	_, body := do(t, http.MethodPost, srv.URL+"/api/call/screenshare")
	assert.Equal(t, true, body["screen_sharing"])

	svc.mu.Lock()
	svc.shareErr = &app.DeviceError{Op: "stop", Err: errors.New("no device")}
	svc.mu.Unlock()
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/call/screenshare")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStateListsParticipants(t *testing.T) {
	svc := newFakeService()
	local := domain.NewParticipant(domain.LocalParticipantID, "me")
	remote := domain.NewParticipant("r1", "Avatar")
	remote.Tracks[domain.TrackVideo] = domain.Track{Kind: domain.TrackVideo, State: domain.TrackPlayable, Handle: handle("cam")}
	svc.st = app.State{
		Status:              domain.StatusConnected,
		Message:             app.MsgConnected,
		Tone:                domain.ToneSuccess,
		ConversationVisible: true,
		Local:               &local,
		Remotes:             map[domain.ParticipantID]domain.Participant{"r1": remote},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/call/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))

	assert.Equal(t, domain.ToneSuccess, st.Tone)
	require.Len(t, st.Participants, 2)
	assert.Equal(t, domain.LocalParticipantID, st.Participants[0].ID)
	assert.Equal(t, "cam", st.Participants[1].Tracks[domain.TrackVideo].HandleID)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))
}

func TestSinksAndStatic(t *testing.T) {
	srv := newTestServer(t, newFakeService())

	resp, err := http.Get(srv.URL + "/api/call/sinks")
	require.NoError(t, err)
	var sinks []media.SinkInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sinks))
	resp.Body.Close()
	require.Len(t, sinks, 1)
	assert.Equal(t, uint64(7), sinks[0].Forwarded)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusStream(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/status"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var st StateResponse
	require.NoError(t, ws.ReadJSON(&st))
	assert.Equal(t, domain.StatusIdle, st.Status)

	svc.subs <- app.State{Status: domain.StatusFailed, Message: app.MsgCreateFailed, Tone: domain.ToneFailed}
	require.NoError(t, ws.ReadJSON(&st))
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Equal(t, app.MsgCreateFailed, st.Message)

	close(svc.subs)
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestJoinRateLimited(t *testing.T) {
	svc := newFakeService()
	cfg := &config.Config{
		Mode:       gin.TestMode,
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
		ReadLimit:  4096,
		PingPeriod: time.Second,
		JoinLimit:  1,
		JoinWindow: time.Minute,
	}
	srv := httptest.NewServer(SetupRouter(cfg, svc, nil))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}
	post := func() int {
		resp, err := client.Post(srv.URL+"/api/call/join", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, post())
	// Same session cookie, same client token.
	assert.Equal(t, http.StatusTooManyRequests, post())

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.joins)
}

func TestJoinLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewJoinLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestJoinLimiterForgetsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewJoinLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Len(t, rl.history, 2)

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("c"))
	assert.Len(t, rl.history, 1)
	assert.Contains(t, rl.history, "c")
}

func TestIndexPageServed(t *testing.T) {
	cfg := &config.Config{
		Mode:       gin.TestMode,
		StaticPath: filepath.Join("..", "..", "..", "web"),
		Secret:     "test-secret",
		ReadLimit:  4096,
		PingPeriod: time.Second,
	}
	srv := httptest.NewServer(SetupRouter(cfg, newFakeService(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/api/ws/status")
	assert.Contains(t, string(body), "/api/call/join")
}
