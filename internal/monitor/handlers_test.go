package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pipechat/internal/wire"
)

func newTestServer(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	srv := httptest.NewServer(NewServer(hub, origins, zerolog.Nop()).Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(time.Second)
	})
	return hub, srv
}

func dialFeed(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(url, headers)
}

func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			rr := httptest.NewRecorder()

			HealthHandler(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
			assert.Equal(t, "pipechat broker is running!", rr.Body.String())
		})
	}
}

func TestViewPageHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/view", http.NoBody)
	req.Host = "localhost:9999"
	rr := httptest.NewRecorder()

	ViewPageHandler(rr, req)

	assert.Equal(t, "text/html", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "ws://localhost:9999/ws")
}

func TestStatsHandler(t *testing.T) {
	hub, srv := newTestServer(t, nil)
	hub.SessionJoined(1, "a")
	hub.SessionJoined(2, "b")

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Sessions)
}

func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	_, srv := newTestServer(t, []string{"*"})

	resp, err := http.Post(srv.URL+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketOriginPolicy(t *testing.T) {
	_, srv := newTestServer(t, []string{"http://allowed.example"})

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"allowed origin", "http://allowed.example", true},
		{"case-insensitive match", "HTTP://Allowed.Example", true},
		{"other origin", "http://evil.example", false},
		{"missing origin", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := dialFeed(t, srv, tt.origin)
			if resp != nil {
				_ = resp.Body.Close()
			}
			if tt.ok {
				require.NoError(t, err)
				_ = conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestWebSocketFeedStreamsEvents(t *testing.T) {
	hub, srv := newTestServer(t, []string{"*"})

	conn, resp, err := dialFeed(t, srv, "http://localhost:8080")
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.WatcherCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.SessionJoined(1, "alice")
	hub.MessageRelayed(wire.NewMessage(1, "alice", "hi\n"), 0)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventJoined, ev.Type)
	assert.Equal(t, "alice", ev.Nickname)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "hi\n", ev.Payload)
}

func TestWatcherUnregistersOnClose(t *testing.T) {
	hub, srv := newTestServer(t, []string{"*"})

	conn, resp, err := dialFeed(t, srv, "http://localhost:8080")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return hub.WatcherCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.WatcherCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownDisconnectsWatchers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	srv := httptest.NewServer(NewServer(hub, []string{"*"}, zerolog.Nop()).Routes())
	defer srv.Close()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conn, resp, err := dialFeed(t, srv, "http://localhost:8080")
		require.NoError(t, err)
		_ = resp.Body.Close()
		conns[i] = conn
	}
	require.Eventually(t, func() bool { return hub.WatcherCount() == len(conns) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Shutdown(5*time.Second))

	for i, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, "watcher %d still open after shutdown", i)
		_ = conn.Close()
	}
}
