package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalOrigins(t *testing.T) {
	v := LocalOrigins{Port: 3000, Hosts: []string{"dev.example.com"}}

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"localhost", "http://localhost:3000", true},
		{"loopback", "http://127.0.0.1:3000", true},
		{"https", "https://localhost:3000", true},
		{"configured host", "http://dev.example.com:3000", true},
		{"other port", "http://localhost:3001", false},
		{"external", "http://malicious.com:3000", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"file scheme", "file:///etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsAllowedOrigin(tt.origin))
		})
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBroadcast(t *testing.T) {
	m := NewManager(nil, nil)
	defer func() { _ = m.Shutdown(context.Background()) }()

	srv := httptest.NewServer(http.HandlerFunc(m.HandleWebSocket))
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 2 }, 5*time.Second, 10*time.Millisecond)

	m.InjectCSS([]string{"/etc.clientlibs/site/main.css"})
	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, MessageCSS, msg.Type)
		assert.Equal(t, []string{"/etc.clientlibs/site/main.css"}, msg.Targets)
		assert.False(t, msg.Timestamp.IsZero())
	}

	m.Reload()
	msg := read(t, a)
	assert.Equal(t, MessageReload, msg.Type)
	assert.Empty(t, msg.Targets)
}

func TestDisconnectUnregisters(t *testing.T) {
	m := NewManager(nil, nil)
	defer func() { _ = m.Shutdown(context.Background()) }()

	srv := httptest.NewServer(http.HandlerFunc(m.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return m.ConnectedClients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRejectedOrigin(t *testing.T) {
	m := NewManager(LocalOrigins{Port: 1}, nil)
	defer func() { _ = m.Shutdown(context.Background()) }()

	req := httptest.NewRequest(http.MethodGet, "/__aemfed/ws", nil)
	req.Header.Set("Origin", "http://evil.example.com:1")
	rec := httptest.NewRecorder()
	m.HandleWebSocket(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestShutdown(t *testing.T) {
	m := NewManager(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(m.HandleWebSocket))
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Zero(t, m.ConnectedClients())

	rec := httptest.NewRecorder()
	m.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Safe to call again.
	require.NoError(t, m.Shutdown(ctx))
	m.Reload()
}
