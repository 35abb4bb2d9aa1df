package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler 回显收到的消息并记录回调
type echoHandler struct {
	mu            sync.Mutex
	connects      int
	disconnects   int
	lastReceived  []byte
	rejectConnect bool
}

func (h *echoHandler) OnConnect(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectConnect {
		return ErrTooManyConnections
	}
	h.connects++
	return conn.Send("welcome", map[string]string{"connId": conn.ID()})
}

func (h *echoHandler) OnMessage(conn *Connection, data []byte) {
	h.mu.Lock()
	h.lastReceived = data
	h.mu.Unlock()
	_ = conn.Send("echo", json.RawMessage(data))
}

func (h *echoHandler) OnDisconnect(conn *Connection, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func newTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()

	s, err := NewServer(DefaultServerConfig(), handler, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServer_ConnectAndEcho(t *testing.T) {
	handler := &echoHandler{}
	_, url := newTestServer(t, handler)

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	// 欢迎消息
	var welcome Envelope
	require.NoError(t, client.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome.Type)

	// 回显
	require.NoError(t, client.WriteMessage(gorilla.TextMessage, []byte(`{"type":"ping"}`)))
	var echo Envelope
	require.NoError(t, client.ReadJSON(&echo))
	assert.Equal(t, "echo", echo.Type)
}

func TestServer_DisconnectCallback(t *testing.T) {
	handler := &echoHandler{}
	s, url := newTestServer(t, handler)

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	client.Close()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.disconnects == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.ConnectionCount())
}

func TestServer_RejectedConnect(t *testing.T) {
	handler := &echoHandler{rejectConnect: true}
	s, url := newTestServer(t, handler)

	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.disconnects == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.ConnectionCount())
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.NoError(t, cfg.Validate())

	cfg.SendQueueSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.MaxConnections = 0
	assert.Error(t, cfg.Validate())
}
