package websocket_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/config"
	"quantlab/internal/websocket"
)

func startHub(t *testing.T) (*websocket.Hub, string) {
	t.Helper()

	hub := websocket.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(websocket.ServeWS(hub, config.WebSocketConfig{}, nil))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	hub, url := startHub(t)

	first := dial(t, url)
	second := dial(t, url)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"operation:status"}`))

	for _, conn := range []*gorilla.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"operation:status"}`, string(message))
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub := websocket.NewHub(nil)
	go hub.Run()

	server := httptest.NewServer(websocket.ServeWS(hub, config.WebSocketConfig{}, nil))
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.Stop()
	// Stop is safe to call twice
	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection is closed by the hub")

	// Broadcast after Stop must not block
	done := make(chan struct{})
	go func() {
		hub.Broadcast([]byte("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}
