package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/config"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testOriginURL = "http://localhost:8080"

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

// newTestHub starts a hub that is shut down when the test ends.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub
}

// newHandle builds a client with no transport, so its queue can be read
// directly by the test.
func newHandle(hub *Hub, id chat.Identity) *Client {
	return newHandleWithBuffer(hub, id, 0)
}

func newHandleWithBuffer(hub *Hub, id chat.Identity, size int) *Client {
	cfg := config.Default()
	if size > 0 {
		cfg.SendBufferSize = size
	}
	return NewClient(id, nil, hub, "test-"+id.String(), cfg)
}

// nextEvent reads one queued event from a transport-less client.
func nextEvent(t *testing.T, c *Client) chat.Event {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		var evt chat.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		return evt
	case <-time.After(time.Second):
		t.Fatalf("no event queued for %s", c.id)
		return chat.Event{}
	}
}

func expectNoEvent(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected event for %s: %s", c.id, raw)
		}
	case <-time.After(wait):
	}
}

func presenceOf(t *testing.T, evt chat.Event) []chat.Identity {
	t.Helper()
	require.Equal(t, chat.EventOnlineUsers, evt.Type)
	var ids []chat.Identity
	require.NoError(t, json.Unmarshal(evt.Data, &ids))
	return ids
}

func messageOf(t *testing.T, evt chat.Event) chat.Message {
	t.Helper()
	require.Equal(t, chat.EventNewMessage, evt.Type)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(evt.Data, &msg))
	return msg
}

func buildWebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// connectWebSocket dials with the allowed test origin and a bearer token.
func connectWebSocket(url, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOriginURL)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// readEvent reads frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want chat.EventType) chat.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)
		var evt chat.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		if evt.Type == want {
			return evt
		}
	}
}

// readPresenceUntil reads presence events until one equals want.
func readPresenceUntil(t *testing.T, conn *websocket.Conn, want []chat.Identity) {
	t.Helper()
	for {
		if ids := presenceOf(t, readEvent(t, conn, chat.EventOnlineUsers)); slices.Equal(ids, want) {
			return
		}
	}
}

// expectNoMessage fails if a newMessage event arrives within wait.
func expectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt chat.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		require.NotEqual(t, chat.EventNewMessage, evt.Type, "unexpected message: %s", raw)
	}
}

func newJSONRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, http.NoBody)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
