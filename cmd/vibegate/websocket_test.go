package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketEcho(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 100)
	defer conns.Close()
	hub := newWSHub()
	server := httptest.NewServer(websocketHandler(conns, hub, newErrorPipeline(false, hub)))
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("terminal input")))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, message, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "terminal input", string(message))
}

func TestWebSocketConnectionBurstRejected(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 2)
	defer conns.Close()
	hub := newWSHub()
	server := httptest.NewServer(websocketHandler(conns, hub, newErrorPipeline(false, hub)))
	defer server.Close()

	for i := 0; i < 2; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
		require.NoError(t, err, "connection %d", i+1)
		ws.Close()
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestHubBroadcastReconnect(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 100)
	defer conns.Close()
	hub := newWSHub()
	server := httptest.NewServer(websocketHandler(conns, hub, newErrorPipeline(false, hub)))
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.count() == 1 }, time.Second, 10*time.Millisecond)

	hub.broadcastReconnect("backend restarting")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "reconnect_required", msg["type"])
	assert.Equal(t, "backend restarting", msg["reason"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestServiceRecoveryTriggersBroadcast(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 100)
	defer conns.Close()
	hub := newWSHub()
	pipeline := newErrorPipeline(false, hub)
	server := httptest.NewServer(websocketHandler(conns, hub, pipeline))
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return hub.count() == 1 }, time.Second, 10*time.Millisecond)

	// A 503 through the pipeline notifies connected terminals.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/anthropic/v1/messages", nil)
	pipeline.Respond(rr, req, newUnavailableError("Anthropic upstream is unavailable", 30))
	require.Equal(t, 503, rr.Code)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "reconnect_required", msg["type"])
	assert.Equal(t, "Anthropic upstream is unavailable", msg["reason"])
}

func TestHubUnregisterOnDisconnect(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 100)
	defer conns.Close()
	hub := newWSHub()
	server := httptest.NewServer(websocketHandler(conns, hub, newErrorPipeline(false, hub)))
	defer server.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.count() == 1 }, time.Second, 10*time.Millisecond)

	ws.Close()
	assert.Eventually(t, func() bool { return hub.count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectionBody(t *testing.T) {
	setupTest()
	conns := newConnThrottle(10*time.Second, 30*time.Second, 1)
	defer conns.Close()
	hub := newWSHub()
	handler := websocketHandler(conns, hub, newErrorPipeline(false, hub))

	first := httptest.NewRequest("GET", "/ws", nil)
	first.RemoteAddr = "192.0.2.50:1000"
	// Not a real upgrade; the throttle check runs before the handshake.
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest("GET", "/ws", nil)
	second.RemoteAddr = "192.0.2.50:1001"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, second)

	require.Equal(t, 429, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests", body["error"])
	assert.Equal(t, "Too many connection attempts, try again later", body["message"])
	assert.Equal(t, float64(30), body["retryAfter"])
}
