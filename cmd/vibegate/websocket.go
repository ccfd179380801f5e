package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		configLock.RLock()
		allowed := config.AllowedOrigins
		configLock.RUnlock()
		if len(allowed) == 0 {
			return true
		}
		return originAllowed(r.Header.Get("Origin"), allowed)
	},
}

// wsClient wraps a connection with a write lock; the terminal relay and hub
// broadcasts write from different goroutines.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// wsHub tracks live terminal connections so the service-recovery stage can
// ask every client to reconnect.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]struct{})}
}

func (h *wsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcastReconnect sends a reconnect_required control message to every
// live connection. Best effort: write failures are ignored, delivery is not
// guaranteed.
func (h *wsHub) broadcastReconnect(reason string) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := map[string]interface{}{
		"type":      "reconnect_required",
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for _, c := range clients {
		_ = c.writeJSON(msg)
	}
}

// websocketHandler gates the terminal endpoint behind the connection
// throttle, then relays frames until the client goes away.
func websocketHandler(conns *ConnThrottle, hub *wsHub, pipeline *errorPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := getClientIP(r)
		if err := conns.Check(addr); err != nil {
			throttleRejections.WithLabelValues("connection").Inc()
			pipeline.Respond(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.String("remote", addr), zap.Error(err))
			return
		}
		client := &wsClient{conn: conn}
		hub.register(client)
		defer func() {
			hub.unregister(client)
			conn.Close()
		}()

		logger.Info("websocket connected", zap.String("remote", addr))
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("websocket closed", zap.String("remote", addr), zap.Error(err))
				return
			}
			if err := client.writeMessage(messageType, message); err != nil {
				logger.Debug("websocket write failed", zap.String("remote", addr), zap.Error(err))
				return
			}
		}
	}
}
