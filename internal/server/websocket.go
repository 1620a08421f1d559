package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait   = 10 * time.Second
	clientQueue = 16
)

// Message is one frame of the websocket feed.
type Message struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to websocket clients. Clients that fall behind
// are disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	snapshot func() Message

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub returns a hub that greets each new client with snapshot(), when
// set.
func NewHub(logger *zap.Logger, snapshot func() Message) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:   logger.Named("websocket"),
		snapshot: snapshot,
		clients:  make(map[*wsClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	if h.snapshot != nil {
		if data, err := json.Marshal(h.snapshot()); err == nil {
			client.send <- data
		}
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(client)
	h.readLoop(client)
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client lagging, disconnecting")
			h.removeLocked(client)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

// readLoop discards inbound frames until the peer goes away.
func (h *Hub) readLoop(client *wsClient) {
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
}

func (h *Hub) writeLoop(client *wsClient) {
	defer client.conn.Close()
	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("write failed", zap.Error(err))
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) removeLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}
