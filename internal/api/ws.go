package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/monerizer/monerizerd/internal/swap"
	"github.com/monerizer/monerizerd/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSEvent is one message on the event feed.
type WSEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// EventSwapUpdate carries a swap after a committed state change.
const EventSwapUpdate = "swap_update"

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub broadcasts swap updates to connected admin clients. It also
// satisfies swap.Notifier so the engine can push updates directly.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan *WSEvent
	register   chan *wsClient
	unregister chan *wsClient
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Call Run in a goroutine before serving.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan *WSEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        logging.GetDefault().Component("ws"),
	}
}

// Run is the hub event loop; it exits when the broadcast channel closes.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event, ok := <-h.broadcast:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("Failed to marshal event", "error", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client; drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// NotifySwap implements swap.Notifier.
func (h *WSHub) NotifySwap(s *swap.Swap) {
	h.Broadcast(&WSEvent{
		Type:      EventSwapUpdate,
		Data:      s,
		Timestamp: time.Now().Unix(),
	})
}

// Broadcast queues an event for all clients; drops it if the hub is
// backed up.
func (h *WSHub) Broadcast(event *WSEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// HandleWS upgrades a connection and attaches it to the hub.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- client

	go client.writeLoop()
	go client.readLoop(h)
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop drains the connection so pings are answered and closes are
// noticed; inbound payloads are ignored.
func (c *wsClient) readLoop(h *WSHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
