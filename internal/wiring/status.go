package wiring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/cwpd/pkg/logging"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType identifies a kind of status event broadcast over the
// status websocket.
type EventType string

const (
	// EventAdmitted fires when a contract is newly admitted into the
	// hosting cache.
	EventAdmitted EventType = "hosted_admitted"
	// EventEvicted fires when the cache evicts a contract under
	// admission pressure.
	EventEvicted EventType = "hosted_evicted"
	// EventCommitmentUpdated fires when the subscriber hook pushes a
	// fresh commitment figure for a hosted contract.
	EventCommitmentUpdated EventType = "commitment_updated"
	// EventOracleHealth reports the oracle subscriber/relayer's
	// connectivity state.
	EventOracleHealth EventType = "oracle_health"
)

// StatusEvent is one message broadcast to subscribed status clients.
type StatusEvent struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type statusSubscription struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

// StatusClient is one connected status websocket client.
type StatusClient struct {
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[EventType]bool
	mu            sync.RWMutex
	hub           *StatusHub
}

// StatusHub fans hosting-cache and oracle lifecycle events out to every
// connected status websocket client, mirroring the host node's existing
// event-hub pattern.
type StatusHub struct {
	clients    map[*StatusClient]bool
	broadcast  chan *StatusEvent
	register   chan *StatusClient
	unregister chan *StatusClient
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewStatusHub creates an empty status hub. Run must be started before
// Broadcast does anything useful.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*StatusClient]bool),
		broadcast:  make(chan *StatusEvent, 256),
		register:   make(chan *StatusClient),
		unregister: make(chan *StatusClient),
		log:        logging.Default().Component("status"),
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *StatusHub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("status client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("status client disconnected", "clients", len(h.clients))

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal status event", "err", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				client.mu.RLock()
				subscribed := client.subscriptions[event.Type] || len(client.subscriptions) == 0
				client.mu.RUnlock()
				if !subscribed {
					continue
				}

				select {
				case client.send <- data:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for delivery to subscribed clients. It
// never blocks: a full broadcast channel drops the event and logs a
// warning rather than stalling the caller's owning goroutine.
func (h *StatusHub) Broadcast(eventType EventType, data interface{}) {
	event := &StatusEvent{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("status broadcast channel full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of currently connected status clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a status websocket connection.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("status websocket upgrade failed", "err", err)
		return
	}

	client := &StatusClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
		hub:           h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *StatusClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("status websocket read error", "err", err)
			}
			break
		}

		var sub statusSubscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(&sub)
		}
	}
}

func (c *StatusClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *StatusClient) handleSubscription(sub *statusSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, eventStr := range sub.Events {
		eventType := EventType(eventStr)
		switch sub.Action {
		case "subscribe":
			c.subscriptions[eventType] = true
		case "unsubscribe":
			delete(c.subscriptions, eventType)
		}
	}
}
