package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// HubPath is the route prefix clients connect to: /ws/orders/{orderID}
const HubPath = "/ws/orders/"

// client is one websocket subscriber of an order
type client struct {
	conn    *websocket.Conn
	orderID string
	send    chan []byte
}

// Hub manages websocket clients grouped by order ID
type Hub struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub creates a new websocket hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams the order's events until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, HubPath), "/")
	if orderID == "" || strings.Contains(orderID, "/") {
		http.Error(w, "order id required", http.StatusBadRequest)
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		c := &client{
			conn:    conn,
			orderID: orderID,
			send:    make(chan []byte, 256),
		}
		h.register(c)
		defer h.unregister(c)

		h.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"remote":   conn.Request().RemoteAddr,
		}).Info("client connected")

		// write pump
		go func() {
			for msg := range c.send {
				if _, err := conn.Write(msg); err != nil {
					return
				}
			}
		}()

		// read pump, only for close detection
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}).ServeHTTP(w, r)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.orderID] == nil {
		h.clients[c.orderID] = make(map[*client]struct{})
	}
	h.clients[c.orderID][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.clients, c.orderID)
	}
	h.log.WithField("order_id", c.orderID).Info("client disconnected")
}

// Subscribers returns the number of clients watching orderID.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[orderID])
}

// Publish broadcasts evt to every client subscribed to its order.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[evt.OrderID] {
		select {
		case c.send <- data:
		default:
			h.log.WithField("order_id", evt.OrderID).Warn("client buffer full")
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	return nil
}
