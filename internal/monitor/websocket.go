// SPDX-License-Identifier: MIT
package monitor

import (
	"net/http"
	"sync"
	"time"

	applog "csi/internal/log"

	"github.com/gorilla/websocket"
)

const writeWait = time.Second

// Hub fans JSON messages out to every connected WebSocket client.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboards are served from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 16),
		done:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.handleBroadcasts()
	return h
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("Monitor: upgrade error: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()
	applog.Infof("Monitor: client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients never send anything; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	total := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		conn.Close()
		applog.Infof("Monitor: client disconnected, total: %d", total)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleBroadcasts() {
	defer h.wg.Done()
	for {
		select {
		case data := <-h.broadcast:
			h.clientsMu.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					applog.Debugf("Monitor: error sending to client: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.clientsMu.Unlock()
		case <-h.done:
			return
		}
	}
}

// Send queues data for every client. When the broadcast queue is full the
// message is dropped; the next one carries fresher numbers anyway.
func (h *Hub) Send(data any) error {
	select {
	case h.broadcast <- data:
	default:
		applog.Debugf("Monitor: broadcast queue full, message dropped")
	}
	return nil
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.clientsMu.Lock()
		for client := range h.clients {
			client.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
	})
	return nil
}
