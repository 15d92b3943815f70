// Package hub fans batch progress out to the websocket connections of an
// account.
package hub

import (
	"encoding/json"
	"sync"

	"dropmates/internal/batch"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Account string
	Writer  Writer
}

// Message is the envelope every pushed frame uses.
type Message struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Body  any    `json:"body,omitempty"`
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Account] == nil {
		h.connections[conn.Account] = make(map[*Connection]struct{})
	}
	h.connections[conn.Account][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Account]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Account)
	}
}

func (h *Hub) Count(account string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[account])
}

// Broadcast writes message to every connection of account. Connections that
// fail a write are closed and dropped.
func (h *Hub) Broadcast(account string, message []byte) {
	h.mu.RLock()
	set := h.connections[account]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

func (h *Hub) Publish(account, event string, body any) error {
	out, err := json.Marshal(Message{Type: "update", Event: event, Body: body})
	if err != nil {
		return err
	}
	h.Broadcast(account, out)
	return nil
}

// BatchObserver publishes every coordinator event for account as a "batch"
// update.
func (h *Hub) BatchObserver(account string) batch.Observer {
	return batch.ObserverFunc(func(e batch.Event) {
		_ = h.Publish(account, "batch", e)
	})
}
