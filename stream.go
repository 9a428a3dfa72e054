package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWriteTimeout = 5 * time.Second
	watchPongTimeout  = 60 * time.Second
	watchPingInterval = 30 * time.Second
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type watchClient struct {
	conn *websocket.Conn

	// guards writes; gorilla allows one concurrent writer only
	mu sync.Mutex
}

func (c *watchClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *watchClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// WatchHub fans committed boss mutations out to websocket subscribers.
// Subscribing to the empty location id watches every boss.
type WatchHub struct {
	mu          sync.Mutex
	subscribers map[string]map[*watchClient]struct{}
}

func NewWatchHub() *WatchHub {
	return &WatchHub{
		subscribers: make(map[string]map[*watchClient]struct{}),
	}
}

func (h *WatchHub) add(locationID string, client *watchClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[locationID]
	if !ok {
		set = make(map[*watchClient]struct{})
		h.subscribers[locationID] = set
	}
	set[client] = struct{}{}
}

func (h *WatchHub) remove(locationID string, client *watchClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subscribers[locationID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.subscribers, locationID)
		}
	}
}

func (h *WatchHub) clientsFor(locationID string) []*watchClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*watchClient, 0)
	for client := range h.subscribers[locationID] {
		clients = append(clients, client)
	}
	if locationID != "" {
		for client := range h.subscribers[""] {
			clients = append(clients, client)
		}
	}
	return clients
}

type watchMessage struct {
	Type string       `json:"type"`
	Boss BossSnapshot `json:"boss"`
}

// Broadcast delivers the snapshot to everyone watching its location. Slow
// or dead clients are dropped rather than waited on.
func (h *WatchHub) Broadcast(snapshot BossSnapshot) {
	payload, err := json.Marshal(watchMessage{Type: "boss_update", Boss: snapshot})
	if err != nil {
		return
	}
	for _, client := range h.clientsFor(snapshot.LocationID) {
		if err := client.send(payload); err != nil {
			client.conn.Close()
		}
	}
}

// watchHandler upgrades the connection and parks it on the hub. The read
// loop exists only to notice the close.
func watchHandler(hub *WatchHub, bosses *BossRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
		if locationID != "" && !isValidLocationID(locationID) {
			http.Error(w, "invalid locationId", http.StatusBadRequest)
			return
		}

		conn, err := watchUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("watch: upgrade failed:", err)
			return
		}

		client := &watchClient{conn: conn}
		hub.add(locationID, client)
		defer func() {
			hub.remove(locationID, client)
			conn.Close()
		}()

		// initial state so the client does not wait for the first hit
		if locationID != "" {
			if snapshot, err := bosses.Snapshot(locationID); err == nil {
				payload, err := json.Marshal(watchMessage{Type: "boss_state", Boss: snapshot})
				if err == nil {
					_ = client.send(payload)
				}
			}
		}

		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(watchPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(watchPongTimeout))
			return nil
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(watchPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			}
		}
	}
}
