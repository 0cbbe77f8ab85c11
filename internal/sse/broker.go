// Package sse implements the localhost-only Server-Sent Events broker
// that streams lifecycle notifications to connected clients (§4.8).
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pingInterval keeps idle connections warm and lets the broker detect
// dead subscribers (§4.8 "a 30 s ping keeps connections warm").
const pingInterval = 30 * time.Second

// sendTimeout bounds how long a single subscriber write may block
// before it is treated as dead.
const sendTimeout = 5 * time.Second

// event names (§6.4).
const (
	EventObservationCreated   = "observation-created"
	EventObservationProcessed = "observation-processed"
	EventSessionSummary       = "session-summary-created"
	EventUserPromptCreated    = "user-prompt-created"
	EventPing                 = "ping"
)

// client is one registered SSE subscriber.
type client struct {
	id   string
	send chan []byte
	done chan struct{}
}

// Broker tracks localhost subscribers and fans broadcast events out to
// all of them, grounded in the connection-registry / broadcast shape of
// the teacher's websocket ConnectionManager adapted to one-way SSE.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*client

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBroker constructs a Broker and starts its ping loop.
func NewBroker() *Broker {
	b := &Broker{
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.pingLoop()
	return b
}

// IsLocalAddr reports whether remoteAddr (as seen by the HTTP server,
// "host:port" or bare host) normalizes to localhost (§4.8).
func IsLocalAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	switch strings.ToLower(host) {
	case "127.0.0.1", "::1", "::ffff:127.0.0.1", "localhost":
		return true
	}
	return false
}

// ServeHTTP implements the /stream handler: it admits only localhost
// clients, registers a subscriber, and streams events until the client
// disconnects or the broker stops.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !IsLocalAddr(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := b.addClient()
	defer b.removeClient(c.id)

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-c.done:
			return
		case <-r.Context().Done():
			return
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) addClient() *client {
	c := &client{
		id:   uuid.New().String(),
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	return c
}

func (b *Broker) removeClient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(c.done)
	}
}

// SubscriberCount reports the number of currently registered clients.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// broadcast serializes an SSE frame ("event: name\ndata: json\n\n") and
// fans it out to every registered client, reaping any that can't keep
// up within sendTimeout (§4.8 "collecting dead clients for reaping").
func (b *Broker) broadcast(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("sse: marshal event payload failed", "event", event, "error", err)
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var dead []string
	for _, c := range clients {
		select {
		case c.send <- frame:
		case <-time.After(sendTimeout):
			dead = append(dead, c.id)
		}
	}
	for _, id := range dead {
		slog.Warn("sse: reaping unresponsive subscriber", "client_id", id)
		b.removeClient(id)
	}
}

func (b *Broker) pingLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.broadcast(EventPing, map[string]int64{"ts": time.Now().Unix()})
		case <-b.stopCh:
			return
		}
	}
}

// Stop closes every registered client and halts the ping loop.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		close(c.done)
		delete(b.clients, id)
	}
}
