// Package broadcast fans repository change notifications, bandwidth samples
// and alerts out to connected WebSocket clients. Slow clients get dropped
// messages, never a blocked scheduler.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/metrics"
	"github.com/jrelva/stashd/internal/repo"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Message is the wire envelope pushed to every client.
type Message struct {
	Type      string         `json:"type"`
	Download  *data.Download `json:"download,omitempty"`
	Bandwidth []float64      `json:"bandwidth,omitempty"`
	Name      string         `json:"name,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub implements repo.Notifier and the scheduler's event sink.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Notify implements repo.Notifier.
func (h *Hub) Notify(kind repo.EventKind, d *data.Download) {
	h.publish(Message{Type: string(kind), Download: d})
}

// NotifyBandwidth pushes the utilization history after each tick.
func (h *Hub) NotifyBandwidth(samples []float64) {
	h.publish(Message{Type: "Bandwidth", Bandwidth: samples})
}

// Alert surfaces a background failure the user would otherwise never see.
func (h *Hub) Alert(name string, err error) {
	h.publish(Message{Type: "Alert", Name: name, Error: err.Error()})
}

func (h *Hub) publish(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("broadcast marshal", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// client is not keeping up; it can resync over the REST API
			metrics.BroadcastDrops.Inc()
		}
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error("websocket accept", "err", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client connected", "remote", r.RemoteAddr, "clients", n)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// reader: only needed to observe close frames
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		case b := <-c.send:
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err := conn.Write(ctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, c)
	}
}
