// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/strmforge/vodpull/internal/metrics"
	"github.com/strmforge/vodpull/internal/scheduler"
)

const (
	wsBroadcastBuffer = 64
	wsClientBuffer    = 256

	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsReadLimit    = 512
)

// wsClient is one connected progress subscriber.
type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans scheduler progress events out to WebSocket clients. The
// clients map is owned by the run goroutine; everything else talks to it
// through the channels.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	count      atomic.Int64
	logger     zerolog.Logger
}

func newWSHub(logger zerolog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, wsBroadcastBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			h.logger.Debug().Str("event", "ws.hub_stopped").Msg("progress hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.Debug().Str("event", "ws.client_connected").Int("total", len(h.clients)).Msg("client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				h.logger.Debug().Str("event", "ws.client_disconnected").Int("total", len(h.clients)).Msg("client disconnected")
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// The client is not keeping up; disconnecting it
					// beats stalling everyone else.
					close(client.send)
					delete(h.clients, client)
					h.setCount(len(h.clients))
					h.logger.Warn().Str("event", "ws.client_dropped").Msg("slow client disconnected")
				}
			}
		}
	}
}

func (h *wsHub) setCount(n int) {
	h.count.Store(int64(n))
	metrics.SetWSClients(n)
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

// pump forwards the scheduler's global progress feed into the hub until
// the feed closes. A full broadcast buffer drops the event; the next
// event carries full snapshot state, so clients recover on their own.
func (h *wsHub) pump(events <-chan scheduler.Progress) {
	for p := range events {
		data, err := json.Marshal(p)
		if err != nil {
			h.logger.Error().Err(err).Str("event", "ws.marshal_failed").Str("job_id", p.JobID).Msg("progress marshal failed")
			continue
		}
		select {
		case h.broadcast <- data:
		case <-h.done:
			return
		default:
			metrics.RecordProgressDrop("websocket")
		}
	}
}

// Close stops the hub and disconnects every client.
func (h *wsHub) Close() {
	close(h.done)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleProgressWS upgrades the connection and attaches it to the hub.
// The new client is seeded with a snapshot of every known job so it can
// render without a REST round-trip; deltas follow via the hub.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		s.logger.Warn().Err(err).Str("event", "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, wsClientBuffer)}
	for _, p := range s.queue.GetAll() {
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. It owns all writes on the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes the connection until it errors so control frames are
// processed; the stream is write-only for clients.
func (c *wsClient) readPump() {
	defer func() {
		c.detach()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// detach unregisters without blocking against a stopped hub.
func (c *wsClient) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}
