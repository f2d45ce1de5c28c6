// Package monitor manages individual WebSocket watchers, handling read/write
// pumps and lifecycle control for each connection.
package monitor

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxInboundSize = 512
	sendBuffer     = 64
)

// Watcher is one read-only WebSocket subscriber.
type Watcher struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	addr string
}

// NewWatcher wraps conn for hub. Watchers never send chat; anything they
// write is read and discarded so control frames keep flowing.
func NewWatcher(conn *websocket.Conn, hub *Hub, addr string) *Watcher {
	if conn != nil {
		conn.SetReadLimit(maxInboundSize)
	}
	return &Watcher{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  hub,
		addr: addr,
	}
}

// ID returns the watcher's unique identifier.
func (w *Watcher) ID() string {
	return w.id
}

func (w *Watcher) readPump() {
	defer func() {
		select {
		case w.hub.unregister <- w:
		case <-w.hub.ctx.Done():
		}
		w.closeConnection()
	}()

	if err := w.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		w.hub.log.Debug().Err(err).Str("watcher", w.id).Msg("Error setting initial read deadline")
	}
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			w.logReadError(err)
			return
		}
	}
}

func (w *Watcher) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		w.hub.log.Debug().Str("watcher", w.id).Msg("Watcher disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		w.hub.log.Debug().Str("watcher", w.id).Err(err).Msg("Watcher connection closed")
	default:
		w.hub.log.Warn().Str("watcher", w.id).Err(err).Msg("Watcher read error")
	}
}

func (w *Watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.closeConnection()
	}()

	for {
		select {
		case payload, ok := <-w.send:
			if !w.handleMessage(payload, ok) {
				return
			}
		case <-ticker.C:
			if !w.handlePing() {
				return
			}
		case <-w.hub.ctx.Done():
			return
		}
	}
}

// handleMessage writes one event and returns false if the pump should stop.
func (w *Watcher) handleMessage(payload []byte, ok bool) bool {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		if err := w.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			w.hub.log.Debug().Err(err).Str("watcher", w.id).Msg("Error writing close message")
		}
		return false
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		w.hub.log.Debug().Err(err).Str("watcher", w.id).Msg("Error writing event")
		return false
	}
	return true
}

func (w *Watcher) handlePing() bool {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	return w.conn.WriteMessage(websocket.PingMessage, nil) == nil
}

func (w *Watcher) closeConnection() {
	if err := w.conn.Close(); err != nil && !isExpectedCloseError(err) {
		w.hub.log.Debug().Err(err).Str("watcher", w.id).Msg("Error closing connection")
	}
}
