// Package monitor fans broker events out to read-only WebSocket watchers.
//
// The broker loop is single-threaded and must never wait on a watcher, so
// the Hub's Observer methods only encode the event and try a non-blocking
// enqueue; the Hub's own goroutine does the fan-out.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/pipechat/internal/wire"
)

const eventBuffer = 256

// Hub tracks watchers and relays broker events to them.
type Hub struct {
	watchers   map[*Watcher]bool
	events     chan []byte
	register   chan *Watcher
	unregister chan *Watcher
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	sessions atomic.Int64
	relayed  atomic.Uint64
	dropped  atomic.Uint64

	log zerolog.Logger
	now func() time.Time
}

// NewHub creates a Hub. Call Run to start delivering events.
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		watchers:   make(map[*Watcher]bool),
		events:     make(chan []byte, eventBuffer),
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.With().Str("component", "monitor").Logger(),
		now:        time.Now,
	}
}

// SessionJoined implements broker.Observer.
func (h *Hub) SessionJoined(id int32, nickname string) {
	h.sessions.Add(1)
	h.publish(Event{Type: EventJoined, ID: id, Nickname: nickname})
}

// SessionLeft implements broker.Observer.
func (h *Hub) SessionLeft(id int32, nickname string, reason string) {
	h.sessions.Add(-1)
	h.publish(Event{Type: EventLeft, ID: id, Nickname: nickname, Reason: reason})
}

// MessageRelayed implements broker.Observer.
func (h *Hub) MessageRelayed(msg wire.Message, recipients int) {
	h.relayed.Add(1)
	h.publish(Event{
		Type:       EventMessage,
		ID:         msg.ID,
		Nickname:   msg.NicknameString(),
		Payload:    msg.PayloadString(),
		Recipients: recipients,
	})
}

func (h *Hub) publish(ev Event) {
	ev.Time = h.now()
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("Error encoding event")
		return
	}
	select {
	case h.events <- payload:
	default:
		h.dropped.Add(1)
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Sessions: int(h.sessions.Load()),
		Watchers: h.WatcherCount(),
		Relayed:  h.relayed.Load(),
		Dropped:  h.dropped.Load(),
	}
}

// WatcherCount returns the number of registered watchers.
func (h *Hub) WatcherCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.watchers)
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownWatchers()
			return

		case w := <-h.register:
			if w == nil {
				continue
			}
			h.mutex.Lock()
			h.watchers[w] = true
			count := len(h.watchers)
			h.mutex.Unlock()
			h.log.Info().Str("watcher", w.id).Str("addr", w.addr).Int("watchers", count).Msg("Watcher registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				w.writePump()
			}()
			go func() {
				defer h.wg.Done()
				w.readPump()
			}()

		case w := <-h.unregister:
			h.remove(w, "Watcher unregistered")

		case payload := <-h.events:
			h.fanOut(payload)
		}
	}
}

// Register hands a watcher to the hub. It returns false once the hub stopped.
func (h *Hub) Register(w *Watcher) bool {
	select {
	case h.register <- w:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) fanOut(payload []byte) {
	h.mutex.RLock()
	var slow []*Watcher
	for w := range h.watchers {
		select {
		case w.send <- payload:
		default:
			slow = append(slow, w)
		}
	}
	h.mutex.RUnlock()

	for _, w := range slow {
		h.remove(w, "Watcher removed due to full send buffer")
	}
}

func (h *Hub) remove(w *Watcher, msg string) {
	h.mutex.Lock()
	if _, ok := h.watchers[w]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.watchers, w)
	count := len(h.watchers)
	h.mutex.Unlock()

	close(w.send)
	h.log.Info().Str("watcher", w.id).Str("addr", w.addr).Int("watchers", count).Msg(msg)
}

func (h *Hub) shutdownWatchers() {
	h.mutex.Lock()
	watchers := make([]*Watcher, 0, len(h.watchers))
	for w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mutex.Unlock()

	for _, w := range watchers {
		if err := w.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn().Err(err).Str("watcher", w.id).Msg("Error closing watcher connection")
		}
	}
	h.log.Info().Int("watchers", len(watchers)).Msg("Closed watcher connections")
}

// Shutdown stops Run and waits for watcher goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("Hub shutdown timeout reached, some watcher goroutines may still be running")
		return context.DeadlineExceeded
	}
}
