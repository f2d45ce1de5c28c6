// Package monitor exposes HTTP handlers, including the WebSocket event feed,
// health and stats endpoints, and the built-in viewer page.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server bundles the hub with the HTTP handlers that expose it.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer creates the handler set for hub. Only origins in allowedOrigins
// (or "*") may open the WebSocket feed.
func NewServer(hub *Hub, allowedOrigins []string, log zerolog.Logger) *Server {
	log = log.With().Str("component", "monitor_http").Logger()
	policy := newOriginPolicy(allowedOrigins, log)
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		log: log,
	}
}

// WebSocketHandler upgrades GET requests and registers a watcher with the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	watcher := NewWatcher(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(watcher) {
		_ = conn.Close()
	}
}

// StatsHandler serves hub counters as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Stats()); err != nil {
		s.log.Debug().Err(err).Msg("Error writing stats response")
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "pipechat broker is running!")
}

// ViewPageHandler serves a minimal page that follows the event feed.
func ViewPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, viewPage, r.Host)
}

const viewPage = `<!DOCTYPE html>
<html>
<head>
    <title>pipechat monitor</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #events { border: 1px solid #ccc; height: 400px; padding: 10px; overflow-y: scroll; background-color: #f9f9f9; }
        .nick { color: green; font-weight: bold; }
        .meta { color: gray; }
    </style>
</head>
<body>
    <h1>pipechat monitor</h1>
    <div id="events"></div>
    <script>
        const events = document.getElementById('events');
        function add(html) {
            const el = document.createElement('div');
            el.innerHTML = html;
            events.appendChild(el);
            events.scrollTop = events.scrollHeight;
        }
        function esc(s) {
            const d = document.createElement('div');
            d.textContent = s;
            return d.innerHTML;
        }
        const ws = new WebSocket('ws://%s/ws');
        ws.onmessage = function(e) {
            const ev = JSON.parse(e.data);
            if (ev.type === 'message') {
                add('<span class="nick">' + esc(ev.nickname) + ':</span> ' + esc(ev.payload));
            } else if (ev.type === 'left') {
                add('<span class="meta">' + esc(ev.nickname) + ' left (' + esc(ev.reason) + ')</span>');
            } else {
                add('<span class="meta">' + esc(ev.nickname) + ' joined</span>');
            }
        };
        ws.onclose = function() { add('<span class="meta">feed closed</span>'); };
    </script>
</body>
</html>`
