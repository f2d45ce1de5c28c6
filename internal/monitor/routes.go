// Package monitor wires HTTP handlers into a ServeMux via routing helpers.
package monitor

import "net/http"

// Routes returns a ServeMux with the health, feed, stats and viewer routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	mux.HandleFunc("/view", ViewPageHandler)
	return mux
}
