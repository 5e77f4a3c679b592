// Package relay wires the HTTP handlers into a ServeMux.
package relay

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application
// routes: health check, stats, and the WebSocket endpoint.
func (e *Engine) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/stats", e.StatsHandler)
	mux.HandleFunc("/ws/", e.WebSocketHandler)
	return mux
}
