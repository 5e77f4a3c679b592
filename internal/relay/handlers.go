// Package relay exposes the HTTP surface: WebSocket upgrades, the health
// check, and the stats endpoint.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// WebSocketHandler upgrades GET requests on /ws/{room} and hands the
// resulting connection to the engine. The final path segment is the room
// identifier; its validation happens inside the engine after admission, so
// violations surface as WebSocket close codes rather than HTTP errors.
func (e *Engine) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Info("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	e.HandleConnection(conn, roomIDFromPath(r.URL.Path), r.RemoteAddr)
}

// roomIDFromPath extracts the final path segment. Junk paths yield junk
// identifiers that fail room-id validation downstream.
func roomIDFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}

// HealthHandler provides a plain-text liveness check.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relay server is running")
}

// StatsHandler reports aggregate room and member counts as JSON.
func (e *Engine) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, members := e.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "clients": members}); err != nil {
		e.log.Debug("error writing stats response", "error", err)
	}
}
