package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/valorence/relayctl/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsInterval parses the ?interval_ms query param, falling back to 1s; Hub
// itself clamps into [0.5s, 10s] regardless of what is requested here.
func wsInterval(r *http.Request) time.Duration {
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Second
}

// authenticateWS performs §4.8's "authentication on connect": it upgrades
// first, then authenticates, so a failure can be reported as a text frame
// followed by a 1008 close rather than a bare HTTP error — the two valid
// shapes §7 allows for a WebSocket auth failure.
func (s *Server) authenticateWS(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, false
	}
	p, ok := s.authenticate(r)
	if !ok || !roleAtLeast(p.role, auth.RoleUser) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("unauthorized"))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(time.Second))
		conn.Close()
		return nil, false
	}
	return conn, true
}

func (s *Server) handleRelayStateWS(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.authenticateWS(w, r)
	if !ok {
		return
	}
	s.hub.Serve(r.Context(), conn, wsInterval(r))
}

func (s *Server) handleSensorWS(w http.ResponseWriter, r *http.Request) {
	_ = chi.URLParam(r, "id") // the hub streams every source; a single-source
	// filter is a front-end concern given the small, fixed sensor count.
	conn, ok := s.authenticateWS(w, r)
	if !ok {
		return
	}
	s.hub.Serve(r.Context(), conn, wsInterval(r))
}
