package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openguenther/guenther/internal/terminallog"
)

const terminalBanner = "G U E N T H E R  v1.0 - MCP Agent Terminal"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server is self-hosted; the UI may run on another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams the terminal log over a WebSocket. The connection
// opens with a banner event, then replays recent history and follows the
// live feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.jsonError(w, http.StatusInternalServerError, "Terminal-Stream ist nicht verfügbar")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, recent, cancel := s.bus.Subscribe(64)
	defer cancel()

	banner := terminallog.Event{
		Type:    terminallog.TypeHeader,
		Message: terminalBanner,
		Time:    time.Now(),
	}
	if err := conn.WriteJSON(banner); err != nil {
		return
	}
	for _, e := range recent {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	// Drain client frames so close and ping control messages are handled.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
