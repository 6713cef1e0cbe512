package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serializes writes: the notifier and the handler both write.
type wsConn struct {
	mu sync.Mutex
	*websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// SubscriptionStream handles GET /api/subscriptions/{id}/ws. Matching
// notifications are pushed as JSON text frames until the client
// disconnects. The first frame confirms the registration.
func (s *Server) SubscriptionStream(w http.ResponseWriter, r *http.Request) {
	if s.subMgr == nil {
		http.Error(w, "subscription manager not initialized", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.subMgr.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	conn := &wsConn{Conn: ws}
	if err := s.subMgr.RegisterWSClient(id, conn); err != nil {
		ws.Close()
		return
	}
	defer s.subMgr.UnregisterWSClient(id, conn)

	if err := conn.WriteJSON(map[string]string{
		"action":          "subscribed",
		"subscription_id": id,
	}); err != nil {
		return
	}

	// Clients only listen. Reading detects the disconnect and services
	// control frames.
	for {
		if _, _, err := ws.NextReader(); err != nil {
			s.logger.Info("websocket client disconnected",
				slog.String("subscription_id", id),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
