package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced on the router; the watch events carry nothing a
	// same-origin policy would protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams watch events as JSON.
// The subscriber first receives a status snapshot and the recent log
// backfill, then live events until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.Watch.Subscribe(r.Context())
	defer s.Watch.Unsubscribe(sub)

	// Reader loop: we expect no client messages, only the close that tells
	// us to drop the subscription.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Logger.Info("events_subscriber_attached", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.Logger.Debug("events_write_failed", zap.Error(err))
				return
			}
		}
	}
}
