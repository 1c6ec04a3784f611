package httpapi

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleFeed streams journal events over a websocket: a snapshot of recent
// deliveries first, then live updates until the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	recent, err := s.journal.Recent(ctx, 50)
	if err != nil {
		s.logger.Warn("feed snapshot failed", "error", err)
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if err := wsjson.Write(ctx, conn, recent[i]); err != nil {
			return
		}
	}

	events, cancel := s.journal.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case entry, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, entry); err != nil {
				return
			}
		}
	}
}
