package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleEvents streams a running session's transcript entries over a
// WebSocket, one JSON entry per message. The connection closes normally
// when the session finishes; connecting to a session that is not in
// flight is a 404.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	backlog, events, ok := s.hub.Subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s is not in flight", id))
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("server: websocket accept: %v", err)
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	for _, e := range backlog {
		if err := wsjson.Write(ctx, c, e); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-events:
			if !open {
				c.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
			if err := wsjson.Write(ctx, c, e); err != nil {
				return
			}
		}
	}
}
