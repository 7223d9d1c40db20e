package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev relay, no browser origin policy to enforce
}

// socketHub tracks connected sockets so a pushed event can be broadcast:
// an HTTP push goes to every connected socket, a socket push to every
// socket except the one it arrived on.
type socketHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newSocketHub() *socketHub {
	return &socketHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *socketHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *socketHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// broadcastAll sends each event as a standalone JSON object (the shape a
// client socket reader expects) to every connection except exclude.
func (h *socketHub) broadcastAll(events []WireEvent, exclude *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if c == exclude {
			continue
		}
		for _, evt := range events {
			if err := c.WriteJSON(evt); err != nil {
				break
			}
		}
	}
}

// handleSocket upgrades GET /ws?token=<url-encoded-token> to a persistent
// connection: inbound frames carry the push-request {events:[...]} shape,
// which are stored and broadcast to every other connected socket; an
// inbound {"type":"ping"} is a heartbeat no-op.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, err := verifyToken(s.signingKey, token); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.hub.add(conn)
	defer s.hub.remove(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &probe) == nil && probe.Type == "ping" {
			continue
		}

		var req PushRequest
		if json.Unmarshal(data, &req) != nil || len(req.Events) == 0 {
			s.logger.Warn("dropping malformed socket frame")
			continue
		}
		if _, _, err := s.store.insert(r.Context(), req.Events); err != nil {
			s.logger.Error("insert socket-pushed events", "error", err)
			continue
		}
		s.hub.broadcastAll(req.Events, conn)
	}
}
