package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsMaxMessageLen = 1 << 20
)

// handleSessionWS is the primary duplex transport: frames, results and
// events flow out; commands, input and pings flow in.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageLen)

	// Unknown sessions still get a well-formed envelope before the close.
	sess, err := s.registry.GetSession(sessionID)
	if err != nil {
		msg := protocol.Serialize(protocol.NewEvent(protocol.EventError, map[string]any{
			"code":    protocol.ErrCodeSessionNotFound,
			"message": "session not found: " + sessionID,
		}))
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		return
	}

	c := s.attach(sess)
	defer s.detach(c)
	log.Info().Str("session_id", sessionID).Str("client_id", c.id).Msg("websocket client attached")

	tasks := make(chan deliveryTask, deliveryBuffer)
	go runDeliveries(c, tasks)
	go s.wsWriter(conn, c)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("websocket read failed")
			}
			return
		}
		s.handleClientMessage(sess, c, tasks, raw)
	}
}

// wsWriter is the single writer for one connection. Control messages are
// favored over frames so results and events are never starved by video.
func (s *Server) wsWriter(conn *websocket.Conn, c *client) {
	defer conn.Close()
	for {
		var msg []byte
		select {
		case msg = <-c.control:
		case <-c.closed:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return
		default:
			select {
			case msg = <-c.control:
			case msg = <-c.frames:
			case <-c.closed:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}
