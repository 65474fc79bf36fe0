package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// handleWS upgrades the connection and runs its read loop. Each socket
// gets a fresh connection id; the user id comes from the ?user query
// parameter so a reconnecting client can reclaim its seat.
func (s *Server) handleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			s.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		sess := session{
			conn: uuid.NewString(),
			user: r.URL.Query().Get("user"),
		}
		if sess.user == "" {
			sess.user = uuid.NewString()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		send := s.bcast.Register(sess.conn)
		defer func() {
			s.bcast.Deregister(sess.conn)
			s.engine.Disconnect(sess.conn)
		}()

		// Write pump. All outbound traffic for this socket funnels
		// through the send queue so writes stay serialized.
		go func() {
			for data := range send {
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					s.logger.Debug("websocket write failed", "conn", sess.conn, "error", err)
					cancel()
					return
				}
			}
		}()

		s.logger.Info("websocket connected", "conn", sess.conn, "user", sess.user)

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				s.logger.Debug("websocket read ended", "conn", sess.conn, "error", err)
				return
			}

			if reply := s.dispatch(sess, msg); reply != nil {
				data, err := json.Marshal(reply)
				if err != nil {
					s.logger.Error("marshaling reply failed", "error", err)
					continue
				}
				s.bcast.enqueue(sess.conn, data)
			}
		}
	}
}
