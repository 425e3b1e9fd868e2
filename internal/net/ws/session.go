package ws

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"gametable/server/internal/net/proto"
	"gametable/server/internal/room"
)

// serve runs the connection's read loop. Every decoded frame becomes one
// engine call; the engine enforces role authorization and serialization,
// so the loop stays a thin dispatcher. A read error of any kind ends the
// session.
func (h *Handler) serve(conn *websocket.Conn, sess *room.Conn) {
	ctx := context.Background()
	defer h.engine.Disconnect(ctx, sess)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg proto.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", sess.ID, err)
			continue
		}

		switch msg.Type {
		case proto.TypeAction:
			if msg.Verb == "" {
				continue
			}
			h.engine.Action(ctx, sess, msg.Verb, msg.Noun)
		case proto.TypeResign:
			h.engine.Resign(ctx, sess)
		case proto.TypeChat:
			if msg.Text == "" {
				continue
			}
			h.engine.Chat(ctx, sess, msg.Text)
		case proto.TypeGetChat:
			h.engine.GetChat(ctx, sess, msg.Since)
		case proto.TypeSave:
			h.engine.Save(ctx, sess)
		case proto.TypeRestore:
			if len(msg.State) == 0 {
				continue
			}
			h.engine.Restore(ctx, sess, msg.State)
		case proto.TypeRestart:
			h.engine.Restart(ctx, sess, msg.Scenario)
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, sess.ID)
		}
	}
}
