// Package ws upgrades HTTP requests into websocket sessions and bridges
// them to the session engine: each upgraded connection becomes a room
// member, and every inbound frame is decoded and dispatched as one engine
// operation.
package ws

import (
	"log"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"gametable/server/internal/session"
)

// Identity is an authenticated user as resolved by the Authenticator.
type Identity struct {
	UserID int64
	Name   string
}

// Authenticator resolves the requesting user before the upgrade. The
// engine never sees unauthenticated traffic.
type Authenticator interface {
	Authenticate(r *nethttp.Request) (Identity, error)
}

type HandlerConfig struct {
	Logger *log.Logger
}

type Handler struct {
	engine   *session.Engine
	auth     Authenticator
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(engine *session.Engine, auth Authenticator, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		engine:   engine,
		auth:     auth,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle authenticates and upgrades the request, joins the game room named
// in the query string, then serves the connection's read loop until it
// drops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		nethttp.Error(w, "unauthorized", nethttp.StatusUnauthorized)
		return
	}

	gameID, err := strconv.ParseInt(r.URL.Query().Get("game"), 10, 64)
	if err != nil {
		nethttp.Error(w, "missing or invalid game", nethttp.StatusBadRequest)
		return
	}
	titleID := r.URL.Query().Get("title")
	role := r.URL.Query().Get("role")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for user %d: %v", identity.UserID, err)
		return
	}

	sess, err := h.engine.Connect(r.Context(), session.ConnectRequest{
		GameID:      gameID,
		TitleID:     titleID,
		UserID:      identity.UserID,
		UserName:    identity.Name,
		ClaimedRole: role,
		Socket:      &wsSocket{conn: conn},
	})
	if err != nil {
		h.logger.Printf("rejected connection from user %d to game %d: %v", identity.UserID, gameID, err)
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not authorized for game")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	h.serve(conn, sess)
}

// wsSocket adapts a gorilla websocket connection to the room transport
// interface. Write serialization lives in the room connection, not here.
type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Write(data []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}
