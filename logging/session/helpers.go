package session

import (
	"context"

	"gametable/server/logging"
)

const (
	// EventConnected is emitted when a connection authorizes into a room.
	EventConnected logging.EventType = "session.connected"
	// EventDisconnected is emitted when a connection detaches from a room.
	EventDisconnected logging.EventType = "session.disconnected"
	// EventRoleDenied is emitted when a claimed role is not assigned to the user.
	EventRoleDenied logging.EventType = "session.role_denied"
)

// ConnPayload identifies one connection inside a room.
type ConnPayload struct {
	ConnID string `json:"connId"`
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

// Connected publishes an info event for a successful attach.
func Connected(ctx context.Context, pub logging.Publisher, gameID int64, payload ConnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnected,
		GameID:   gameID,
		Actor:    logging.RoleActor(payload.Role),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySession,
		Payload:  payload,
	})
}

// Disconnected publishes an info event for a detach.
func Disconnected(ctx context.Context, pub logging.Publisher, gameID int64, payload ConnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDisconnected,
		GameID:   gameID,
		Actor:    logging.RoleActor(payload.Role),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySession,
		Payload:  payload,
	})
}

// RoleDenied publishes a warning when a claimed role is rejected.
func RoleDenied(ctx context.Context, pub logging.Publisher, gameID int64, payload ConnPayload, claimed string) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventRoleDenied,
		GameID:   gameID,
		Actor:    logging.RoleActor(payload.Role),
		Severity: logging.SeverityWarn,
		Category: logging.CategorySession,
		Payload:  payload,
	}
	pub.Publish(ctx, event.WithExtra("claimed", claimed))
}
