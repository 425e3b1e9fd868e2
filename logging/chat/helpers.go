package chat

import (
	"context"

	"gametable/server/logging"
)

const (
	// EventPosted is emitted when a chat message is appended to a transcript.
	EventPosted logging.EventType = "chat.posted"
	// EventResync is emitted when a reconnecting client rewinds its chat cursor.
	EventResync logging.EventType = "chat.resync"
)

// Payload captures transcript progression without the message body.
type Payload struct {
	Length int `json:"length"`
	Since  int `json:"since,omitempty"`
}

func Posted(ctx context.Context, pub logging.Publisher, gameID int64, user string, payload Payload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPosted,
		GameID:   gameID,
		Actor:    logging.ActorRef{ID: user, Kind: logging.ActorKindUser},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryChat,
		Payload:  payload,
	})
}

func Resync(ctx context.Context, pub logging.Publisher, gameID int64, user string, payload Payload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResync,
		GameID:   gameID,
		Actor:    logging.ActorRef{ID: user, Kind: logging.ActorKindUser},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryChat,
		Payload:  payload,
	})
}
