package gameplay

import (
	"context"

	"gametable/server/logging"
)

const (
	// EventActionApplied is emitted after a successful mutate-persist-broadcast run.
	EventActionApplied logging.EventType = "gameplay.action_applied"
	// EventActionRejected is emitted when the rules capability rejects an action.
	EventActionRejected logging.EventType = "gameplay.action_rejected"
	// EventPipelineFailure is emitted when the rules capability or store fails.
	EventPipelineFailure logging.EventType = "gameplay.pipeline_failure"
	// EventRestarted is emitted when a game state is rebuilt from setup.
	EventRestarted logging.EventType = "gameplay.restarted"
	// EventRestored is emitted when an operator restores a serialized state.
	EventRestored logging.EventType = "gameplay.restored"
)

// ActionPayload captures enough context to reproduce a pipeline run.
type ActionPayload struct {
	Verb   string `json:"verb,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func ActionApplied(ctx context.Context, pub logging.Publisher, gameID int64, role string, payload ActionPayload) {
	publish(ctx, pub, EventActionApplied, gameID, role, logging.SeverityInfo, payload)
}

func ActionRejected(ctx context.Context, pub logging.Publisher, gameID int64, role string, payload ActionPayload) {
	publish(ctx, pub, EventActionRejected, gameID, role, logging.SeverityWarn, payload)
}

func PipelineFailure(ctx context.Context, pub logging.Publisher, gameID int64, role string, payload ActionPayload) {
	publish(ctx, pub, EventPipelineFailure, gameID, role, logging.SeverityError, payload)
}

func Restarted(ctx context.Context, pub logging.Publisher, gameID int64, role string, payload ActionPayload) {
	publish(ctx, pub, EventRestarted, gameID, role, logging.SeverityInfo, payload)
}

func Restored(ctx context.Context, pub logging.Publisher, gameID int64, role string, payload ActionPayload) {
	publish(ctx, pub, EventRestored, gameID, role, logging.SeverityInfo, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, gameID int64, role string, severity logging.Severity, payload ActionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		GameID:   gameID,
		Actor:    logging.RoleActor(role),
		Severity: severity,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}
