// Package rules defines the boundary between the session core and the
// per-title game logic. The core never inspects a title's serialized state;
// it only moves Snapshot and View values across this interface.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RoleObserver is the role assigned to connections that watch a game
// without holding a seat. Observers receive views and chat but may not act.
const RoleObserver = "Observer"

// Active selector sentinels understood by clients.
const (
	ActiveNone = "None"
	ActiveAll  = "All"
	ActiveBoth = "Both"
)

// Status tracks a game's lifecycle.
type Status int

const (
	StatusOpen Status = iota
	StatusActive
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Player is one role assignment in a game.
type Player struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// View is a role-specific projection of game state. Log is the full event
// log as the capability renders it; the delivery layer rewrites Log and
// LogStart into the unseen suffix before the view goes on the wire. For a
// fixed role the log prefix must be stable across calls: a capability may
// only append.
type View struct {
	Prompt   string          `json:"prompt"`
	Actions  json.RawMessage `json:"actions,omitempty"`
	Log      []string        `json:"log"`
	LogStart int             `json:"log_start"`
	Active   string          `json:"active,omitempty"`
	Status   Status          `json:"status"`
	Result   string          `json:"result,omitempty"`
	Board    json.RawMessage `json:"board,omitempty"`
}

// Snapshot is what a capability reports after setup, an action, or a
// resignation. State is opaque to the core and persisted verbatim.
type Snapshot struct {
	State  []byte
	Active string
	Status Status
	Result string
}

// Capability is a pluggable per-title rules module. Implementations decode
// and encode their own state; the core treats State bytes as opaque.
//
// ApplyAction must return a *Violation (possibly wrapped) when the action is
// illegal for the given role and state, and must leave no observable side
// effects in that case.
type Capability interface {
	Setup(scenario string, players []Player) (Snapshot, error)
	ApplyAction(state []byte, role, verb string, noun json.RawMessage) (Snapshot, error)
	ApplyResign(state []byte, role string) (Snapshot, error)
	RenderView(state []byte, role string) (View, error)
	Scenarios() []string
}

// ErrMalformedState reports a serialized state a capability cannot decode.
var ErrMalformedState = errors.New("rules: malformed state")

// Violation reports an action rejected by a capability. It reaches only the
// acting connection and never aborts the room.
type Violation struct {
	Role   string
	Verb   string
	Reason string
}

func (v *Violation) Error() string {
	if v.Verb == "" {
		return fmt.Sprintf("rule violation for %s: %s", v.Role, v.Reason)
	}
	return fmt.Sprintf("rule violation for %s on %q: %s", v.Role, v.Verb, v.Reason)
}

// IsViolation reports whether err is (or wraps) a Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}
