// Package proto defines the websocket wire protocol between clients and the
// session engine. Every payload carries a "type" discriminator. The schema
// generator under cmd/schema renders a machine-readable contract from these
// types for client tooling.
package proto

import (
	"encoding/json"

	"gametable/server/internal/rules"
	"gametable/server/internal/store"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Client message type identifiers.
const (
	TypeAction  = "action"
	TypeResign  = "resign"
	TypeChat    = "chat"
	TypeGetChat = "getchat"
	TypeSave    = "save"
	TypeRestore = "restore"
	TypeRestart = "restart"
)

// Server message type identifiers.
const (
	TypeRoles     = "roles"
	TypePresence  = "presence"
	TypeState     = "state"
	TypeChatDelta = "chat"
	TypeSaveState = "save"
	TypeError     = "error"
)

// ClientMessage is the inbound envelope. Fields beyond Type are read
// depending on the discriminator.
type ClientMessage struct {
	Type     string          `json:"type" jsonschema:"title=Message type,description=One of action resign chat getchat save restore restart"`
	Verb     string          `json:"verb,omitempty" jsonschema:"description=Action verb forwarded to the rules capability"`
	Noun     json.RawMessage `json:"noun,omitempty" jsonschema:"description=Opaque action argument forwarded to the rules capability"`
	Text     string          `json:"text,omitempty" jsonschema:"description=Chat message body"`
	Since    int             `json:"since,omitempty" jsonschema:"description=Chat entries already held by the client"`
	State    json.RawMessage `json:"state,omitempty" jsonschema:"description=Serialized state for restore"`
	Scenario string          `json:"scenario,omitempty" jsonschema:"description=Scenario name for restart"`
}

// RolesMessage tells a connection its resolved role and the authoritative
// role assignments for the game.
type RolesMessage struct {
	Type    string         `json:"type"`
	Role    string         `json:"role" jsonschema:"description=The role this connection resolved to"`
	Players []rules.Player `json:"players"`
}

// PresenceMessage lists the distinct non-Observer roles currently attached.
type PresenceMessage struct {
	Type  string   `json:"type"`
	Roles []string `json:"roles"`
}

// StateMessage carries a role-specific view whose log holds only the
// unseen suffix, with log_start naming the index of its first line.
type StateMessage struct {
	Type string     `json:"type"`
	View rules.View `json:"view"`
}

// ChatMessage carries a contiguous suffix of the chat transcript starting
// at Start.
type ChatMessage struct {
	Type    string            `json:"type"`
	Start   int               `json:"start"`
	Entries []store.ChatEntry `json:"entries"`
}

// SaveMessage returns the raw persisted state to the requesting connection.
type SaveMessage struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// ErrorMessage reports a failure to the affected connection only.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewRolesMessage(role string, players []rules.Player) RolesMessage {
	if players == nil {
		players = []rules.Player{}
	}
	return RolesMessage{Type: TypeRoles, Role: role, Players: players}
}

func NewPresenceMessage(roles []string) PresenceMessage {
	if roles == nil {
		roles = []string{}
	}
	return PresenceMessage{Type: TypePresence, Roles: roles}
}

func NewStateMessage(view rules.View) StateMessage {
	return StateMessage{Type: TypeState, View: view}
}

func NewChatMessage(start int, entries []store.ChatEntry) ChatMessage {
	if entries == nil {
		entries = []store.ChatEntry{}
	}
	return ChatMessage{Type: TypeChatDelta, Start: start, Entries: entries}
}

func NewSaveMessage(state []byte) SaveMessage {
	return SaveMessage{Type: TypeSaveState, State: state}
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
