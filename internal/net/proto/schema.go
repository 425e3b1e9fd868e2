package proto

// Protocol groups every wire message so the schema generator can reflect
// the complete contract into one document for client tooling.
type Protocol struct {
	Client   ClientMessage   `json:"client" jsonschema:"description=Inbound envelope sent by clients"`
	Roles    RolesMessage    `json:"roles"`
	Presence PresenceMessage `json:"presence"`
	State    StateMessage    `json:"state"`
	Chat     ChatMessage     `json:"chat"`
	Save     SaveMessage     `json:"save"`
	Error    ErrorMessage    `json:"error"`
}
