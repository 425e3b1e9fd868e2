package proto

import (
	"encoding/json"
	"testing"

	"gametable/server/internal/rules"
)

func TestConstructorsNormalizeNilSlices(t *testing.T) {
	roles := NewRolesMessage("First", nil)
	if roles.Players == nil {
		t.Fatal("expected an empty players slice, not nil")
	}
	presence := NewPresenceMessage(nil)
	if presence.Roles == nil {
		t.Fatal("expected an empty roles slice, not nil")
	}
	chat := NewChatMessage(0, nil)
	if chat.Entries == nil {
		t.Fatal("expected an empty entries slice, not nil")
	}
}

func TestEnvelopesCarryTypeDiscriminator(t *testing.T) {
	cases := []struct {
		payload any
		want    string
	}{
		{NewRolesMessage("First", nil), TypeRoles},
		{NewPresenceMessage([]string{"First"}), TypePresence},
		{NewStateMessage(rules.View{}), TypeState},
		{NewChatMessage(0, nil), TypeChatDelta},
		{NewSaveMessage([]byte(`{}`)), TypeSaveState},
		{NewErrorMessage("boom"), TypeError},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if envelope.Type != tc.want {
			t.Fatalf("expected type %q, got %q", tc.want, envelope.Type)
		}
	}
}

func TestClientMessageDecodesOpaqueNoun(t *testing.T) {
	raw := []byte(`{"type":"action","verb":"take","noun":{"count":2}}`)
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Type != TypeAction || msg.Verb != "take" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.Noun) != `{"count":2}` {
		t.Fatalf("expected the noun to pass through verbatim, got %s", msg.Noun)
	}
}
