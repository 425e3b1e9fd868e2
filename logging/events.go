package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

type ActorKind string

const (
	ActorKindUnknown ActorKind = "unknown"
	ActorKindRole    ActorKind = "role"
	ActorKindUser    ActorKind = "user"
	ActorKindSystem  ActorKind = "system"
)

// Event is one structured server event. GameID is zero for events not tied
// to a specific game.
type Event struct {
	Type     EventType      `json:"type"`
	GameID   int64          `json:"gameId,omitempty"`
	Time     time.Time      `json:"time"`
	Actor    ActorRef       `json:"actor"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type ActorRef struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

// RoleActor names an acting role in a game.
func RoleActor(role string) ActorRef {
	return ActorRef{ID: role, Kind: ActorKindRole}
}

// SystemActor marks events the server emits on its own behalf.
func SystemActor() ActorRef {
	return ActorRef{Kind: ActorKindSystem}
}

const (
	CategorySession  = "session"
	CategoryGameplay = "gameplay"
	CategoryChat     = "chat"
	CategorySystem   = "system"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	if p.next == nil {
		return
	}
	if len(p.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(p.fields))
		}
		for k, v := range p.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}
	p.next.Publish(ctx, event)
}

func cloneForFields(event Event) Event {
	cloned := event
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &fieldPublisher{next: p, fields: copied}
}

func (e Event) WithExtra(key string, value any) Event {
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}
