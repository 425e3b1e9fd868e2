// Package store persists games, role assignments, and chat transcripts.
// The session core only depends on the Store interface; user accounts and
// the lobby surface live outside this module.
package store

import (
	"context"
	"errors"

	"gametable/server/internal/rules"
)

// ErrNotFound reports a missing game.
var ErrNotFound = errors.New("store: game not found")

// GameRecord is one game's durable row. State is opaque to everything but
// the title's rules capability.
type GameRecord struct {
	ID       int64
	TitleID  string
	Scenario string
	Status   rules.Status
	State    []byte
	Active   string
	Result   string
}

// ChatEntry is one line of a game's append-only chat transcript.
type ChatEntry struct {
	Time int64  `json:"time"`
	User string `json:"user"`
	Text string `json:"text"`
}

// Store is the narrow persistence surface the session engine uses. All
// writes go through the engine's per-game pipeline; the store itself does
// not serialize callers.
type Store interface {
	GetGame(ctx context.Context, gameID int64) (GameRecord, error)
	PutState(ctx context.Context, gameID int64, snap rules.Snapshot) error
	ListPlayers(ctx context.Context, gameID int64) ([]rules.Player, error)
	GetChat(ctx context.Context, gameID int64) ([]ChatEntry, error)
	PutChat(ctx context.Context, gameID int64, entries []ChatEntry) error
}
