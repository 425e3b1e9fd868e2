package store

import (
	"context"
	"sync"

	"gametable/server/internal/rules"
)

// Memory is an in-process Store used by tests and local experiments.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	games   map[int64]GameRecord
	players map[int64][]rules.Player
	chat    map[int64][]ChatEntry
}

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[int64]GameRecord),
		players: make(map[int64][]rules.Player),
		chat:    make(map[int64][]ChatEntry),
	}
}

func (m *Memory) GetGame(_ context.Context, gameID int64) (GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.games[gameID]
	if !ok {
		return GameRecord{}, ErrNotFound
	}
	rec.State = append([]byte(nil), rec.State...)
	return rec, nil
}

func (m *Memory) PutState(_ context.Context, gameID int64, snap rules.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.games[gameID]
	if !ok {
		return ErrNotFound
	}
	rec.State = append([]byte(nil), snap.State...)
	rec.Active = snap.Active
	rec.Status = snap.Status
	rec.Result = snap.Result
	m.games[gameID] = rec
	return nil
}

func (m *Memory) ListPlayers(_ context.Context, gameID int64) ([]rules.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rules.Player(nil), m.players[gameID]...), nil
}

func (m *Memory) GetChat(_ context.Context, gameID int64) ([]ChatEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, ErrNotFound
	}
	entries := m.chat[gameID]
	copied := make([]ChatEntry, len(entries))
	copy(copied, entries)
	return copied, nil
}

func (m *Memory) PutChat(_ context.Context, gameID int64, entries []ChatEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return ErrNotFound
	}
	copied := make([]ChatEntry, len(entries))
	copy(copied, entries)
	m.chat[gameID] = copied
	return nil
}

// CreateGame provisions a game row, mirroring the sqlite backend.
func (m *Memory) CreateGame(_ context.Context, titleID, scenario string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.games[id] = GameRecord{ID: id, TitleID: titleID, Scenario: scenario, Status: rules.StatusOpen}
	m.chat[id] = nil
	return id, nil
}

func (m *Memory) AssignRole(_ context.Context, gameID int64, p rules.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return ErrNotFound
	}
	m.players[gameID] = append(m.players[gameID], p)
	return nil
}
