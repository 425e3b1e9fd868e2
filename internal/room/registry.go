// Package room holds the in-memory map of live connections per game. It is
// rebuilt empty at process start; nothing in it is persisted. Presence is a
// pure function of current attachment.
package room

import (
	"sort"
	"sync"

	"gametable/server/internal/rules"
)

// Registry maps game ids to their live rooms. The registry is the only
// structure mutated by multiple connections concurrently; all membership
// changes go through Attach and Detach.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int64]*Room)}
}

// Attach adds a connection to its game's room, creating the room if absent,
// and returns the room.
func (reg *Registry) Attach(conn *Conn) *Room {
	// Membership changes happen under the registry lock so an attach can
	// never land on a room a concurrent detach just removed from the map.
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[conn.GameID]
	if !ok {
		r = &Room{gameID: conn.GameID}
		reg.rooms[conn.GameID] = r
	}
	r.membersMu.Lock()
	r.members = append(r.members, conn)
	r.membersMu.Unlock()
	return r
}

// Detach removes a connection from its room and destroys the room entry
// when the last member leaves. It reports whether the connection was
// actually attached, so a broadcast failure racing a disconnect only
// triggers one presence recomputation.
func (reg *Registry) Detach(conn *Conn) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[conn.GameID]
	if !ok {
		reg.mu.Unlock()
		return false
	}

	r.membersMu.Lock()
	found := false
	for i, member := range r.members {
		if member == conn {
			r.members = append(r.members[:i], r.members[i+1:]...)
			found = true
			break
		}
	}
	empty := len(r.members) == 0
	r.membersMu.Unlock()

	if found && empty {
		delete(reg.rooms, conn.GameID)
	}
	reg.mu.Unlock()
	return found
}

// Room returns the live room for a game, if any connection is attached.
func (reg *Registry) Room(gameID int64) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[gameID]
	return r, ok
}

// Rooms returns the number of live rooms. Diagnostics only.
func (reg *Registry) Rooms() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Room is the live set of connections attached to one game. The pipeline
// mutex serializes every read-mutate-persist-broadcast sequence for the
// game; membership has its own lock so a failed broadcast write can detach
// the dead connection without deadlocking the pipeline.
type Room struct {
	gameID int64

	pipeline sync.Mutex

	membersMu sync.RWMutex
	members   []*Conn
}

func (r *Room) GameID() int64 { return r.gameID }

// RunSerialized executes fn while holding the room's pipeline lock.
// Mutations for one game are applied in the order the lock is granted,
// giving a single observable order per game.
func (r *Room) RunSerialized(fn func()) {
	r.pipeline.Lock()
	defer r.pipeline.Unlock()
	fn()
}

// Members snapshots the current membership for iteration outside the lock.
func (r *Room) Members() []*Conn {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()
	return append([]*Conn(nil), r.members...)
}

// Presence returns the sorted set of distinct non-Observer roles currently
// attached.
func (r *Room) Presence() []string {
	r.membersMu.RLock()
	defer r.membersMu.RUnlock()

	seen := make(map[string]bool, len(r.members))
	roles := make([]string, 0, len(r.members))
	for _, member := range r.members {
		if member.Role == rules.RoleObserver || seen[member.Role] {
			continue
		}
		seen[member.Role] = true
		roles = append(roles, member.Role)
	}
	sort.Strings(roles)
	return roles
}
