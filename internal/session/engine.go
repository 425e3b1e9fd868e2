// Package session orchestrates live game sessions: authorizing connections
// into rooms, serializing every state mutation per game, persisting through
// the store, and fanning incremental views and chat out to each connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"gametable/server/internal/net/proto"
	"gametable/server/internal/room"
	"gametable/server/internal/rules"
	"gametable/server/internal/store"
	"gametable/server/logging"
	chatlog "gametable/server/logging/chat"
	"gametable/server/logging/gameplay"
	sessionlog "gametable/server/logging/session"
)

// ErrGameNotFound rejects a connection attempt for a missing game or a
// title/game mismatch.
var ErrGameNotFound = errors.New("session: game not found")

// ErrRoleNotAssigned reports a claimed role the user does not hold. The
// connection still attaches, demoted to Observer.
var ErrRoleNotAssigned = errors.New("session: role not assigned")

// maxChatRunes bounds a single chat message.
const maxChatRunes = 4096

// Metrics is the counter surface the engine reports into.
type Metrics interface {
	RecordConnect()
	RecordDisconnect()
	RecordBroadcast(bytes int)
	RecordLogLines(n int)
	RecordChatEntries(n int)
	RecordRuleViolation()
	RecordStoreError()
}

type nopMetrics struct{}

func (nopMetrics) RecordConnect()        {}
func (nopMetrics) RecordDisconnect()     {}
func (nopMetrics) RecordBroadcast(int)   {}
func (nopMetrics) RecordLogLines(int)    {}
func (nopMetrics) RecordChatEntries(int) {}
func (nopMetrics) RecordRuleViolation()  {}
func (nopMetrics) RecordStoreError()     {}

// Engine owns the room registry and runs every session operation. All
// mutations for one game run under that game's room pipeline lock, so
// actions apply in a single observable order per game while different
// games proceed independently.
type Engine struct {
	store   store.Store
	rules   *rules.Registry
	rooms   *room.Registry
	pub     logging.Publisher
	metrics Metrics
	clock   func() time.Time

	nextConnID atomic.Uint64
}

func NewEngine(st store.Store, reg *rules.Registry, rooms *room.Registry, pub logging.Publisher, metrics Metrics) *Engine {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		store:   st,
		rules:   reg,
		rooms:   rooms,
		pub:     pub,
		metrics: metrics,
		clock:   time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// ConnectRequest carries an already-authenticated network session asking to
// join a game room.
type ConnectRequest struct {
	GameID      int64
	TitleID     string
	UserID      int64
	UserName    string
	ClaimedRole string
	Socket      room.Socket
}

// Connect authorizes the request, attaches the connection to its room, and
// sends the initial synchronized view: resolved roles, presence, the full
// current log, and the full current chat from offset zero.
func (e *Engine) Connect(ctx context.Context, req ConnectRequest) (*room.Conn, error) {
	rec, err := e.store.GetGame(ctx, req.GameID)
	if errors.Is(err, store.ErrNotFound) {
		e.rejectSocket(req.Socket, "That game does not exist.")
		return nil, fmt.Errorf("%w: game %d", ErrGameNotFound, req.GameID)
	}
	if err != nil {
		e.metrics.RecordStoreError()
		e.rejectSocket(req.Socket, "The game could not be loaded.")
		return nil, fmt.Errorf("load game %d: %w", req.GameID, err)
	}
	if req.TitleID != "" && req.TitleID != rec.TitleID {
		e.rejectSocket(req.Socket, "That game does not exist.")
		return nil, fmt.Errorf("%w: game %d is not a %s game", ErrGameNotFound, req.GameID, req.TitleID)
	}
	cap, ok := e.rules.Lookup(rec.TitleID)
	if !ok {
		e.rejectSocket(req.Socket, "That title is not supported.")
		return nil, fmt.Errorf("%w: no rules for title %q", ErrGameNotFound, rec.TitleID)
	}

	players, err := e.store.ListPlayers(ctx, req.GameID)
	if err != nil {
		e.metrics.RecordStoreError()
		e.rejectSocket(req.Socket, "The game could not be loaded.")
		return nil, fmt.Errorf("list players for game %d: %w", req.GameID, err)
	}

	role, roleErr := resolveRole(req.ClaimedRole, req.UserID, players)

	connID := fmt.Sprintf("conn-%d", e.nextConnID.Add(1))
	conn := room.NewConn(connID, req.GameID, rec.TitleID, req.UserID, req.UserName, role, req.Socket)

	if roleErr != nil {
		// The claimed role is not theirs: surface the error, then carry on
		// as Observer so they still see the game.
		e.sendError(conn, "You aren't assigned that role!")
		sessionlog.RoleDenied(ctx, e.pub, req.GameID, sessionlog.ConnPayload{
			ConnID: connID, UserID: req.UserID, Role: role,
		}, req.ClaimedRole)
	}

	e.send(conn, proto.NewRolesMessage(role, players))

	r := e.rooms.Attach(conn)
	e.metrics.RecordConnect()
	sessionlog.Connected(ctx, e.pub, req.GameID, sessionlog.ConnPayload{
		ConnID: connID, UserID: req.UserID, Role: role,
	})

	// The initial delivery runs under the pipeline lock so no concurrent
	// action's broadcast can land between attach and the first view. Such
	// a broadcast would advance the new cursor past lines this delivery
	// has not sent yet, and the clamp in deliverState would then pull the
	// cursor backwards and re-send them. The state is re-read under the
	// lock for the same reason.
	r.RunSerialized(func() {
		e.broadcastPresence(r)

		rec, err := e.store.GetGame(ctx, req.GameID)
		if err != nil {
			e.metrics.RecordStoreError()
			e.sendError(conn, "The game could not be loaded.")
			return
		}
		if len(rec.State) > 0 {
			view, err := renderView(cap, rec.State, role)
			if err != nil {
				e.sendError(conn, err.Error())
			} else {
				e.deliverState(conn, view)
			}
		} else {
			e.sendError(conn, "The game has not started yet.")
		}

		entries, err := e.store.GetChat(ctx, req.GameID)
		if err != nil {
			e.metrics.RecordStoreError()
			e.sendError(conn, "The chat could not be loaded.")
			return
		}
		e.deliverChat(conn, entries)
	})

	return conn, nil
}

// Disconnect detaches the connection and recomputes presence for anyone
// left in the room. Safe to call at any point, including mid-broadcast.
func (e *Engine) Disconnect(ctx context.Context, conn *room.Conn) {
	if conn == nil {
		return
	}
	detached := e.rooms.Detach(conn)
	conn.Close()
	if !detached {
		return
	}
	e.metrics.RecordDisconnect()
	sessionlog.Disconnected(ctx, e.pub, conn.GameID, sessionlog.ConnPayload{
		ConnID: conn.ID, UserID: conn.UserID, Role: conn.Role,
	})
	if conn.Role != rules.RoleObserver {
		if r, ok := e.rooms.Room(conn.GameID); ok {
			e.broadcastPresence(r)
		}
	}
}

// Action runs one action through the serialized pipeline: load, delegate to
// the rules capability, persist, broadcast. A rule violation reaches only
// the actor and leaves the persisted state untouched.
func (e *Engine) Action(ctx context.Context, conn *room.Conn, verb string, noun json.RawMessage) {
	if e.rejectObserver(conn) {
		return
	}
	r, ok := e.rooms.Room(conn.GameID)
	if !ok {
		return
	}
	r.RunSerialized(func() {
		e.mutateLocked(ctx, r, conn, verb, func(cap rules.Capability, state []byte) (rules.Snapshot, error) {
			return cap.ApplyAction(state, conn.Role, verb, noun)
		})
	})
}

// Resign runs the capability's resignation path through the same pipeline.
func (e *Engine) Resign(ctx context.Context, conn *room.Conn) {
	if e.rejectObserver(conn) {
		return
	}
	r, ok := e.rooms.Room(conn.GameID)
	if !ok {
		return
	}
	r.RunSerialized(func() {
		e.mutateLocked(ctx, r, conn, "resign", func(cap rules.Capability, state []byte) (rules.Snapshot, error) {
			return cap.ApplyResign(state, conn.Role)
		})
	})
}

// Restart rebuilds the game state from setup and resets every connected
// log cursor so all viewers receive the new log from index zero.
func (e *Engine) Restart(ctx context.Context, conn *room.Conn, scenario string) {
	if e.rejectObserver(conn) {
		return
	}
	r, ok := e.rooms.Room(conn.GameID)
	if !ok {
		return
	}
	r.RunSerialized(func() {
		cap, ok := e.rules.Lookup(conn.TitleID)
		if !ok {
			e.sendError(conn, "That title is not supported.")
			return
		}
		players, err := e.store.ListPlayers(ctx, conn.GameID)
		if err != nil {
			e.storeFailure(ctx, conn, "restart", err)
			return
		}
		snap, err := applySafely(func() (rules.Snapshot, error) {
			return cap.Setup(scenario, players)
		})
		if err != nil {
			e.sendError(conn, err.Error())
			gameplay.PipelineFailure(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
				Verb: "restart", Reason: err.Error(),
			})
			return
		}
		if err := e.store.PutState(ctx, conn.GameID, snap); err != nil {
			e.storeFailure(ctx, conn, "restart", err)
			return
		}
		for _, member := range r.Members() {
			member.ResetLogCursor()
		}
		e.broadcastState(r, cap, snap.State)
		gameplay.Restarted(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
			Verb: "restart", Status: snap.Status.String(),
		})
	})
}

// Restore persists an externally supplied serialized state verbatim and
// broadcasts it without resetting cursors; connections whose cursor is past
// the restored log simply get an empty delta. Operator path: the payload is
// validated by rendering a view before anything is persisted.
func (e *Engine) Restore(ctx context.Context, conn *room.Conn, raw []byte) {
	if e.rejectObserver(conn) {
		return
	}
	r, ok := e.rooms.Room(conn.GameID)
	if !ok {
		return
	}
	r.RunSerialized(func() {
		cap, ok := e.rules.Lookup(conn.TitleID)
		if !ok {
			e.sendError(conn, "That title is not supported.")
			return
		}
		view, err := renderView(cap, raw, rules.RoleObserver)
		if err != nil {
			e.sendError(conn, fmt.Sprintf("Malformed state: %v", err))
			gameplay.PipelineFailure(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
				Verb: "restore", Reason: err.Error(),
			})
			return
		}
		snap := rules.Snapshot{State: raw, Active: view.Active, Status: rules.StatusActive}
		if err := e.store.PutState(ctx, conn.GameID, snap); err != nil {
			e.storeFailure(ctx, conn, "restore", err)
			return
		}
		e.broadcastState(r, cap, raw)
		gameplay.Restored(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{Verb: "restore"})
	})
}

// Save sends the raw persisted state to the requesting connection only.
func (e *Engine) Save(ctx context.Context, conn *room.Conn) {
	rec, err := e.store.GetGame(ctx, conn.GameID)
	if err != nil {
		e.storeFailure(ctx, conn, "save", err)
		return
	}
	e.send(conn, proto.NewSaveMessage(rec.State))
}

// Chat appends one message to the game's transcript and fans the unseen
// suffix out to every connection in the room.
func (e *Engine) Chat(ctx context.Context, conn *room.Conn, text string) {
	if e.rejectObserver(conn) {
		return
	}
	if runes := []rune(text); len(runes) > maxChatRunes {
		text = string(runes[:maxChatRunes])
	}
	r, ok := e.rooms.Room(conn.GameID)
	if !ok {
		return
	}
	r.RunSerialized(func() {
		entries, err := e.store.GetChat(ctx, conn.GameID)
		if err != nil {
			e.storeFailure(ctx, conn, "chat", err)
			return
		}
		entries = append(entries, store.ChatEntry{
			Time: e.clock().UnixMilli(),
			User: conn.UserName,
			Text: text,
		})
		if err := e.store.PutChat(ctx, conn.GameID, entries); err != nil {
			e.storeFailure(ctx, conn, "chat", err)
			return
		}
		for _, member := range r.Members() {
			e.deliverChat(member, entries)
		}
		chatlog.Posted(ctx, e.pub, conn.GameID, conn.UserName, chatlog.Payload{Length: len(entries)})
	})
}

// GetChat rewinds the connection's chat cursor to since and delivers
// everything from there, letting a rejoining client fetch only what it
// missed. The rewind runs under the pipeline lock so a concurrent Chat
// fan-out cannot read or advance the cursor mid-rewind.
func (e *Engine) GetChat(ctx context.Context, conn *room.Conn, since int) {
	if r, ok := e.rooms.Room(conn.GameID); ok {
		r.RunSerialized(func() {
			e.getChatLocked(ctx, conn, since)
		})
		return
	}
	e.getChatLocked(ctx, conn, since)
}

func (e *Engine) getChatLocked(ctx context.Context, conn *room.Conn, since int) {
	conn.SetChatCursor(since)
	entries, err := e.store.GetChat(ctx, conn.GameID)
	if err != nil {
		e.storeFailure(ctx, conn, "getchat", err)
		return
	}
	e.deliverChat(conn, entries)
	chatlog.Resync(ctx, e.pub, conn.GameID, conn.UserName, chatlog.Payload{Length: len(entries), Since: since})
}

// mutateLocked is the shared action/resign pipeline body. The room pipeline
// lock is held by the caller.
func (e *Engine) mutateLocked(ctx context.Context, r *room.Room, conn *room.Conn, verb string, apply func(rules.Capability, []byte) (rules.Snapshot, error)) {
	rec, err := e.store.GetGame(ctx, conn.GameID)
	if err != nil {
		e.storeFailure(ctx, conn, verb, err)
		return
	}
	cap, ok := e.rules.Lookup(rec.TitleID)
	if !ok {
		e.sendError(conn, "That title is not supported.")
		return
	}

	snap, err := applySafely(func() (rules.Snapshot, error) {
		return apply(cap, rec.State)
	})
	if rules.IsViolation(err) {
		e.metrics.RecordRuleViolation()
		e.sendError(conn, err.Error())
		gameplay.ActionRejected(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
			Verb: verb, Reason: err.Error(),
		})
		return
	}
	if err != nil {
		e.sendError(conn, err.Error())
		gameplay.PipelineFailure(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
			Verb: verb, Reason: err.Error(),
		})
		return
	}

	if err := e.store.PutState(ctx, conn.GameID, snap); err != nil {
		e.storeFailure(ctx, conn, verb, err)
		return
	}

	e.broadcastState(r, cap, snap.State)
	gameplay.ActionApplied(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
		Verb: verb, Status: snap.Status.String(),
	})
}

// broadcastState renders and delivers a fresh view to every connection in
// the room, including the actor. Each member gets its own role projection
// and its own log delta.
func (e *Engine) broadcastState(r *room.Room, cap rules.Capability, state []byte) {
	for _, member := range r.Members() {
		view, err := renderView(cap, state, member.Role)
		if err != nil {
			e.sendError(member, err.Error())
			continue
		}
		e.deliverState(member, view)
	}
}

// deliverState sends the view with only the unseen log suffix and advances
// the connection's log cursor to the full log length. The cursor is
// clamped so a shrunken log (restore) yields an empty delta, never a
// negative slice.
func (e *Engine) deliverState(conn *room.Conn, view rules.View) {
	total := len(view.Log)
	cursor := conn.LogCursor()
	if cursor > total {
		cursor = total
	}
	view.LogStart = cursor
	view.Log = view.Log[cursor:]
	conn.SetLogCursor(total)

	e.metrics.RecordLogLines(total - cursor)
	e.send(conn, proto.NewStateMessage(view))
}

// deliverChat sends the transcript suffix past the connection's chat
// cursor, if any, and advances the cursor to the transcript length.
func (e *Engine) deliverChat(conn *room.Conn, entries []store.ChatEntry) {
	cursor := conn.ChatCursor()
	if cursor > len(entries) {
		cursor = len(entries)
		conn.SetChatCursor(cursor)
	}
	if cursor == len(entries) {
		return
	}
	delta := entries[cursor:]
	conn.SetChatCursor(len(entries))

	e.metrics.RecordChatEntries(len(delta))
	e.send(conn, proto.NewChatMessage(cursor, delta))
}

func (e *Engine) broadcastPresence(r *room.Room) {
	msg := proto.NewPresenceMessage(r.Presence())
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal presence for game %d: %v", r.GameID(), err)
		return
	}
	for _, member := range r.Members() {
		e.sendBytes(member, data)
	}
}

func (e *Engine) rejectObserver(conn *room.Conn) bool {
	if conn.Role != rules.RoleObserver {
		return false
	}
	e.sendError(conn, "Observers cannot do that.")
	return true
}

func (e *Engine) storeFailure(ctx context.Context, conn *room.Conn, verb string, err error) {
	e.metrics.RecordStoreError()
	e.sendError(conn, "The game could not be loaded or saved.")
	gameplay.PipelineFailure(ctx, e.pub, conn.GameID, conn.Role, gameplay.ActionPayload{
		Verb: verb, Reason: err.Error(),
	})
}

func (e *Engine) send(conn *room.Conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal message for %s: %v", conn.ID, err)
		return
	}
	e.sendBytes(conn, data)
}

func (e *Engine) sendBytes(conn *room.Conn, data []byte) {
	if err := conn.Send(data); err != nil {
		log.Printf("failed to send to %s: %v", conn.ID, err)
		e.Disconnect(context.Background(), conn)
		return
	}
	e.metrics.RecordBroadcast(len(data))
}

func (e *Engine) sendError(conn *room.Conn, message string) {
	e.send(conn, proto.NewErrorMessage(message))
}

// rejectSocket reports a connect failure on a socket that never became a
// connection.
func (e *Engine) rejectSocket(socket room.Socket, message string) {
	if socket == nil {
		return
	}
	data, err := json.Marshal(proto.NewErrorMessage(message))
	if err != nil {
		return
	}
	socket.SetWriteDeadline(e.clock().Add(10 * time.Second))
	socket.Write(data)
}

// resolveRole applies the connect-time role resolution rules: Observer is
// accepted unconditionally; an empty or unspecified claim resolves to the
// user's single held role, or Observer; any other claim must match an
// assignment or the connection is demoted to Observer with an error.
func resolveRole(claimed string, userID int64, players []rules.Player) (string, error) {
	if claimed == rules.RoleObserver {
		return rules.RoleObserver, nil
	}
	if claimed == "" || claimed == "undefined" || claimed == "null" {
		held := ""
		count := 0
		for _, p := range players {
			if p.UserID == userID {
				held = p.Role
				count++
			}
		}
		if count == 1 {
			return held, nil
		}
		return rules.RoleObserver, nil
	}
	for _, p := range players {
		if p.UserID == userID && p.Role == claimed {
			return claimed, nil
		}
	}
	return rules.RoleObserver, ErrRoleNotAssigned
}

// renderView wraps the capability's view projection with panic recovery so
// a faulty rules module cannot take the room down.
func renderView(cap rules.Capability, state []byte, role string) (view rules.View, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules failure: %v", r)
		}
	}()
	return cap.RenderView(state, role)
}

// applySafely runs a rules mutation with panic recovery at the pipeline
// boundary; a panic is reported like any other capability error and nothing
// is persisted.
func applySafely(apply func() (rules.Snapshot, error)) (snap rules.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules failure: %v", r)
		}
	}()
	return apply()
}
