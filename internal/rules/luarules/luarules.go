// Package luarules loads title rules written in Lua. A title directory
// contains a rules.lua script defining four global functions:
//
//	setup(scenario, players) -> state
//	action(state, role, verb, noun)   -- mutates state in place
//	resign(state, role)               -- mutates state in place
//	view(state, role) -> view
//
// plus a global `scenarios` table listing valid scenario names. State is a
// Lua table; the core persists it as JSON and converts on every call. The
// table must carry `state` (phase; "game_over" when finished), `active` and
// optionally `result`, mirroring what the view layer reports to clients.
package luarules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"gametable/server/internal/rules"
)

const (
	phaseGameOver = "game_over"
	scriptName    = "rules.lua"

	// statePoolSize bounds how many idle interpreters a title keeps warm.
	statePoolSize = 4
)

// Capability drives one title's rules.lua. A Lua interpreter is not safe
// for concurrent use, so each call checks one out of a pool built from the
// compiled script; concurrent games of the same title run on separate
// interpreters and never queue behind each other.
type Capability struct {
	titleID   string
	proto     *lua.FunctionProto
	scenarios []string

	mu     sync.Mutex
	idle   []*lua.LState
	closed bool
}

// Load compiles the rules script for one title.
func Load(titleID, path string) (*Capability, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("luarules: read %s: %w", path, err)
	}
	chunk, err := parse.Parse(bytes.NewReader(src), path)
	if err != nil {
		return nil, fmt.Errorf("luarules: parse %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("luarules: compile %s: %w", path, err)
	}

	cap := &Capability{titleID: titleID, proto: proto}
	L, err := cap.newState()
	if err != nil {
		return nil, fmt.Errorf("luarules: load %s: %w", path, err)
	}
	for _, name := range []string{"setup", "action", "resign", "view"} {
		if L.GetGlobal(name).Type() != lua.LTFunction {
			L.Close()
			return nil, fmt.Errorf("luarules: %s: missing function %q", path, name)
		}
	}
	if scen := L.GetGlobal("scenarios"); scen.Type() == lua.LTTable {
		scen.(*lua.LTable).ForEach(func(_, v lua.LValue) {
			if s, ok := v.(lua.LString); ok {
				cap.scenarios = append(cap.scenarios, string(s))
			}
		})
	}
	cap.put(L)
	return cap, nil
}

// newState spins up a fresh interpreter running the compiled script.
func (c *Capability) newState() (*lua.LState, error) {
	L := lua.NewState()
	L.Push(L.NewFunctionFromProto(c.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("luarules: %s init: %w", c.titleID, err)
	}
	return L, nil
}

// get checks an interpreter out of the pool, creating one when none is
// idle.
func (c *Capability) get() (*lua.LState, error) {
	c.mu.Lock()
	if n := len(c.idle); n > 0 {
		L := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return L, nil
	}
	c.mu.Unlock()
	return c.newState()
}

func (c *Capability) put(L *lua.LState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.idle) >= statePoolSize {
		L.Close()
		return
	}
	c.idle = append(c.idle, L)
}

// LoadDir registers every immediate subdirectory of dir that contains a
// rules.lua, keyed by the directory name. A missing dir is not an error.
func LoadDir(dir string, reg *rules.Registry) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("luarules: read %s: %w", dir, err)
	}
	var loaded []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		script := filepath.Join(dir, entry.Name(), scriptName)
		if _, err := os.Stat(script); err != nil {
			continue
		}
		cap, err := Load(entry.Name(), script)
		if err != nil {
			return loaded, err
		}
		if err := reg.Register(entry.Name(), cap); err != nil {
			return loaded, err
		}
		loaded = append(loaded, entry.Name())
	}
	return loaded, nil
}

// Close releases every idle interpreter; checked-out ones are closed as
// they come back.
func (c *Capability) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, L := range c.idle {
		L.Close()
	}
	c.idle = nil
}

func (c *Capability) Scenarios() []string {
	return append([]string(nil), c.scenarios...)
}

func (c *Capability) Setup(scenario string, players []rules.Player) (rules.Snapshot, error) {
	L, err := c.get()
	if err != nil {
		return rules.Snapshot{}, err
	}
	defer c.put(L)

	tbl := L.NewTable()
	for _, p := range players {
		row := L.NewTable()
		row.RawSetString("user_id", lua.LNumber(p.UserID))
		row.RawSetString("name", lua.LString(p.Name))
		row.RawSetString("role", lua.LString(p.Role))
		tbl.Append(row)
	}
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("setup"), NRet: 1, Protect: true},
		lua.LString(scenario), tbl); err != nil {
		return rules.Snapshot{}, fmt.Errorf("luarules: %s setup: %w", c.titleID, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	stateTbl, ok := ret.(*lua.LTable)
	if !ok {
		return rules.Snapshot{}, fmt.Errorf("luarules: %s setup returned %s, want table", c.titleID, ret.Type())
	}
	return c.snapshot(stateTbl)
}

func (c *Capability) ApplyAction(raw []byte, role, verb string, noun json.RawMessage) (rules.Snapshot, error) {
	L, err := c.get()
	if err != nil {
		return rules.Snapshot{}, err
	}
	defer c.put(L)

	stateTbl, err := decodeState(L, raw)
	if err != nil {
		return rules.Snapshot{}, err
	}
	nounVal, err := decodeNoun(L, noun)
	if err != nil {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: err.Error()}
	}
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("action"), NRet: 0, Protect: true},
		stateTbl, lua.LString(role), lua.LString(verb), nounVal); err != nil {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: luaReason(err)}
	}
	return c.snapshot(stateTbl)
}

func (c *Capability) ApplyResign(raw []byte, role string) (rules.Snapshot, error) {
	L, err := c.get()
	if err != nil {
		return rules.Snapshot{}, err
	}
	defer c.put(L)

	stateTbl, err := decodeState(L, raw)
	if err != nil {
		return rules.Snapshot{}, err
	}
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("resign"), NRet: 0, Protect: true},
		stateTbl, lua.LString(role)); err != nil {
		return rules.Snapshot{}, &rules.Violation{Role: role, Reason: luaReason(err)}
	}
	return c.snapshot(stateTbl)
}

func (c *Capability) RenderView(raw []byte, role string) (rules.View, error) {
	L, err := c.get()
	if err != nil {
		return rules.View{}, err
	}
	defer c.put(L)

	stateTbl, err := decodeState(L, raw)
	if err != nil {
		return rules.View{}, err
	}
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("view"), NRet: 1, Protect: true},
		stateTbl, lua.LString(role)); err != nil {
		return rules.View{}, fmt.Errorf("luarules: %s view: %w", c.titleID, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	viewTbl, ok := ret.(*lua.LTable)
	if !ok {
		return rules.View{}, fmt.Errorf("luarules: %s view returned %s, want table", c.titleID, ret.Type())
	}
	return viewFromTable(L, viewTbl)
}

// snapshot serializes the state table and lifts out the selector fields
// the core persists alongside it.
func (c *Capability) snapshot(tbl *lua.LTable) (rules.Snapshot, error) {
	value := luaToGo(tbl)
	raw, err := json.Marshal(value)
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("luarules: %s encode state: %w", c.titleID, err)
	}
	snap := rules.Snapshot{State: raw, Status: rules.StatusActive}
	if active, ok := tbl.RawGetString("active").(lua.LString); ok {
		snap.Active = string(active)
	}
	if phase, ok := tbl.RawGetString("state").(lua.LString); ok && string(phase) == phaseGameOver {
		snap.Status = rules.StatusFinished
		if result, ok := tbl.RawGetString("result").(lua.LString); ok {
			snap.Result = string(result)
		}
	}
	return snap, nil
}

func decodeState(L *lua.LState, raw []byte) (*lua.LTable, error) {
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", rules.ErrMalformedState, err)
	}
	lv := goToLua(L, value)
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: state is not an object", rules.ErrMalformedState)
	}
	return tbl, nil
}

func decodeNoun(L *lua.LState, noun json.RawMessage) (lua.LValue, error) {
	if len(noun) == 0 {
		return lua.LNil, nil
	}
	var value any
	if err := json.Unmarshal(noun, &value); err != nil {
		return nil, fmt.Errorf("unreadable action argument")
	}
	return goToLua(L, value), nil
}

func viewFromTable(L *lua.LState, tbl *lua.LTable) (rules.View, error) {
	var view rules.View
	if prompt, ok := tbl.RawGetString("prompt").(lua.LString); ok {
		view.Prompt = string(prompt)
	}
	if active, ok := tbl.RawGetString("active").(lua.LString); ok {
		view.Active = string(active)
	}
	if result, ok := tbl.RawGetString("result").(lua.LString); ok {
		view.Result = string(result)
	}
	view.Status = rules.StatusActive
	if phase, ok := tbl.RawGetString("state").(lua.LString); ok && string(phase) == phaseGameOver {
		view.Status = rules.StatusFinished
	}
	view.Log = []string{}
	if logTbl, ok := tbl.RawGetString("log").(*lua.LTable); ok {
		logTbl.ForEach(func(_, v lua.LValue) {
			view.Log = append(view.Log, lua.LVAsString(v))
		})
	}
	if actions := tbl.RawGetString("actions"); actions != lua.LNil {
		raw, err := json.Marshal(luaToGo(actions))
		if err != nil {
			return rules.View{}, fmt.Errorf("luarules: encode actions: %w", err)
		}
		view.Actions = raw
	}
	if board := tbl.RawGetString("board"); board != lua.LNil {
		raw, err := json.Marshal(luaToGo(board))
		if err != nil {
			return rules.View{}, fmt.Errorf("luarules: encode board: %w", err)
		}
		view.Board = raw
	}
	return view, nil
}

func luaReason(err error) string {
	if apiErr, ok := err.(*lua.ApiError); ok {
		return lua.LVAsString(apiErr.Object)
	}
	return err.Error()
}
