package luarules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gametable/server/internal/rules"
)

// countToFive is a minimal two-seat title: players alternate adding 1-3 to
// a counter, whoever reaches five wins.
const countToFive = `
scenarios = {"Default"}

function setup(scenario, players)
  local log = {"the count begins at 0"}
  for i, p in ipairs(players) do
    log[#log+1] = p.name .. " plays " .. p.role
  end
  return {state = "play", active = "First", count = 0, log = log}
end

function action(state, role, verb, noun)
  if state.state ~= "play" then
    error("the game is over")
  end
  if role ~= state.active then
    error("not your turn")
  end
  if verb ~= "add" then
    error("unknown action")
  end
  state.count = state.count + noun
  state.log[#state.log+1] = role .. " adds " .. noun
  if state.count >= 5 then
    state.state = "game_over"
    state.active = "None"
    state.result = role
    state.log[#state.log+1] = role .. " wins"
  elseif role == "First" then
    state.active = "Second"
  else
    state.active = "First"
  end
end

function resign(state, role)
  state.state = "game_over"
  state.active = "None"
  if role == "First" then
    state.result = "Second"
  else
    state.result = "First"
  end
end

function view(state, role)
  local v = {
    prompt = "count is " .. state.count,
    active = state.active,
    state = state.state,
    log = state.log,
    board = {count = state.count},
  }
  if state.result then
    v.result = state.result
  end
  return v
end
`

var luaPlayers = []rules.Player{
	{UserID: 1, Name: "ada", Role: "First"},
	{UserID: 2, Name: "bob", Role: "Second"},
}

func loadCountToFive(t *testing.T) *Capability {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.lua")
	require.NoError(t, os.WriteFile(path, []byte(countToFive), 0o644))
	cap, err := Load("count", path)
	require.NoError(t, err)
	t.Cleanup(cap.Close)
	return cap
}

func TestLoadRejectsIncompleteScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function setup() end`), 0o644))

	_, err := Load("broken", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing function")
}

func TestScenariosFromScript(t *testing.T) {
	cap := loadCountToFive(t)
	assert.Equal(t, []string{"Default"}, cap.Scenarios())
}

func TestSetupProducesSnapshot(t *testing.T) {
	cap := loadCountToFive(t)

	snap, err := cap.Setup("Default", luaPlayers)
	require.NoError(t, err)
	assert.Equal(t, "First", snap.Active)
	assert.Equal(t, rules.StatusActive, snap.Status)
	assert.Empty(t, snap.Result)

	view, err := cap.RenderView(snap.State, rules.RoleObserver)
	require.NoError(t, err)
	assert.Equal(t, "count is 0", view.Prompt)
	require.Len(t, view.Log, 3)
	assert.Equal(t, "ada plays First", view.Log[1])

	var board struct {
		Count float64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(view.Board, &board))
	assert.Zero(t, board.Count)
}

func TestActionMutatesAndFinishes(t *testing.T) {
	cap := loadCountToFive(t)

	snap, err := cap.Setup("Default", luaPlayers)
	require.NoError(t, err)

	snap, err = cap.ApplyAction(snap.State, "First", "add", json.RawMessage(`3`))
	require.NoError(t, err)
	assert.Equal(t, "Second", snap.Active)
	assert.Equal(t, rules.StatusActive, snap.Status)

	snap, err = cap.ApplyAction(snap.State, "Second", "add", json.RawMessage(`2`))
	require.NoError(t, err)
	assert.Equal(t, rules.StatusFinished, snap.Status)
	assert.Equal(t, "Second", snap.Result)
	assert.Equal(t, "None", snap.Active)

	view, err := cap.RenderView(snap.State, rules.RoleObserver)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusFinished, view.Status)
	assert.Equal(t, "Second", view.Result)
	require.Len(t, view.Log, 6)
	assert.Equal(t, "Second wins", view.Log[5])
}

func TestScriptErrorsBecomeViolations(t *testing.T) {
	cap := loadCountToFive(t)

	snap, err := cap.Setup("Default", luaPlayers)
	require.NoError(t, err)

	_, err = cap.ApplyAction(snap.State, "Second", "add", json.RawMessage(`1`))
	require.True(t, rules.IsViolation(err), "expected a violation, got %v", err)
	assert.Contains(t, err.Error(), "not your turn")

	_, err = cap.ApplyAction(snap.State, "First", "pass", json.RawMessage(`1`))
	require.True(t, rules.IsViolation(err), "expected a violation, got %v", err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestResignAwardsOpponent(t *testing.T) {
	cap := loadCountToFive(t)

	snap, err := cap.Setup("Default", luaPlayers)
	require.NoError(t, err)

	snap, err = cap.ApplyResign(snap.State, "First")
	require.NoError(t, err)
	assert.Equal(t, rules.StatusFinished, snap.Status)
	assert.Equal(t, "Second", snap.Result)
}

func TestMalformedStateRejected(t *testing.T) {
	cap := loadCountToFive(t)

	_, err := cap.RenderView([]byte(`{"count":`), "First")
	assert.ErrorIs(t, err, rules.ErrMalformedState)

	_, err = cap.ApplyAction([]byte(`[1,2,3]`), "First", "add", json.RawMessage(`1`))
	assert.ErrorIs(t, err, rules.ErrMalformedState)
}

func TestConcurrentGamesRunOnIndependentInterpreters(t *testing.T) {
	cap := loadCountToFive(t)

	base, err := cap.Setup("Default", luaPlayers)
	require.NoError(t, err)

	// Many games of one title act at once; each call must see only its
	// own state, never another interpreter's leftovers.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				snap, err := cap.ApplyAction(base.State, "First", "add", json.RawMessage(`1`))
				if !assert.NoError(t, err) {
					return
				}
				view, err := cap.RenderView(snap.State, rules.RoleObserver)
				if !assert.NoError(t, err) {
					return
				}
				if !assert.Equal(t, "count is 1", view.Prompt) {
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLoadDirRegistersTitles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "count"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "count", "rules.lua"), []byte(countToFive), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a title"), 0o644))

	reg := rules.NewRegistry()
	loaded, err := LoadDir(dir, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, loaded)

	_, ok := reg.Lookup("count")
	assert.True(t, ok)
	_, ok = reg.Lookup("empty")
	assert.False(t, ok)
}

func TestLoadDirMissingIsNotAnError(t *testing.T) {
	loaded, err := LoadDir(filepath.Join(t.TempDir(), "absent"), rules.NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
