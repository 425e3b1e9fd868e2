package nim

import (
	"encoding/json"
	"errors"
	"testing"

	"gametable/server/internal/rules"
)

var testPlayers = []rules.Player{
	{UserID: 1, Name: "ada", Role: RoleFirst},
	{UserID: 2, Name: "bob", Role: RoleSecond},
}

func mustSetup(t *testing.T, scenario string) rules.Snapshot {
	t.Helper()
	snap, err := New().Setup(scenario, testPlayers)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return snap
}

func TestSetupClassic(t *testing.T) {
	snap := mustSetup(t, "Classic")
	if snap.Active != RoleFirst {
		t.Fatalf("expected %s to open, got %s", RoleFirst, snap.Active)
	}
	if snap.Status != rules.StatusActive {
		t.Fatalf("expected active status, got %s", snap.Status)
	}

	view, err := New().RenderView(snap.State, RoleFirst)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(view.Log) != 3 {
		t.Fatalf("expected 3 log lines (setup plus two joins), got %d", len(view.Log))
	}
	var board struct {
		Pile int `json:"pile"`
	}
	if err := json.Unmarshal(view.Board, &board); err != nil {
		t.Fatalf("failed to decode board: %v", err)
	}
	if board.Pile != 21 {
		t.Fatalf("expected Classic pile of 21, got %d", board.Pile)
	}
}

func TestSetupUnknownScenario(t *testing.T) {
	if _, err := New().Setup("Marathon", testPlayers); err == nil {
		t.Fatal("expected an error for an unknown scenario")
	}
}

func TestTakeAlternatesTurns(t *testing.T) {
	snap := mustSetup(t, "Quick")

	snap, err := New().ApplyAction(snap.State, RoleFirst, "take", json.RawMessage(`3`))
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if snap.Active != RoleSecond {
		t.Fatalf("expected turn to pass to %s, got %s", RoleSecond, snap.Active)
	}

	// The noun also decodes from the wrapped form.
	snap, err = New().ApplyAction(snap.State, RoleSecond, "take", json.RawMessage(`{"count":2}`))
	if err != nil {
		t.Fatalf("wrapped take failed: %v", err)
	}
	if snap.Active != RoleFirst {
		t.Fatalf("expected turn to return to %s, got %s", RoleFirst, snap.Active)
	}
}

func TestTakingLastStoneWins(t *testing.T) {
	snap := mustSetup(t, "Quick")

	moves := []struct {
		role  string
		count string
	}{
		{RoleFirst, `3`},
		{RoleSecond, `3`},
		{RoleFirst, `1`},
	}
	var err error
	for _, move := range moves {
		snap, err = New().ApplyAction(snap.State, move.role, "take", json.RawMessage(move.count))
		if err != nil {
			t.Fatalf("take %s by %s failed: %v", move.count, move.role, err)
		}
	}

	if snap.Status != rules.StatusFinished {
		t.Fatalf("expected finished status, got %s", snap.Status)
	}
	if snap.Result != RoleFirst {
		t.Fatalf("expected %s to win, got %q", RoleFirst, snap.Result)
	}
	if snap.Active != rules.ActiveNone {
		t.Fatalf("expected no active role after game over, got %s", snap.Active)
	}
}

func TestViolations(t *testing.T) {
	snap := mustSetup(t, "Quick")

	cases := []struct {
		name string
		role string
		verb string
		noun string
	}{
		{"out of turn", RoleSecond, "take", `1`},
		{"unknown verb", RoleFirst, "pass", `1`},
		{"too many", RoleFirst, "take", `4`},
		{"too few", RoleFirst, "take", `0`},
		{"unreadable noun", RoleFirst, "take", `"many"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New().ApplyAction(snap.State, tc.role, tc.verb, json.RawMessage(tc.noun))
			if !rules.IsViolation(err) {
				t.Fatalf("expected a violation, got %v", err)
			}
		})
	}
}

func TestViolationLeavesStateUntouched(t *testing.T) {
	snap := mustSetup(t, "Quick")
	before := string(snap.State)

	if _, err := New().ApplyAction(snap.State, RoleSecond, "take", json.RawMessage(`1`)); !rules.IsViolation(err) {
		t.Fatalf("expected a violation, got %v", err)
	}
	if string(snap.State) != before {
		t.Fatal("expected a rejected action to leave the state bytes untouched")
	}
}

func TestResignAwardsOpponent(t *testing.T) {
	snap := mustSetup(t, "Quick")

	snap, err := New().ApplyResign(snap.State, RoleFirst)
	if err != nil {
		t.Fatalf("resign failed: %v", err)
	}
	if snap.Status != rules.StatusFinished {
		t.Fatalf("expected finished status, got %s", snap.Status)
	}
	if snap.Result != RoleSecond {
		t.Fatalf("expected %s to win by resignation, got %q", RoleSecond, snap.Result)
	}
}

func TestMalformedState(t *testing.T) {
	_, err := New().RenderView([]byte(`{"pile":`), RoleFirst)
	if !errors.Is(err, rules.ErrMalformedState) {
		t.Fatalf("expected malformed state error, got %v", err)
	}
	_, err = New().ApplyAction([]byte(`{}`), RoleFirst, "take", json.RawMessage(`1`))
	if !errors.Is(err, rules.ErrMalformedState) {
		t.Fatalf("expected malformed state error for missing phase, got %v", err)
	}
}

func TestObserverViewHidesActions(t *testing.T) {
	snap := mustSetup(t, "Quick")

	view, err := New().RenderView(snap.State, rules.RoleObserver)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if view.Actions != nil {
		t.Fatal("expected no actions in an observer view")
	}

	mover, err := New().RenderView(snap.State, RoleFirst)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if mover.Actions == nil {
		t.Fatal("expected actions for the active role")
	}
}

func TestLogOnlyAppends(t *testing.T) {
	snap := mustSetup(t, "Quick")
	before, err := New().RenderView(snap.State, rules.RoleObserver)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	snap, err = New().ApplyAction(snap.State, RoleFirst, "take", json.RawMessage(`2`))
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	after, err := New().RenderView(snap.State, rules.RoleObserver)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if len(after.Log) <= len(before.Log) {
		t.Fatalf("expected the log to grow, got %d then %d lines", len(before.Log), len(after.Log))
	}
	for i, line := range before.Log {
		if after.Log[i] != line {
			t.Fatalf("expected log prefix to be stable, line %d changed from %q to %q", i, line, after.Log[i])
		}
	}
}
