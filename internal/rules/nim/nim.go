// Package nim implements the bundled "nim" title: a single pile of stones,
// two seats, take one to three stones per turn, whoever takes the last
// stone wins. It doubles as the reference implementation of the rules
// capability contract.
package nim

import (
	"encoding/json"
	"fmt"

	"gametable/server/internal/rules"
)

const TitleID = "nim"

const (
	RoleFirst  = "First"
	RoleSecond = "Second"
)

const (
	phasePlay     = "play"
	phaseGameOver = "game_over"
)

const maxTake = 3

var scenarioPiles = map[string]int{
	"Classic": 21,
	"Quick":   7,
}

type state struct {
	Phase  string   `json:"phase"`
	Active string   `json:"active"`
	Pile   int      `json:"pile"`
	Result string   `json:"result,omitempty"`
	Log    []string `json:"log"`
}

type takeNoun struct {
	Count int `json:"count"`
}

// Capability implements rules.Capability for nim.
type Capability struct{}

func New() *Capability { return &Capability{} }

func (c *Capability) Scenarios() []string {
	return []string{"Classic", "Quick"}
}

func (c *Capability) Setup(scenario string, players []rules.Player) (rules.Snapshot, error) {
	pile, ok := scenarioPiles[scenario]
	if !ok {
		return rules.Snapshot{}, fmt.Errorf("nim: unknown scenario %q", scenario)
	}
	s := &state{
		Phase:  phasePlay,
		Active: RoleFirst,
		Pile:   pile,
		Log:    []string{fmt.Sprintf("%s begins with %d stones.", scenario, pile)},
	}
	for _, p := range players {
		s.Log = append(s.Log, fmt.Sprintf("%s joins as %s.", p.Name, p.Role))
	}
	return snapshot(s)
}

func (c *Capability) ApplyAction(raw []byte, role, verb string, noun json.RawMessage) (rules.Snapshot, error) {
	s, err := decode(raw)
	if err != nil {
		return rules.Snapshot{}, err
	}
	if s.Phase != phasePlay {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: "the game is over"}
	}
	if role != s.Active {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: "not your turn"}
	}
	if verb != "take" {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: "unknown action"}
	}
	count, err := decodeCount(noun)
	if err != nil {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: err.Error()}
	}
	if count < 1 || count > maxTake {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: fmt.Sprintf("take 1 to %d stones", maxTake)}
	}
	if count > s.Pile {
		return rules.Snapshot{}, &rules.Violation{Role: role, Verb: verb, Reason: "not enough stones left"}
	}

	s.Pile -= count
	s.Log = append(s.Log, fmt.Sprintf("%s takes %d.", role, count))
	if s.Pile == 0 {
		s.Phase = phaseGameOver
		s.Active = rules.ActiveNone
		s.Result = role
		s.Log = append(s.Log, fmt.Sprintf("%s wins.", role))
	} else {
		s.Active = opponent(role)
	}
	return snapshot(s)
}

func (c *Capability) ApplyResign(raw []byte, role string) (rules.Snapshot, error) {
	s, err := decode(raw)
	if err != nil {
		return rules.Snapshot{}, err
	}
	if s.Phase != phasePlay {
		return rules.Snapshot{}, &rules.Violation{Role: role, Reason: "the game is over"}
	}
	s.Phase = phaseGameOver
	s.Active = rules.ActiveNone
	s.Result = opponent(role)
	s.Log = append(s.Log, fmt.Sprintf("%s resigns. %s wins.", role, s.Result))
	return snapshot(s)
}

func (c *Capability) RenderView(raw []byte, role string) (rules.View, error) {
	s, err := decode(raw)
	if err != nil {
		return rules.View{}, err
	}
	view := rules.View{
		Log:    append([]string(nil), s.Log...),
		Active: s.Active,
		Status: statusOf(s),
		Result: s.Result,
	}
	board, err := json.Marshal(map[string]int{"pile": s.Pile})
	if err != nil {
		return rules.View{}, fmt.Errorf("nim: encode board: %w", err)
	}
	view.Board = board

	switch {
	case s.Phase == phaseGameOver:
		view.Prompt = fmt.Sprintf("Game over. %s wins.", s.Result)
	case role == s.Active:
		view.Prompt = "Your move: take 1 to 3 stones."
		limit := maxTake
		if s.Pile < limit {
			limit = s.Pile
		}
		counts := make([]int, 0, limit)
		for i := 1; i <= limit; i++ {
			counts = append(counts, i)
		}
		actions, err := json.Marshal(map[string][]int{"take": counts})
		if err != nil {
			return rules.View{}, fmt.Errorf("nim: encode actions: %w", err)
		}
		view.Actions = actions
	default:
		view.Prompt = fmt.Sprintf("Waiting for %s.", s.Active)
	}
	return view, nil
}

func opponent(role string) string {
	if role == RoleFirst {
		return RoleSecond
	}
	return RoleFirst
}

func statusOf(s *state) rules.Status {
	if s.Phase == phaseGameOver {
		return rules.StatusFinished
	}
	return rules.StatusActive
}

func snapshot(s *state) (rules.Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("nim: encode state: %w", err)
	}
	return rules.Snapshot{
		State:  raw,
		Active: s.Active,
		Status: statusOf(s),
		Result: s.Result,
	}, nil
}

func decode(raw []byte) (*state, error) {
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", rules.ErrMalformedState, err)
	}
	if s.Phase == "" {
		return nil, fmt.Errorf("%w: missing phase", rules.ErrMalformedState)
	}
	return &s, nil
}

func decodeCount(noun json.RawMessage) (int, error) {
	if len(noun) == 0 {
		return 0, fmt.Errorf("missing stone count")
	}
	// Accept either a bare number or {"count": n}.
	var count int
	if err := json.Unmarshal(noun, &count); err == nil {
		return count, nil
	}
	var wrapped takeNoun
	if err := json.Unmarshal(noun, &wrapped); err != nil {
		return 0, fmt.Errorf("unreadable stone count")
	}
	return wrapped.Count, nil
}
