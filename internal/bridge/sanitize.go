package bridge

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/dmscreen/internal/game/combat"
)

// Sanitize returns a deep copy of m restricted to portable values: nil, bool,
// numbers, strings, and lists and string-keyed maps of those. Numbers come
// back as float64. The copy shares nothing with m.
//
// A value outside that schema yields an error.
func Sanitize(m map[string]any) (map[string]any, error) {
	normalized, ok := normalize(m).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("sanitize: unexpected root %T", m)
	}
	s, err := structpb.NewStruct(normalized)
	if err != nil {
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	return s.AsMap(), nil
}

// normalize widens the container shapes Go callers commonly build into the
// []any and map[string]any forms structpb accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case combat.Payload:
		return normalize(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return t
	}
}

// standIn is the minimal valid turn payload used when the real one cannot be
// sanitized.
func standIn(m map[string]any) map[string]any {
	round, _ := intValue(m["round"])
	turn, _ := intValue(m["current_turn_index"])
	return map[string]any{
		"round":              float64(round),
		"current_turn_index": float64(turn),
		"combatants":         []any{},
	}
}

// SanitizeOrStandIn sanitizes m, falling back to the stand-in
// {round, current_turn_index, combatants: []} when m is not portable.
func SanitizeOrStandIn(m map[string]any) (map[string]any, bool) {
	out, err := Sanitize(m)
	if err != nil {
		return standIn(m), false
	}
	return out, true
}

// sanitizeState applies SanitizeOrStandIn to a combat state.
func sanitizeState(s CombatState) (CombatState, bool) {
	m, ok := SanitizeOrStandIn(s.Map())
	out := CombatState{Round: s.Round, CurrentTurnIndex: s.CurrentTurnIndex}
	list, _ := m["combatants"].([]any)
	for _, c := range list {
		if cm, isMap := c.(map[string]any); isMap {
			out.Combatants = append(out.Combatants, cm)
		}
	}
	return out, ok
}

// sanitizeResult deep-copies res. Updates that cannot be sanitized are
// dropped and counted.
func sanitizeResult(res *Result) (*Result, int) {
	if res == nil {
		return nil, 0
	}
	out := &Result{
		Narrative: res.Narrative,
		Log:       append([]string(nil), res.Log...),
		Rounds:    res.Rounds,
	}
	dropped := 0
	for _, u := range res.Updates {
		clean, err := Sanitize(u)
		if err != nil {
			dropped++
			continue
		}
		out.Updates = append(out.Updates, clean)
	}
	return out, dropped
}
