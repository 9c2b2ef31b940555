package resolver

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
)

// Move is what a fighter does on its turn.
type Move int

const (
	// MoveAttack attacks Decision.Target.
	MoveAttack Move = iota
	// MoveFlee leaves the fight.
	MoveFlee
	// MovePass does nothing.
	MovePass
)

// Decision is one fighter's choice for its turn.
type Decision struct {
	Move   Move
	Target *Fighter
	// Note replaces the default narration for flee and pass moves.
	Note string
}

// Decider chooses the move of actor. It is called only for active actors
// while both sides still have someone standing.
type Decider func(ctx context.Context, fs []*Fighter, round int, actor *Fighter) (Decision, error)

// Attacker is the default Decider: attack the weakest standing opponent.
func Attacker(_ context.Context, fs []*Fighter, _ int, actor *Fighter) (Decision, error) {
	if t := Target(fs, actor); t != nil {
		return Decision{Move: MoveAttack, Target: t}, nil
	}
	return Decision{Move: MovePass}, nil
}

// Run plays rounds in state order, starting at the state's current turn,
// until one side is out or maxRounds rounds have been played. Each turn is
// published through onTurn; the returned Result summarises the outcome.
//
// Precondition: maxRounds >= 1.
// Postcondition: on ctx cancellation the context error is returned and no
// further turns are published.
func Run(ctx context.Context, st bridge.CombatState, roll bridge.DiceRoller, onTurn bridge.TurnUpdateFunc, maxRounds int, decide Decider) (*bridge.Result, error) {
	fs := Fighters(st)
	round := st.Round
	if round < 1 {
		round = 1
	}
	start := st.CurrentTurnIndex
	if start < 0 || start >= len(fs) {
		start = 0
	}

	var lines []string
	rounds := 0
	for rounds < maxRounds && !Decided(fs) {
		rounds++
		for i := start; i < len(fs) && !Decided(fs); i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			actor := fs[i]
			if !actor.Active() {
				continue
			}
			d, err := decide(ctx, fs, round, actor)
			if err != nil {
				return nil, fmt.Errorf("deciding turn of %q: %w", actor.Name, err)
			}
			action, line := play(roll, actor, d)
			lines = append(lines, line)
			onTurn(TurnUpdate(round, i, fs, action))
		}
		start = 0
		round++
	}

	return &bridge.Result{
		Narrative: Narrative(fs, rounds),
		Updates:   FinalUpdates(fs),
		Log:       lines,
		Rounds:    rounds,
	}, nil
}

// play carries out d and returns the latest_action map and a narrative line.
func play(roll bridge.DiceRoller, actor *Fighter, d Decision) (map[string]any, string) {
	switch d.Move {
	case MoveAttack:
		if d.Target == nil || !d.Target.Active() || d.Target.Side == actor.Side {
			return Action(actor.Name, "hesitates", "", "no valid target"), actor.Name + " hesitates."
		}
		s := Attack(roll, actor, d.Target)
		action := s.Action()
		line := s.String()
		if r, checked := CheckMorale(roll, d.Target); checked {
			if d.Target.Fled {
				line += fmt.Sprintf(" %s flees.", d.Target.Name)
				action["result"] = fmt.Sprint(action["result"], "; ", d.Target.Name, " flees")
			}
			action["dice"] = append(action["dice"].([]any), map[string]any{"expression": r.Expression, "total": r.Total})
		}
		return action, line
	case MoveFlee:
		Flee(actor)
		note := d.Note
		if note == "" {
			note = "flees the battle"
		}
		return Action(actor.Name, "flees", "", note), fmt.Sprintf("%s %s.", actor.Name, note)
	default:
		note := d.Note
		if note == "" {
			note = "holds position"
		}
		return Action(actor.Name, "passes", "", note), fmt.Sprintf("%s %s.", actor.Name, note)
	}
}
