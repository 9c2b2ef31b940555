// Package script resolves combat with a Lua tactics script.
//
// The script defines take_turn(view) and may define narrate(summary).
// take_turn receives {round, actor, combatants}, where each combatant is
// {index, instance_id, name, side, hp, max_hp, ac, status, attack, damage,
// active}, and returns {action = "attack"|"flee"|"pass", target = name or
// instance id, note = text}. Returning nil, or failing, falls back to
// attacking the weakest opponent. The script may roll dice with
// engine.dice.roll(expr) and log with engine.log.*.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/resolver"
	"github.com/cory-johannsen/dmscreen/internal/scripting"
)

const (
	hookTakeTurn = "take_turn"
	hookNarrate  = "narrate"
)

// Resolver is the Lua-driven bridge.Resolver.
type Resolver struct {
	path      string
	maxRounds int
	instLimit int
	logger    *zap.Logger
}

// New verifies that the script at path loads and defines take_turn.
//
// Precondition: logger must be non-nil; maxRounds < 1 is treated as 1;
// instLimit <= 0 uses scripting.DefaultInstructionLimit.
func New(path string, maxRounds, instLimit int, logger *zap.Logger) (*Resolver, error) {
	s, err := scripting.LoadFile(path, instLimit, scripting.Modules{Logger: logger})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if !s.Has(hookTakeTurn) {
		return nil, fmt.Errorf("script %q does not define %s", path, hookTakeTurn)
	}
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Resolver{path: path, maxRounds: maxRounds, instLimit: instLimit, logger: logger}, nil
}

// Resolve implements bridge.Resolver. Each resolution gets a fresh VM bound
// to roll, so scripts cannot carry state between runs.
func (r *Resolver) Resolve(ctx context.Context, state bridge.CombatState, roll bridge.DiceRoller, onTurn bridge.TurnUpdateFunc, done bridge.CompletionFunc) {
	logger := r.logger.With(zap.String("script", r.path))
	s, err := scripting.LoadFile(r.path, r.instLimit, scripting.Modules{Roll: roll, Logger: logger})
	if err != nil {
		done(nil, err)
		return
	}
	defer s.Close()

	decide := func(ctx context.Context, fs []*resolver.Fighter, round int, actor *resolver.Fighter) (resolver.Decision, error) {
		ret, err := s.Call(ctx, hookTakeTurn, view(fs, round, actor))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return resolver.Decision{}, err
			}
			logger.Warn("take_turn failed; attacking weakest opponent",
				zap.String("actor", actor.Name),
				zap.Error(err),
			)
			return resolver.Attacker(ctx, fs, round, actor)
		}
		return decision(ctx, ret, fs, round, actor)
	}

	res, err := resolver.Run(ctx, state, roll, onTurn, r.maxRounds, decide)
	if err != nil {
		done(nil, err)
		return
	}

	if s.Has(hookNarrate) {
		ret, err := s.Call(ctx, hookNarrate, map[string]any{
			"rounds":    res.Rounds,
			"narrative": res.Narrative,
			"log":       toAny(res.Log),
		})
		if err != nil {
			logger.Warn("narrate failed; keeping default narrative", zap.Error(err))
		} else if text, ok := ret.(string); ok && strings.TrimSpace(text) != "" {
			res.Narrative = text
		}
	}
	done(res, nil)
}

func view(fs []*resolver.Fighter, round int, actor *resolver.Fighter) map[string]any {
	list := make([]any, 0, len(fs))
	for _, f := range fs {
		list = append(list, fighterTable(f))
	}
	return map[string]any{
		"round":      round,
		"actor":      fighterTable(actor),
		"combatants": list,
	}
}

func fighterTable(f *resolver.Fighter) map[string]any {
	return map[string]any{
		"index":       f.Index + 1,
		"instance_id": f.InstanceID,
		"name":        f.Name,
		"side":        f.Side.String(),
		"hp":          f.HP,
		"max_hp":      f.MaxHP,
		"ac":          f.AC,
		"status":      f.Status,
		"attack":      f.AttackName,
		"damage":      f.Damage,
		"active":      f.Active(),
	}
}

// decision reads a take_turn result. Unknown actions and missing targets
// fall back to the default attack.
func decision(ctx context.Context, ret any, fs []*resolver.Fighter, round int, actor *resolver.Fighter) (resolver.Decision, error) {
	m, ok := ret.(map[string]any)
	if !ok {
		return resolver.Attacker(ctx, fs, round, actor)
	}
	note, _ := m["note"].(string)
	action, _ := m["action"].(string)
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "flee":
		return resolver.Decision{Move: resolver.MoveFlee, Note: note}, nil
	case "pass":
		return resolver.Decision{Move: resolver.MovePass, Note: note}, nil
	case "attack":
		ref, _ := m["target"].(string)
		if t := resolver.Find(fs, ref); t != nil && t.Active() && t.Side != actor.Side {
			return resolver.Decision{Move: resolver.MoveAttack, Target: t}, nil
		}
	}
	return resolver.Attacker(ctx, fs, round, actor)
}

func toAny(lines []string) []any {
	out := make([]any, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}
