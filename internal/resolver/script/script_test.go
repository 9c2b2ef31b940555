package script_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
	"github.com/cory-johannsen/dmscreen/internal/resolver/script"
)

const shippedTactics = "../../../scripts/tactics.lua"

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tactics.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func state(goblinHP int) bridge.CombatState {
	return bridge.CombatState{
		Round: 1,
		Combatants: []map[string]any{
			{"instance_id": "aria", "name": "Aria", "type": "character", "hp": 20, "max_hp": 20, "ac": 15},
			{"instance_id": "gob", "name": "Goblin", "type": "monster", "hp": goblinHP, "max_hp": 8, "ac": 13},
		},
	}
}

type outcome struct {
	turns []map[string]any
	res   *bridge.Result
	err   error
	calls int
}

func resolve(t *testing.T, r *script.Resolver, ctx context.Context, st bridge.CombatState, roll bridge.DiceRoller) outcome {
	t.Helper()
	var o outcome
	r.Resolve(ctx, st, roll,
		func(u map[string]any) { o.turns = append(o.turns, u) },
		func(res *bridge.Result, err error) {
			o.calls++
			o.res, o.err = res, err
		})
	require.Equal(t, 1, o.calls)
	return o
}

func fixed(v int) bridge.DiceRoller {
	return dice.NewRoller(&dice.FixedSource{Values: []int{v}}, zap.NewNop()).Total
}

func TestNew_Validates(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := script.New(filepath.Join(t.TempDir(), "missing.lua"), 5, 0, logger)
	assert.Error(t, err)

	_, err = script.New(writeScript(t, `function other() end`), 5, 0, logger)
	assert.ErrorContains(t, err, "take_turn")

	_, err = script.New(writeScript(t, `this is not lua`), 5, 0, logger)
	assert.Error(t, err)

	r, err := script.New(shippedTactics, 5, 0, logger)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestResolve_ScriptChoosesTargetsAndNarrates(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			if view.actor.side == "party" then
				return { action = "attack", target = "goblin" }
			end
			return { action = "pass", note = "cowers" }
		end
		function narrate(summary)
			return "Scripted: " .. summary.rounds
		end
	`)
	r, err := script.New(path, 5, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := resolve(t, r, context.Background(), state(8), fixed(19))
	require.NoError(t, o.err)
	require.Len(t, o.turns, 1)
	action := o.turns[0]["latest_action"].(map[string]any)
	assert.Equal(t, "Goblin", action["target"])
	assert.Equal(t, "Scripted: 1", o.res.Narrative)
	assert.Equal(t, "Dead", o.res.Updates[0]["status"])
}

func TestResolve_PassAndFlee(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			if view.actor.side == "party" then
				return { action = "pass" }
			end
			return { action = "flee", note = "scrambles away" }
		end
	`)
	r, err := script.New(path, 5, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := resolve(t, r, context.Background(), state(8), fixed(0))
	require.NoError(t, o.err)
	assert.Equal(t, []string{"Aria holds position.", "Goblin scrambles away."}, o.res.Log)
	require.Len(t, o.res.Updates, 1)
	assert.Equal(t, "Fled", o.res.Updates[0]["status"])
}

func TestResolve_ScriptErrorFallsBackToAttack(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			if view.round > 0 then error("confused") end
		end
	`)
	r, err := script.New(path, 1, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := resolve(t, r, context.Background(), state(8), fixed(0))
	require.NoError(t, o.err)
	require.Len(t, o.turns, 2)
	for _, u := range o.turns {
		assert.Contains(t, u["latest_action"].(map[string]any)["result"], "miss")
	}
}

func TestResolve_UnknownTargetFallsBackToWeakest(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			return { action = "attack", target = "Nobody" }
		end
	`)
	r, err := script.New(path, 1, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := resolve(t, r, context.Background(), state(8), fixed(0))
	require.NoError(t, o.err)
	first := o.turns[0]["latest_action"].(map[string]any)
	assert.Equal(t, "Goblin", first["target"])
}

func TestResolve_ScriptRollsDice(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			local r = engine.dice.roll("1d4")
			engine.log.debug("rolled " .. r.total)
			return { action = "pass", note = "rolled " .. r.total }
		end
	`)
	r, err := script.New(path, 1, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	var asked []string
	roll := func(expr string) int {
		asked = append(asked, expr)
		return 3
	}
	o := resolve(t, r, context.Background(), state(8), roll)
	require.NoError(t, o.err)
	assert.Equal(t, []string{"1d4", "1d4"}, asked)
	assert.Equal(t, "Aria rolled 3.", o.res.Log[0])
}

func TestResolve_ShippedTacticsBreakLoneFoe(t *testing.T) {
	r, err := script.New(shippedTactics, 5, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	st := state(3)
	st.CurrentTurnIndex = 1
	o := resolve(t, r, context.Background(), st, fixed(0))
	require.NoError(t, o.err)
	require.Len(t, o.turns, 1)
	assert.Equal(t, "flees", o.turns[0]["latest_action"].(map[string]any)["action"])
	assert.Equal(t, "Fled", o.res.Updates[0]["status"])
	assert.Equal(t, "The party wins after 1 round with 1 still standing. (1 actions)", o.res.Narrative)
}

func TestResolve_Cancelled(t *testing.T) {
	r, err := script.New(shippedTactics, 5, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := resolve(t, r, ctx, state(8), fixed(0))
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.Nil(t, o.res)
	assert.Empty(t, o.turns)
}

func TestResolve_RunawayScriptFallsBack(t *testing.T) {
	path := writeScript(t, `
		function take_turn(view)
			while true do end
		end
	`)
	r, err := script.New(path, 1, 500, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := resolve(t, r, context.Background(), state(8), fixed(0))
	require.NoError(t, o.err)
	assert.Len(t, o.turns, 2)
}
