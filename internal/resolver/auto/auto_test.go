package auto_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
	"github.com/cory-johannsen/dmscreen/internal/resolver/auto"
)

func state() bridge.CombatState {
	// Values arrive as float64 once the bridge has sanitized them.
	return bridge.CombatState{
		Round: 1,
		Combatants: []map[string]any{
			{"instance_id": "aria", "name": "Aria", "type": "character", "hp": 20.0, "max_hp": 20.0, "ac": 15.0},
			{"instance_id": "gob", "name": "Goblin", "type": "monster", "hp": 7.0, "max_hp": 7.0, "ac": 13.0},
		},
	}
}

func TestResolve_CompletesOnce(t *testing.T) {
	r := auto.New(zaptest.NewLogger(t), 10)
	roll := dice.NewRoller(&dice.FixedSource{Values: []int{19}}, zap.NewNop()).Total

	var (
		turns int
		calls int
		got   *bridge.Result
	)
	r.Resolve(context.Background(), state(), roll,
		func(map[string]any) { turns++ },
		func(res *bridge.Result, err error) {
			calls++
			require.NoError(t, err)
			got = res
		})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, turns)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Rounds)
	assert.Equal(t, []map[string]any{{"instance_id": "gob", "name": "Goblin", "hp": 0, "status": "Dead"}}, got.Updates)
}

func TestResolve_CancelledReportsError(t *testing.T) {
	r := auto.New(zaptest.NewLogger(t), 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	r.Resolve(ctx, state(), func(string) int { return 1 }, func(map[string]any) {}, func(res *bridge.Result, err error) {
		assert.Nil(t, res)
		gotErr = err
	})
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestNew_ClampsMaxRounds(t *testing.T) {
	r := auto.New(zaptest.NewLogger(t), 0)
	var rounds int
	r.Resolve(context.Background(), state(), func(string) int { return 1 }, func(map[string]any) {}, func(res *bridge.Result, err error) {
		require.NoError(t, err)
		rounds = res.Rounds
	})
	assert.Equal(t, 1, rounds)
}
