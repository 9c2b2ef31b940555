package dice_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmscreen/internal/game/dice"
)

func TestRollResult_Total(t *testing.T) {
	r := dice.RollResult{Expression: "2d6+3", Dice: []int{4, 5}, Modifier: 3}
	assert.Equal(t, 12, r.Total())
}

func TestRollResult_String(t *testing.T) {
	r := dice.RollResult{Expression: "2d6+3", Dice: []int{4, 5}, Modifier: 3}
	assert.Equal(t, "2d6+3: [4 5] +3 = 12", r.String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		count int
		sides int
		mod   int
	}{
		{"d20", 1, 20, 0},
		{"2d6", 2, 6, 0},
		{"1d8+3", 1, 8, 3},
		{"3d4-1", 3, 4, -1},
		{" 2D10 + 5 ", 2, 10, 5},
	}
	for _, tc := range tests {
		e, err := dice.Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.count, e.Count, tc.in)
		assert.Equal(t, tc.sides, e.Sides, tc.in)
		assert.Equal(t, tc.mod, e.Modifier, tc.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "d", "2d", "d1", "0d6", "abc", "2d6+", "101d6", "2d6*3"} {
		_, err := dice.Parse(in)
		assert.Error(t, err, "expected %q to be rejected", in)
	}
}

func TestRoll_UsesSource(t *testing.T) {
	src := &dice.FixedSource{Values: []int{3, 5}}
	e, err := dice.Parse("2d6+1")
	require.NoError(t, err)
	r := dice.Roll(e, src)
	assert.Equal(t, []int{4, 6}, r.Dice)
	assert.Equal(t, 11, r.Total())
}

func TestRoll_Property_WithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 20).Draw(rt, "count")
		sides := rapid.IntRange(2, 100).Draw(rt, "sides")
		mod := rapid.IntRange(-20, 20).Draw(rt, "mod")
		expr := fmt.Sprintf("%dd%d%+d", count, sides, mod)

		e, err := dice.Parse(expr)
		require.NoError(rt, err)
		r := dice.Roll(e, dice.NewSeededSource(uint64(count*sides)))
		assert.Len(rt, r.Dice, count)
		assert.GreaterOrEqual(rt, r.Total(), count+mod)
		assert.LessOrEqual(rt, r.Total(), count*sides+mod)
	})
}

func TestSeededSource_Deterministic(t *testing.T) {
	a := dice.NewSeededSource(42)
	b := dice.NewSeededSource(42)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Intn(20), b.Intn(20))
	}
}

func TestCryptoSource_Intn_InRange(t *testing.T) {
	src := dice.NewCryptoSource()
	for i := 0; i < 1000; i++ {
		v := src.Intn(6)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 6)
	}
}

func TestCryptoSource_Intn_PanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { dice.NewCryptoSource().Intn(0) })
}

func TestRoller_OnRollObserver(t *testing.T) {
	var seen []string
	r := dice.NewRoller(&dice.FixedSource{Values: []int{9}}, zap.NewNop()).
		OnRoll(func(res dice.RollResult) { seen = append(seen, res.String()) })

	assert.Equal(t, 12, r.Total("1d20+2"))
	require.Len(t, seen, 1)
	assert.True(t, strings.HasPrefix(seen[0], "1d20+2"))

	assert.Equal(t, 0, r.Total("fireball"))
	assert.Len(t, seen, 1, "a rejected expression is not reported")
}
