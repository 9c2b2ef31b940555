package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
	"github.com/cory-johannsen/dmscreen/internal/resolver"
)

// fixedRoller rolls with a FixedSource cycling through values.
func fixedRoller(values ...int) bridge.DiceRoller {
	return dice.NewRoller(&dice.FixedSource{Values: values}, zap.NewNop()).Total
}

// sequence returns the given totals in order, then zeros.
func sequence(totals ...int) (bridge.DiceRoller, *[]string) {
	var asked []string
	i := 0
	return func(expr string) int {
		asked = append(asked, expr)
		if i >= len(totals) {
			return 0
		}
		i++
		return totals[i-1]
	}, &asked
}

func skirmish() bridge.CombatState {
	return bridge.CombatState{
		Round:            1,
		CurrentTurnIndex: 0,
		Combatants: []map[string]any{
			{"instance_id": "aria", "name": "Aria", "type": "character", "hp": 20, "max_hp": 20, "ac": 15, "status": ""},
			{
				"instance_id": "gob", "name": "Goblin", "type": "monster", "hp": 8, "max_hp": 8, "ac": 13, "status": "",
				"actions": []any{
					map[string]any{"name": "Multiattack"},
					map[string]any{"name": "Goblin: Scimitar", "base_name": "Scimitar", "attack_bonus": "+4", "damage": "5 (1d6 + 2) slashing"},
				},
			},
		},
	}
}

func TestDamageExpr(t *testing.T) {
	assert.Equal(t, "2d6", resolver.DamageExpr("7 (2d6) slashing"))
	assert.Equal(t, "1d8+3", resolver.DamageExpr("1d8 + 3 piercing"))
	assert.Equal(t, "d4", resolver.DamageExpr("D4 bludgeoning"))
	assert.Empty(t, resolver.DamageExpr("none"))
	assert.Empty(t, resolver.DamageExpr("1d1"))
}

func TestFighters(t *testing.T) {
	fs := resolver.Fighters(skirmish())
	require.Len(t, fs, 2)

	aria, gob := fs[0], fs[1]
	assert.Equal(t, resolver.SideParty, aria.Side)
	assert.Equal(t, "1d8+2", aria.Damage)
	assert.Equal(t, 4, aria.AttackBonus)

	assert.Equal(t, resolver.SideFoes, gob.Side)
	assert.Equal(t, 1, gob.Index)
	assert.Equal(t, "Scimitar", gob.AttackName)
	assert.Equal(t, "1d6+2", gob.Damage)
	assert.Equal(t, 4, gob.AttackBonus)
	assert.Equal(t, 8, gob.MaxHP)
}

func TestFighters_ManualEntriesAreFoes(t *testing.T) {
	fs := resolver.Fighters(bridge.CombatState{Combatants: []map[string]any{
		{"name": "Lair", "type": "manual", "hp": 1},
	}})
	require.Len(t, fs, 1)
	assert.Equal(t, resolver.SideFoes, fs[0].Side)
	assert.Equal(t, 1, fs[0].MaxHP)
	assert.Equal(t, 10, fs[0].AC)
}

func TestTarget_WeakestOpponent(t *testing.T) {
	fs := []*resolver.Fighter{
		{Name: "Aria", Side: resolver.SideParty, HP: 10},
		{Name: "Big", Side: resolver.SideFoes, HP: 30},
		{Name: "Small", Side: resolver.SideFoes, HP: 3},
		{Name: "Gone", Side: resolver.SideFoes, HP: 1, Fled: true},
	}
	assert.Equal(t, "Small", resolver.Target(fs, fs[0]).Name)
	assert.Equal(t, "Aria", resolver.Target(fs, fs[1]).Name)

	fs[2].HP = 0
	fs[1].Status = "Dead"
	assert.Nil(t, resolver.Target(fs, fs[0]))
	assert.True(t, resolver.Decided(fs))
}

func TestFind(t *testing.T) {
	fs := resolver.Fighters(skirmish())
	assert.Equal(t, "Goblin", resolver.Find(fs, "gob").Name)
	assert.Equal(t, "Goblin", resolver.Find(fs, "goblin").Name)
	assert.Nil(t, resolver.Find(fs, ""))
	assert.Nil(t, resolver.Find(fs, "Orc"))
}

func TestAttack(t *testing.T) {
	newPair := func() (*resolver.Fighter, *resolver.Fighter) {
		return &resolver.Fighter{Name: "Aria", AttackName: "Longsword", AttackBonus: 4, Damage: "1d6+1"},
			&resolver.Fighter{Name: "Goblin", HP: 7, MaxHP: 7, AC: 12}
	}

	t.Run("hit", func(t *testing.T) {
		a, g := newPair()
		s := resolver.Attack(fixedRoller(9), a, g)
		assert.Equal(t, 10, s.Natural)
		assert.True(t, s.Hit)
		assert.False(t, s.Crit)
		assert.Equal(t, 5, s.Damage)
		assert.Equal(t, 2, g.HP)
		assert.Equal(t, "Aria uses Longsword on Goblin: hit for 5 (HP 2/7)", s.String())
		require.Len(t, s.Rolls, 2)
		assert.Equal(t, resolver.Roll{Expression: "1d20+4", Total: 14}, s.Rolls[0])
	})

	t.Run("natural twenty doubles damage", func(t *testing.T) {
		a, g := newPair()
		s := resolver.Attack(fixedRoller(19), a, g)
		assert.True(t, s.Crit)
		assert.Equal(t, 6, s.Damage)
		assert.Equal(t, 1, g.HP)
	})

	t.Run("natural one misses", func(t *testing.T) {
		a, g := newPair()
		a.AttackBonus = 30
		s := resolver.Attack(fixedRoller(0), a, g)
		assert.False(t, s.Hit)
		assert.Equal(t, 7, g.HP)
		assert.Len(t, s.Rolls, 1)
		assert.Contains(t, s.Result(), "miss")
	})

	t.Run("hp floors at zero", func(t *testing.T) {
		a, g := newPair()
		g.HP = 1
		resolver.Attack(fixedRoller(9), a, g)
		assert.Equal(t, 0, g.HP)
		assert.False(t, g.Active())
	})
}

func TestCheckMorale(t *testing.T) {
	g := &resolver.Fighter{Name: "Goblin", Side: resolver.SideFoes, HP: 2, MaxHP: 8}
	roll, _ := sequence(5)
	r, checked := resolver.CheckMorale(roll, g)
	assert.True(t, checked)
	assert.Equal(t, 5, r.Total)
	assert.True(t, g.Fled)
	assert.Equal(t, "Fled", g.Status)

	brave := &resolver.Fighter{Name: "Goblin", Side: resolver.SideFoes, HP: 2, MaxHP: 8}
	roll, _ = sequence(15)
	_, checked = resolver.CheckMorale(roll, brave)
	assert.True(t, checked)
	assert.False(t, brave.Fled)

	healthy := &resolver.Fighter{Side: resolver.SideFoes, HP: 3, MaxHP: 8}
	_, checked = resolver.CheckMorale(roll, healthy)
	assert.False(t, checked)

	hero := &resolver.Fighter{Side: resolver.SideParty, HP: 1, MaxHP: 8}
	_, checked = resolver.CheckMorale(roll, hero)
	assert.False(t, checked)
}

func TestFinalUpdates(t *testing.T) {
	st := skirmish()
	fs := resolver.Fighters(st)
	assert.Empty(t, resolver.FinalUpdates(fs))

	fs[0].HP = 12
	fs[1].HP = 0
	ups := resolver.FinalUpdates(fs)
	require.Len(t, ups, 2)
	assert.Equal(t, map[string]any{"instance_id": "aria", "name": "Aria", "hp": 12}, ups[0])
	assert.Equal(t, map[string]any{"instance_id": "gob", "name": "Goblin", "hp": 0, "status": "Dead"}, ups[1])

	resolver.Flee(fs[1])
	ups = resolver.FinalUpdates(fs)
	assert.Equal(t, "Fled", ups[1]["status"])
	assert.NotContains(t, ups[1], "hp")
}

func TestRun_PartyWinsInOneRound(t *testing.T) {
	var updates []map[string]any
	res, err := resolver.Run(context.Background(), skirmish(), fixedRoller(19),
		func(u map[string]any) { updates = append(updates, u) }, 5, resolver.Attacker)
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0]["round"])
	assert.Equal(t, 0, updates[0]["current_turn_index"])
	action := updates[0]["latest_action"].(map[string]any)
	assert.Equal(t, "Aria", action["actor"])
	assert.Equal(t, "Goblin", action["target"])

	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, "The party wins after 1 round with 1 still standing.", res.Narrative)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, "Dead", res.Updates[0]["status"])
	assert.Len(t, res.Log, 1)
}

func TestRun_UndecidedAfterMaxRounds(t *testing.T) {
	var updates []map[string]any
	res, err := resolver.Run(context.Background(), skirmish(), fixedRoller(0),
		func(u map[string]any) { updates = append(updates, u) }, 2, resolver.Attacker)
	require.NoError(t, err)
	assert.Len(t, updates, 4)
	assert.Equal(t, 2, updates[3]["round"])
	assert.Equal(t, 2, res.Rounds)
	assert.Empty(t, res.Updates)
	assert.Contains(t, res.Narrative, "undecided after 2 rounds")
}

func TestRun_StartsAtCurrentTurn(t *testing.T) {
	st := skirmish()
	st.Round, st.CurrentTurnIndex = 3, 1

	var updates []map[string]any
	_, err := resolver.Run(context.Background(), st, fixedRoller(0),
		func(u map[string]any) { updates = append(updates, u) }, 1, resolver.Attacker)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 3, updates[0]["round"])
	assert.Equal(t, 1, updates[0]["current_turn_index"])
}

func TestRun_MoraleBreak(t *testing.T) {
	roll, asked := sequence(14, 6, 5)
	res, err := resolver.Run(context.Background(), skirmish(), roll, func(map[string]any) {}, 3, resolver.Attacker)
	require.NoError(t, err)
	assert.Equal(t, []string{"1d20+4", "1d8+2", "1d20"}, *asked)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, "Fled", res.Updates[0]["status"])
	assert.Contains(t, res.Log[0], "Goblin flees.")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := resolver.Run(ctx, skirmish(), fixedRoller(0), func(map[string]any) {
		t.Fatal("no turn expected")
	}, 3, resolver.Attacker)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_DeciderMoves(t *testing.T) {
	decide := func(_ context.Context, fs []*resolver.Fighter, _ int, actor *resolver.Fighter) (resolver.Decision, error) {
		if actor.Side == resolver.SideFoes {
			return resolver.Decision{Move: resolver.MoveFlee, Note: "runs for the hills"}, nil
		}
		return resolver.Decision{Move: resolver.MovePass}, nil
	}
	res, err := resolver.Run(context.Background(), skirmish(), fixedRoller(0), func(map[string]any) {}, 3, decide)
	require.NoError(t, err)
	assert.Equal(t, []string{"Aria holds position.", "Goblin runs for the hills."}, res.Log)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, "Fled", res.Updates[0]["status"])
}

func TestRun_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(t, "n")
		st := bridge.CombatState{Round: 1}
		for i := 0; i < n; i++ {
			kind := "monster"
			if i%2 == 0 {
				kind = "character"
			}
			st.Combatants = append(st.Combatants, map[string]any{
				"instance_id": string(rune('a' + i)),
				"name":        string(rune('A' + i)),
				"type":        kind,
				"hp":          rapid.IntRange(1, 40).Draw(t, "hp"),
				"ac":          rapid.IntRange(5, 22).Draw(t, "ac"),
			})
		}
		values := rapid.SliceOfN(rapid.IntRange(0, 100), 1, 20).Draw(t, "values")
		maxRounds := rapid.IntRange(1, 10).Draw(t, "maxRounds")

		res, err := resolver.Run(context.Background(), st, fixedRoller(values...), func(u map[string]any) {
			for _, item := range u["combatants"].([]any) {
				if hp := item.(map[string]any)["hp"].(int); hp < 0 {
					t.Fatalf("negative hp %d", hp)
				}
			}
		}, maxRounds, resolver.Attacker)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if res.Rounds < 1 || res.Rounds > maxRounds {
			t.Fatalf("rounds %d outside [1,%d]", res.Rounds, maxRounds)
		}
		for _, u := range res.Updates {
			id := u["instance_id"].(string)
			if len(id) != 1 || id[0] < 'a' || int(id[0]-'a') >= n {
				t.Fatalf("update for unknown combatant %q", id)
			}
		}
	})
}
