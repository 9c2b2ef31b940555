// Package resolver holds the combat model shared by the built-in resolvers:
// a working copy of each combatant, target selection, attack resolution and
// the wire shapes of turn and final updates.
//
// Nothing here touches the tracker. Every value is derived from the
// bridge.CombatState handed to a resolver and lives on the resolver's own
// goroutine.
package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
)

// Side groups combatants that fight together.
type Side int

const (
	// SideParty holds player characters.
	SideParty Side = iota
	// SideFoes holds monsters and manual entries.
	SideFoes
)

// String returns "party" or "foes".
func (s Side) String() string {
	if s == SideParty {
		return "party"
	}
	return "foes"
}

const (
	defaultAttackBonus = 4
	defaultPartyDamage = "1d8+2"
	defaultFoeDamage   = "1d6+1"
	defaultAttackName  = "attack"
)

// damagePattern finds the first dice expression inside free text such as
// "7 (2d6) slashing" or "1d8 + 3 piercing".
var damagePattern = regexp.MustCompile(`\d*d\d+(?:\s*[+-]\s*\d+)?`)

// Fighter is a resolver's working copy of one combatant.
type Fighter struct {
	Index       int
	InstanceID  string
	Name        string
	Side        Side
	HP          int
	MaxHP       int
	AC          int
	Status      string
	AttackName  string
	AttackBonus int
	Damage      string
	Fled        bool

	startHP int
}

// Active reports whether f can still act and be targeted.
func (f *Fighter) Active() bool {
	if f.Fled || f.HP <= 0 {
		return false
	}
	s := strings.ToLower(f.Status)
	return !strings.Contains(s, "dead") && !strings.Contains(s, "fled")
}

// Hurt reports whether f lost HP since the resolution began.
func (f *Fighter) Hurt() bool { return f.HP != f.startHP }

// Fighters builds one Fighter per combatant in st, in state order.
//
// Postcondition: len(result) == len(st.Combatants); result[i].Index == i.
func Fighters(st bridge.CombatState) []*Fighter {
	out := make([]*Fighter, 0, len(st.Combatants))
	for i, c := range st.Combatants {
		f := &Fighter{
			Index:      i,
			InstanceID: fmt.Sprint(valueOr(c["instance_id"], "")),
			Name:       fmt.Sprint(valueOr(c["name"], "")),
			Side:       SideFoes,
			HP:         bridge.ParseHP(c["hp"], 0),
			AC:         bridge.ParseHP(c["ac"], 10),
		}
		f.MaxHP = bridge.ParseHP(c["max_hp"], f.HP)
		f.startHP = f.HP
		if s, ok := c["status"].(string); ok {
			f.Status = s
		}
		if kind, _ := combat.ParseKind(fmt.Sprint(c["type"])); kind == combat.KindCharacter {
			f.Side = SideParty
		}
		f.AttackName, f.AttackBonus, f.Damage = pickAttack(c, f.Side)
		out = append(out, f)
	}
	return out
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}

// pickAttack chooses the first action that carries a usable damage
// expression, falling back to per-side defaults.
func pickAttack(c map[string]any, side Side) (name string, bonus int, damage string) {
	name, damage = defaultAttackName, defaultFoeDamage
	if side == SideParty {
		damage = defaultPartyDamage
	}
	bonus = bridge.ParseHP(c["attack_bonus"], defaultAttackBonus)

	actions, _ := c["actions"].([]any)
	for _, item := range actions {
		a, ok := item.(map[string]any)
		if !ok {
			continue
		}
		expr := DamageExpr(fmt.Sprint(valueOr(a["damage"], "")))
		if expr == "" {
			continue
		}
		name = actionName(a)
		for _, key := range []string{"attack_bonus", "to_hit"} {
			if v, ok := a[key]; ok {
				bonus = bridge.ParseHP(v, bonus)
				break
			}
		}
		return name, bonus, expr
	}
	return name, bonus, damage
}

func actionName(a map[string]any) string {
	for _, key := range []string{"base_name", "name"} {
		if s, ok := a[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return defaultAttackName
}

// DamageExpr extracts a rollable dice expression from text, or "" when it
// holds none.
func DamageExpr(text string) string {
	m := damagePattern.FindString(strings.ToLower(text))
	if m == "" {
		return ""
	}
	m = strings.Join(strings.Fields(m), "")
	if _, err := dice.Parse(m); err != nil {
		return ""
	}
	return m
}

// Target picks the active opponent of actor with the fewest HP; ties go to
// the earlier combatant. It returns nil when no opponent is standing.
func Target(fs []*Fighter, actor *Fighter) *Fighter {
	var best *Fighter
	for _, f := range fs {
		if f.Side == actor.Side || !f.Active() {
			continue
		}
		if best == nil || f.HP < best.HP {
			best = f
		}
	}
	return best
}

// Find returns the fighter addressed by ref, matching instance id first and
// then name case-insensitively.
func Find(fs []*Fighter, ref string) *Fighter {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	for _, f := range fs {
		if f.InstanceID == ref {
			return f
		}
	}
	for _, f := range fs {
		if strings.EqualFold(f.Name, ref) {
			return f
		}
	}
	return nil
}

// Standing counts the active fighters on side.
func Standing(fs []*Fighter, side Side) int {
	n := 0
	for _, f := range fs {
		if f.Side == side && f.Active() {
			n++
		}
	}
	return n
}

// Decided reports whether one side has nobody left standing.
func Decided(fs []*Fighter) bool {
	return Standing(fs, SideParty) == 0 || Standing(fs, SideFoes) == 0
}

// Roll is one dice roll made during an action.
type Roll struct {
	Expression string
	Total      int
}

// Swing is the outcome of one attack.
type Swing struct {
	Actor   *Fighter
	Target  *Fighter
	Natural int
	Total   int
	Hit     bool
	Crit    bool
	Damage  int
	Rolls   []Roll
}

// Attack resolves actor attacking target: d20 plus the attack bonus against
// the target's AC. A natural 20 always hits and doubles damage; a natural 1
// always misses. Damage is subtracted from target.HP, never below zero.
//
// Precondition: actor and target are non-nil and active.
// Postcondition: target.HP >= 0.
func Attack(roll bridge.DiceRoller, actor, target *Fighter) Swing {
	s := Swing{Actor: actor, Target: target}
	atkExpr := fmt.Sprintf("1d20%+d", actor.AttackBonus)
	s.Total = roll(atkExpr)
	s.Natural = s.Total - actor.AttackBonus
	s.Rolls = append(s.Rolls, Roll{Expression: atkExpr, Total: s.Total})

	switch {
	case s.Natural >= 20:
		s.Hit, s.Crit = true, true
	case s.Natural <= 1:
		s.Hit = false
	default:
		s.Hit = s.Total >= target.AC
	}
	if !s.Hit {
		return s
	}

	dmg := roll(actor.Damage)
	s.Rolls = append(s.Rolls, Roll{Expression: actor.Damage, Total: dmg})
	if dmg < 1 {
		dmg = 1
	}
	if s.Crit {
		dmg *= 2
	}
	s.Damage = dmg
	target.HP -= dmg
	if target.HP < 0 {
		target.HP = 0
	}
	return s
}

// Result renders the outcome half of the swing, e.g. "hit for 6 (HP 4/10)".
func (s Swing) Result() string {
	switch {
	case !s.Hit:
		return fmt.Sprintf("miss (%d vs AC %d)", s.Total, s.Target.AC)
	case s.Crit:
		return fmt.Sprintf("critical hit for %d (HP %d/%d)", s.Damage, s.Target.HP, s.Target.MaxHP)
	default:
		return fmt.Sprintf("hit for %d (HP %d/%d)", s.Damage, s.Target.HP, s.Target.MaxHP)
	}
}

// String renders the swing as one narrative line.
func (s Swing) String() string {
	return fmt.Sprintf("%s uses %s on %s: %s", s.Actor.Name, s.Actor.AttackName, s.Target.Name, s.Result())
}

// Action renders the swing as a latest_action map.
func (s Swing) Action() map[string]any {
	return Action(s.Actor.Name, "uses "+s.Actor.AttackName, s.Target.Name, s.Result(), s.Rolls...)
}

// Action builds a latest_action map.
func Action(actor, action, target, result string, rolls ...Roll) map[string]any {
	m := map[string]any{
		"actor":  actor,
		"action": action,
		"result": result,
	}
	if target != "" {
		m["target"] = target
	}
	if len(rolls) > 0 {
		list := make([]any, 0, len(rolls))
		for _, r := range rolls {
			list = append(list, map[string]any{"expression": r.Expression, "total": r.Total})
		}
		m["dice"] = list
	}
	return m
}

// moraleThreshold is the d20 result a badly hurt foe must reach to hold.
const moraleThreshold = 10

// CheckMorale makes a foe at a quarter of its HP or less roll 1d20; below
// moraleThreshold it flees. It returns the roll made, if any.
func CheckMorale(roll bridge.DiceRoller, f *Fighter) (Roll, bool) {
	if f.Side != SideFoes || !f.Active() || f.MaxHP <= 0 || f.HP*4 > f.MaxHP {
		return Roll{}, false
	}
	r := Roll{Expression: "1d20", Total: roll("1d20")}
	if r.Total < moraleThreshold {
		Flee(f)
	}
	return r, true
}

// Flee marks f as having left the fight.
func Flee(f *Fighter) {
	f.Fled = true
	f.Status = "Fled"
}

// TurnUpdate renders a turn snapshot in the wire shape the bridge applies.
func TurnUpdate(round, turn int, fs []*Fighter, action map[string]any) map[string]any {
	list := make([]any, 0, len(fs))
	for _, f := range fs {
		m := map[string]any{
			"instance_id": f.InstanceID,
			"name":        f.Name,
			"hp":          f.HP,
		}
		if f.Status != "" || f.Fled {
			m["status"] = f.Status
		}
		list = append(list, m)
	}
	u := map[string]any{
		"round":              round,
		"current_turn_index": turn,
		"combatants":         list,
	}
	if action != nil {
		u["latest_action"] = action
	}
	return u
}

// FinalUpdates lists the end state: foes at 0 HP are Dead, fleeing
// combatants are Fled, and party members who lost HP report it.
func FinalUpdates(fs []*Fighter) []map[string]any {
	var out []map[string]any
	for _, f := range fs {
		base := map[string]any{"instance_id": f.InstanceID, "name": f.Name}
		switch {
		case f.Fled:
			base["status"] = "Fled"
		case f.Side == SideFoes && f.HP <= 0:
			base["hp"] = 0
			base["status"] = "Dead"
		case f.Hurt():
			base["hp"] = f.HP
		default:
			continue
		}
		out = append(out, base)
	}
	return out
}

// Narrative summarises the outcome after rounds rounds.
func Narrative(fs []*Fighter, rounds int) string {
	party, foes := Standing(fs, SideParty), Standing(fs, SideFoes)
	plural := "s"
	if rounds == 1 {
		plural = ""
	}
	switch {
	case foes == 0 && party == 0:
		return fmt.Sprintf("After %d round%s nobody is left standing.", rounds, plural)
	case foes == 0:
		return fmt.Sprintf("The party wins after %d round%s with %d still standing.", rounds, plural, party)
	case party == 0:
		return fmt.Sprintf("The party falls after %d round%s; %d foe(s) remain.", rounds, plural, foes)
	default:
		return fmt.Sprintf("The fight is undecided after %d round%s: %d party member(s) and %d foe(s) standing.", rounds, plural, party, foes)
	}
}
