// Package combat implements the combat tracker core: the combatant store,
// initiative ordering, and the turn cursor.
//
// None of the types in this package are safe for concurrent use. They are
// owned by the UI goroutine; background work reaches them only through
// messages marshaled onto that goroutine.
package combat

import (
	"strings"
	"unicode"
)

// Kind distinguishes player characters, monsters, and manual entries.
type Kind int

const (
	KindManual Kind = iota
	KindCharacter
	KindMonster
)

// String returns the persisted/display name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCharacter:
		return "character"
	case KindMonster:
		return "monster"
	default:
		return "manual"
	}
}

// ParseKind maps a stored kind string to a Kind.
//
// Postcondition: ok is false for unknown or empty input.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "character", "player", "pc":
		return KindCharacter, true
	case "monster", "npc":
		return KindMonster, true
	case "manual":
		return KindManual, true
	default:
		return KindManual, false
	}
}

// DeathSaves counts death saving throws for a combatant at 0 HP.
type DeathSaves struct {
	Successes int `json:"successes" yaml:"successes"`
	Failures  int `json:"failures" yaml:"failures"`
}

// deathSaveLimit is the number of successes (or failures) that resolves a
// death-save sequence.
const deathSaveLimit = 3

// Payload is opaque stat-block data forwarded to the resolver.
type Payload map[string]any

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out, _ := cloneValue(map[string]any(p)).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Payload:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return t
	}
}

// Combatant is one participant in an encounter.
type Combatant struct {
	InstanceID    string
	Name          string
	Kind          Kind
	Initiative    int
	CurrentHP     int
	MaxHP         int
	AC            int
	Conditions    []string
	Concentrating bool
}

// clone returns a copy of c that shares no slices with it.
func (c Combatant) clone() Combatant {
	c.Conditions = append([]string(nil), c.Conditions...)
	return c
}

// StatusText returns the comma-joined display form of the conditions.
func (c Combatant) StatusText() string {
	return strings.Join(c.Conditions, ", ")
}

// HasCondition reports whether cond is present, ignoring case.
func (c Combatant) HasCondition(cond string) bool {
	for _, existing := range c.Conditions {
		if strings.EqualFold(existing, cond) {
			return true
		}
	}
	return false
}

// IsDown reports whether the combatant is at 0 HP.
func (c Combatant) IsDown() bool { return c.CurrentHP <= 0 }

// ParseConditions splits a comma-joined status string into an ordered set,
// trimming blanks and suppressing case-insensitive duplicates.
func ParseConditions(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, part) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, part)
		}
	}
	return out
}

// NewCombatant describes a combatant to add to a Store.
type NewCombatant struct {
	// InstanceID is normally empty; a non-empty value is honored when it is
	// not already in use (restore path).
	InstanceID    string
	Name          string
	Kind          Kind
	KindSet       bool
	Initiative    int
	HP            int
	MaxHP         int
	AC            int
	Conditions    []string
	Concentrating bool
	Payload       Payload
}

var characterPayloadKeys = []string{"class", "level", "player", "race", "background"}

var monsterPayloadKeys = []string{"challenge_rating", "cr", "actions", "legendary_actions", "monster_type", "source"}

var monsterWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"goblin", "orc", "kobold", "skeleton", "zombie", "ghoul", "wolf", "bandit",
		"dragon", "troll", "ogre", "giant", "spider", "rat", "bear", "cultist",
		"guard", "gnoll", "hobgoblin", "bugbear", "lich", "vampire", "wraith",
		"elemental", "demon", "devil", "beast", "ooze", "drake", "wyvern",
	} {
		monsterWords[w] = struct{}{}
		monsterWords[w+"s"] = struct{}{}
	}
}

// namesMonster reports whether any whole word of lower is a monster word, so
// "Giant Rat" matches and "Pirate" does not.
func namesMonster(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if _, ok := monsterWords[w]; ok {
			return true
		}
	}
	return false
}

// InferKind guesses a combatant's kind: stored-data heuristics first, then
// name heuristics, then KindManual.
func InferKind(name string, payload Payload) Kind {
	for _, k := range characterPayloadKeys {
		if _, ok := payload[k]; ok {
			return KindCharacter
		}
	}
	for _, k := range monsterPayloadKeys {
		if _, ok := payload[k]; ok {
			return KindMonster
		}
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return KindManual
	}
	if namesMonster(lower) {
		return KindMonster
	}
	fields := strings.Fields(lower)
	if len(fields) > 1 {
		last := strings.TrimPrefix(fields[len(fields)-1], "#")
		if last != "" && strings.Trim(last, "0123456789") == "" {
			return KindMonster
		}
	}
	return KindManual
}
