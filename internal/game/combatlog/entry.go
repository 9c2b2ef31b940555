// Package combatlog records what happens during an encounter and routes each
// entry to whichever log display is available.
package combatlog

import (
	"fmt"
	"strings"
)

// Category classifies an entry for filtering and styling.
type Category int

const (
	CategoryInitiative Category = iota
	CategoryAttack
	CategoryDamage
	CategoryHealing
	CategoryStatus
	CategoryConcentration
	CategoryDeathSave
	CategoryDice
	CategoryResolver
	CategorySystem
	CategoryError
)

var categoryNames = [...]string{
	CategoryInitiative:    "Initiative",
	CategoryAttack:        "Attack",
	CategoryDamage:        "Damage",
	CategoryHealing:       "Healing",
	CategoryStatus:        "Status",
	CategoryConcentration: "Concentration",
	CategoryDeathSave:     "Death Save",
	CategoryDice:          "Dice",
	CategoryResolver:      "Resolver",
	CategorySystem:        "System",
	CategoryError:         "Error",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Unknown"
	}
	return categoryNames[c]
}

// Entry is one line of the combat log. Round 0 means no combat round applies;
// Turn is 1-based and 0 when not tied to a specific turn.
type Entry struct {
	Category Category
	Actor    string
	Action   string
	Target   string
	Result   string
	Round    int
	Turn     int
}

// String renders the entry the same way for every sink.
func (e Entry) String() string {
	var b strings.Builder
	if e.Round > 0 {
		if e.Turn > 0 {
			fmt.Fprintf(&b, "[R%d T%d] ", e.Round, e.Turn)
		} else {
			fmt.Fprintf(&b, "[R%d] ", e.Round)
		}
	}
	fmt.Fprintf(&b, "%s: ", e.Category)
	text := strings.TrimSpace(strings.Join(nonEmpty(e.Actor, e.Action), " "))
	b.WriteString(text)
	if e.Target != "" {
		if text != "" {
			b.WriteString(" -> ")
		}
		b.WriteString(e.Target)
	}
	if e.Result != "" {
		if text != "" || e.Target != "" {
			b.WriteString(" (")
			b.WriteString(e.Result)
			b.WriteString(")")
		} else {
			b.WriteString(e.Result)
		}
	}
	return b.String()
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
