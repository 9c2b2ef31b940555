package tracker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/combatlog"
)

// SeedCombatant is one entry of an encounter seed file.
type SeedCombatant struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Initiative is rolled as 1d20+InitiativeBonus when absent.
	Initiative      *int   `yaml:"initiative"`
	InitiativeBonus int    `yaml:"initiative_bonus"`
	HP              int    `yaml:"hp"`
	MaxHP           int    `yaml:"max_hp"`
	AC              int    `yaml:"ac"`
	Status          string `yaml:"status"`
	Concentration   bool   `yaml:"concentration"`
	// Count adds that many copies named "Name 1" .. "Name N".
	Count int            `yaml:"count"`
	Data  map[string]any `yaml:"data"`
}

// Seed is an encounter seed file.
type Seed struct {
	Combatants []SeedCombatant `yaml:"combatants"`
}

// ParseSeed decodes a YAML seed document.
//
// Postcondition: every returned entry has a non-empty name.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parsing seed: %w", err)
	}
	for i, c := range s.Combatants {
		if c.Name == "" {
			return Seed{}, fmt.Errorf("seed combatant %d: name is required", i)
		}
		if c.Count < 0 {
			return Seed{}, fmt.Errorf("seed combatant %d (%q): count must not be negative", i, c.Name)
		}
	}
	return s, nil
}

// LoadSeedFile reads and parses the seed at path.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// AddSeed adds every combatant in s, rolling missing initiatives, and sorts
// once at the end. It returns the number of combatants added.
func (t *Tracker) AddSeed(s Seed) (int, error) {
	var (
		added int
		err   error
	)
	t.Bulk(func() {
		for _, sc := range s.Combatants {
			count := sc.Count
			if count == 0 {
				count = 1
			}
			for n := 1; n <= count; n++ {
				name := sc.Name
				if sc.Count > 1 {
					name = fmt.Sprintf("%s %d", sc.Name, n)
				}
				if err = t.addSeeded(name, sc); err != nil {
					return
				}
				added++
			}
		}
	})
	t.sort()
	t.Refresh()
	return added, err
}

func (t *Tracker) addSeeded(name string, sc SeedCombatant) error {
	nc := combat.NewCombatant{
		Name:          name,
		HP:            sc.HP,
		MaxHP:         sc.MaxHP,
		AC:            sc.AC,
		Conditions:    combat.ParseConditions(sc.Status),
		Concentrating: sc.Concentration,
		Payload:       combat.Payload(sc.Data),
	}
	if nc.MaxHP == 0 {
		nc.MaxHP = nc.HP
	}
	if sc.Type != "" {
		kind, ok := combat.ParseKind(sc.Type)
		if !ok {
			return fmt.Errorf("seed combatant %q: unknown type %q", name, sc.Type)
		}
		nc.Kind, nc.KindSet = kind, true
	}

	if sc.Initiative != nil {
		nc.Initiative = *sc.Initiative
	} else {
		roll, err := t.roller.RollExpr(fmt.Sprintf("1d20%+d", sc.InitiativeBonus))
		if err != nil {
			return fmt.Errorf("rolling initiative for %q: %w", name, err)
		}
		nc.Initiative = roll.Total()
		t.record(combatlog.Entry{
			Category: combatlog.CategoryDice,
			Actor:    name,
			Action:   "rolls initiative",
			Result:   roll.String(),
		})
	}

	id, err := t.enc.Add(nc)
	if err != nil {
		return fmt.Errorf("adding %q: %w", name, err)
	}
	c, _ := t.enc.Store().Get(id)
	t.record(combatlog.Entry{
		Category: combatlog.CategoryInitiative,
		Actor:    c.Name,
		Action:   "joins combat",
		Result:   fmt.Sprintf("initiative %d", c.Initiative),
	})
	return nil
}
