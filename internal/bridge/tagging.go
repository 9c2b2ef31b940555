package bridge

import (
	"fmt"
	"sort"
	"strings"
)

// AbilityKeys are the payload lists whose entries are tagged with their owner.
var AbilityKeys = []string{"actions", "traits", "reactions", "legendary_actions"}

const (
	tagInstanceID = "monster_instance_id"
	tagName       = "monster_name"
	tagSource     = "monster_source"
	baseNameKey   = "base_name"
	shortIDLen    = 8
)

type ability struct {
	owner int
	entry map[string]any
}

// TagAbilities stamps every ability entry in combatants with its owner's
// instance id, name and source, then prefixes the names of abilities that
// two different owners share with an owner label. It returns the number of
// entries renamed.
//
// combatants is modified in place.
func TagAbilities(combatants []map[string]any) int {
	byName := make(map[string][]ability)
	var order []string

	for i, c := range combatants {
		id, _ := c["instance_id"].(string)
		name, _ := c["name"].(string)
		source, _ := c["source"].(string)
		if source == "" {
			source, _ = c["type"].(string)
		}
		for _, key := range AbilityKeys {
			list, ok := c[key].([]any)
			if !ok {
				continue
			}
			for _, item := range list {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				entry[tagInstanceID] = id
				entry[tagName] = name
				entry[tagSource] = source

				abilityName, _ := entry["name"].(string)
				abilityName = strings.TrimSpace(abilityName)
				if abilityName == "" {
					continue
				}
				k := strings.ToLower(abilityName)
				if _, seen := byName[k]; !seen {
					order = append(order, k)
				}
				byName[k] = append(byName[k], ability{owner: i, entry: entry})
			}
		}
	}

	labels := ownerLabels(combatants)
	renamed := 0
	for _, k := range order {
		group := byName[k]
		if !sharedAcrossOwners(group) {
			continue
		}
		for _, a := range group {
			base, _ := a.entry["name"].(string)
			a.entry[baseNameKey] = base
			a.entry["name"] = fmt.Sprintf("%s: %s", labels[a.owner], base)
			renamed++
		}
	}
	return renamed
}

func sharedAcrossOwners(group []ability) bool {
	for _, a := range group[1:] {
		if a.owner != group[0].owner {
			return true
		}
	}
	return false
}

// ownerLabels returns a display label per combatant: its name, plus a short
// instance id when another combatant has the same name.
func ownerLabels(combatants []map[string]any) []string {
	count := make(map[string]int)
	for _, c := range combatants {
		name, _ := c["name"].(string)
		count[strings.ToLower(name)]++
	}
	labels := make([]string, len(combatants))
	for i, c := range combatants {
		name, _ := c["name"].(string)
		if name == "" {
			name = "Combatant"
		}
		if count[strings.ToLower(name)] > 1 {
			id, _ := c["instance_id"].(string)
			if len(id) > shortIDLen {
				id = id[:shortIDLen]
			}
			if id == "" {
				id = fmt.Sprintf("#%d", i+1)
			}
			name = fmt.Sprintf("%s [%s]", name, id)
		}
		labels[i] = name
	}
	return labels
}

// ValidateAbilities reports abilities whose display name is used by entries
// tagged with different owners.
func ValidateAbilities(combatants []map[string]any) error {
	owners := make(map[string]map[string]struct{})
	for _, c := range combatants {
		for _, key := range AbilityKeys {
			list, _ := c[key].([]any)
			for _, item := range list {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				name, _ := entry["name"].(string)
				if strings.TrimSpace(name) == "" {
					continue
				}
				id, _ := entry[tagInstanceID].(string)
				k := strings.ToLower(strings.TrimSpace(name))
				if owners[k] == nil {
					owners[k] = make(map[string]struct{})
				}
				owners[k][id] = struct{}{}
			}
		}
	}
	var clashes []string
	for name, ids := range owners {
		if len(ids) > 1 {
			clashes = append(clashes, name)
		}
	}
	if len(clashes) > 0 {
		sort.Strings(clashes)
		return fmt.Errorf("abilities shared by different owners: %s", strings.Join(clashes, ", "))
	}
	return nil
}
