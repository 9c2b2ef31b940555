package bridge

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/combatlog"
)

// placeholderNames never address a real combatant.
var placeholderNames = map[string]struct{}{
	"":          {},
	"unknown":   {},
	"combatant": {},
	"creature":  {},
	"monster":   {},
	"player":    {},
	"enemy":     {},
	"ally":      {},
	"target":    {},
	"none":      {},
	"n/a":       {},
}

// locate resolves an update to an instance id: the echoed instance_id first,
// then the first exact name match, then a case-insensitive one.
func (b *Bridge) locate(m map[string]any) (string, bool) {
	store := b.enc.Store()
	if id, ok := m["instance_id"].(string); ok && id != "" {
		if _, found := store.Get(id); found {
			return id, true
		}
	}
	name, _ := m["name"].(string)
	name = strings.TrimSpace(name)
	if _, placeholder := placeholderNames[strings.ToLower(name)]; placeholder {
		return "", false
	}
	return store.FindByName(name)
}

// applyTurn applies one turn snapshot.
func (b *Bridge) applyTurn(u map[string]any) {
	b.controls.Bulk(func() {
		round, hasRound := intValue(u["round"])
		turn, hasTurn := intValue(u["current_turn_index"])
		if hasRound || hasTurn {
			cur := b.enc.Cursor()
			if !hasRound {
				round = cur.Round
			}
			if !hasTurn {
				turn = cur.Current
			}
			b.enc.SetPosition(round, turn)
		}

		list, _ := u["combatants"].([]any)
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			b.guard("turn combatant", i, func() { b.applyCombatant(m) })
		}

		if action, ok := u["latest_action"]; ok && action != nil {
			b.log.Record(actionEntry(action, b.enc.Cursor()))
		}
	})
	b.controls.Refresh()
}

// guard runs fn, containing a panic to the one item it was processing.
func (b *Bridge) guard(what string, index int, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("update item failed",
				zap.String("item", what),
				zap.Int("index", index),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}

func (b *Bridge) applyCombatant(m map[string]any) {
	id, ok := b.locate(m)
	if !ok {
		b.logger.Debug("turn update names no known combatant", zap.Any("name", m["name"]))
		return
	}
	store := b.enc.Store()
	c, _ := store.Get(id)

	if v, ok := m["max_hp"]; ok {
		if maxHP := ParseHP(v, c.MaxHP); maxHP >= 0 && maxHP != c.MaxHP {
			if err := store.SetMaxHP(id, maxHP); err != nil {
				b.logger.Info("max_hp update rejected", zap.String("instance_id", id), zap.Error(err))
			}
		}
	}
	if v, ok := m["hp"]; ok {
		c, _ = store.Get(id)
		hp := ParseHP(v, c.CurrentHP)
		if hp != c.CurrentHP {
			change, err := store.SetHP(id, hp)
			if err != nil {
				b.logger.Info("hp update rejected", zap.String("instance_id", id), zap.Error(err))
			} else {
				b.noteDamage(id, change)
			}
		}
	}
	if v, ok := m["status"]; ok {
		if text, ok := stringValue(v); ok {
			c, _ = store.Get(id)
			if strings.Join(combat.ParseConditions(text), ", ") != c.StatusText() {
				_ = store.SetStatus(id, text)
			}
		}
	}
	if v, ok := m["concentration"]; ok {
		if on, ok := boolValue(v); ok {
			c, _ = store.Get(id)
			if on != c.Concentrating {
				_ = store.SetConcentrating(id, on)
			}
		}
	}
}

// noteDamage logs a concentration check when a concentrating combatant is hurt.
func (b *Bridge) noteDamage(id string, change combat.HPChange) {
	dmg := change.Damage()
	if dmg == 0 {
		return
	}
	c, ok := b.enc.Store().Get(id)
	if !ok || !c.Concentrating {
		return
	}
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategoryConcentration,
		Actor:    c.Name,
		Action:   "must make a concentration check",
		Result:   fmt.Sprintf("DC %d", combat.ConcentrationDC(dmg)),
		Round:    b.enc.Cursor().Round,
	})
}

// actionEntry formats latest_action, which is either free text or a map of
// {actor, action, target, result, dice}.
func actionEntry(v any, cur combat.TurnCursor) combatlog.Entry {
	e := combatlog.Entry{Category: combatlog.CategoryResolver, Round: cur.Round}
	if cur.Current >= 0 {
		e.Turn = cur.Current + 1
	}
	switch t := v.(type) {
	case string:
		e.Action = t
	case map[string]any:
		e.Category = combatlog.CategoryAttack
		e.Actor = firstString(t, "actor", "name", "combatant")
		e.Action = firstString(t, "action", "description", "type")
		e.Target = firstString(t, "target")
		e.Result = firstString(t, "result", "outcome")
		if dice := formatDice(t["dice"]); dice != "" {
			if e.Result != "" {
				e.Result += "; "
			}
			e.Result += "dice: " + dice
		}
	default:
		e.Action = fmt.Sprint(t)
	}
	return e
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func formatDice(v any) string {
	list, ok := v.([]any)
	if !ok {
		if s, isString := v.(string); isString {
			return s
		}
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		switch d := item.(type) {
		case string:
			parts = append(parts, d)
		case map[string]any:
			expr := firstString(d, "expression", "expr", "dice")
			if total, ok := intValue(d["total"]); ok {
				parts = append(parts, fmt.Sprintf("%s=%d", expr, total))
			} else if expr != "" {
				parts = append(parts, expr)
			}
		}
	}
	return strings.Join(parts, ", ")
}

// applyResult applies the terminal batch of updates, then removes the dead
// and fled in descending row order. Each phase has its own time budget.
func (b *Bridge) applyResult(res *Result) {
	round := b.enc.Cursor().Round
	b.controls.Bulk(func() {
		removals := b.applyFinalUpdates(res.Updates, round)
		b.removeFinished(removals, round)
	})

	if n := strings.TrimSpace(res.Narrative); n != "" {
		b.log.Record(combatlog.Entry{Category: combatlog.CategoryResolver, Action: n, Round: round})
	}
	for _, line := range res.Log {
		if line = strings.TrimSpace(line); line != "" {
			b.log.Record(combatlog.Entry{Category: combatlog.CategoryResolver, Action: line, Round: round})
		}
	}
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategorySystem,
		Action:   fmt.Sprintf("Resolution complete after %d round(s)", res.Rounds),
		Round:    round,
	})
	b.controls.Refresh()
}

type removal struct {
	id     string
	name   string
	reason string
}

func (b *Bridge) applyFinalUpdates(updates []map[string]any, round int) []removal {
	store := b.enc.Store()
	deadline := b.now().Add(b.cfg.ApplyBudget)
	var removals []removal
	for i, u := range updates {
		if b.now().After(deadline) {
			b.partial("update", i, len(updates), round)
			break
		}
		b.guard("final update", i, func() {
			id, ok := b.locate(u)
			if !ok {
				b.logger.Debug("final update names no known combatant", zap.Any("name", u["name"]))
				return
			}
			c, _ := store.Get(id)
			status, hasStatus := stringValue(u["status"])
			hasStatus = hasStatus && strings.TrimSpace(status) != ""

			if v, ok := u["hp"]; ok {
				hp := ParseHP(v, c.CurrentHP)
				change, err := store.SetHP(id, hp)
				if err == nil {
					b.noteDamage(id, change)
					if !hasStatus && hp <= 0 {
						if added, _ := store.AddCondition(id, "Unconscious"); added {
							b.log.Record(combatlog.Entry{
								Category: combatlog.CategoryStatus,
								Actor:    c.Name,
								Action:   "falls unconscious",
								Round:    round,
							})
						}
					}
				}
			}
			if hasStatus {
				_ = store.SetStatus(id, status)
				lower := strings.ToLower(status)
				switch {
				case strings.Contains(lower, "dead"):
					removals = append(removals, removal{id: id, name: c.Name, reason: "dead"})
				case strings.Contains(lower, "fled"):
					removals = append(removals, removal{id: id, name: c.Name, reason: "fled"})
				}
			}
		})
	}
	return removals
}

func (b *Bridge) removeFinished(removals []removal, round int) {
	store := b.enc.Store()
	rowOf := func(r removal) int {
		row, ok := store.RowOf(r.id)
		if !ok {
			return -1
		}
		return row
	}
	sort.SliceStable(removals, func(i, j int) bool { return rowOf(removals[i]) > rowOf(removals[j]) })

	deadline := b.now().Add(b.cfg.ApplyBudget)
	for i, r := range removals {
		if b.now().After(deadline) {
			b.partial("removal", i, len(removals), round)
			return
		}
		if _, err := b.enc.Remove(r.id); err != nil {
			b.logger.Debug("removal target already gone", zap.String("instance_id", r.id), zap.Error(err))
			continue
		}
		b.log.Record(combatlog.Entry{
			Category: combatlog.CategoryStatus,
			Actor:    r.name,
			Action:   "removed from combat",
			Result:   r.reason,
			Round:    round,
		})
	}
}

func (b *Bridge) partial(phase string, done, total, round int) {
	b.logger.Warn("result application exceeded budget",
		zap.String("phase", phase),
		zap.Int("applied", done),
		zap.Int("total", total),
		zap.Duration("budget", b.cfg.ApplyBudget),
	)
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategoryError,
		Action:   fmt.Sprintf("Result %s phase stopped early", phase),
		Result:   fmt.Sprintf("%d of %d applied", done, total),
		Round:    round,
	})
}
