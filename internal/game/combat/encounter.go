package combat

import (
	"errors"
	"fmt"
)

// ErrNoCombatants is returned by turn operations on an empty encounter.
var ErrNoCombatants = errors.New("no combatants in encounter")

// Encounter couples the combatant store with the turn cursor so that every
// change in count or order re-validates the cursor.
type Encounter struct {
	store          *Store
	cursor         TurnCursor
	sortSuppressed bool
}

// NewEncounter wraps store.
//
// Precondition: store must be non-nil.
func NewEncounter(store *Store) *Encounter {
	e := &Encounter{store: store, cursor: NewTurnCursor()}
	e.cursor.Clamp(store.Len())
	return e
}

// Store returns the underlying combatant store.
func (e *Encounter) Store() *Store { return e.store }

// Cursor returns a copy of the turn cursor.
func (e *Encounter) Cursor() TurnCursor { return e.cursor }

// Phase reports no_combat, idle or in_progress.
func (e *Encounter) Phase() Phase { return e.cursor.Phase(e.store.Len()) }

// Current returns the combatant whose turn it is.
func (e *Encounter) Current() (Combatant, bool) {
	return e.store.At(e.cursor.Current)
}

// Add inserts a combatant and re-validates the cursor.
func (e *Encounter) Add(nc NewCombatant) (string, error) {
	id, err := e.store.Add(nc)
	if err != nil {
		return "", err
	}
	e.cursor.Clamp(e.store.Len())
	return id, nil
}

// Remove deletes a combatant through the store's removal contract and adjusts
// the cursor: decremented when the removed row preceded it, reset to 0 (or -1
// when empty) when it was the current row.
func (e *Encounter) Remove(id string) (int, error) {
	row, err := e.store.Remove(id)
	if err != nil {
		return -1, err
	}
	e.cursor.removed(row, e.store.Len())
	return row, nil
}

// SetSortSuppressed enables or disables sorting, e.g. while an asynchronous
// resolution addresses combatants by name.
func (e *Encounter) SetSortSuppressed(on bool) { e.sortSuppressed = on }

// SortSuppressed reports whether Sort is currently a no-op.
func (e *Encounter) SortSuppressed() bool { return e.sortSuppressed }

// Sort reorders by initiative and remaps the cursor through the permutation.
//
// Postcondition: ok is false and nothing changed when sorting is suppressed
// or there is at most one combatant.
func (e *Encounter) Sort() (Permutation, bool) {
	if e.sortSuppressed {
		return nil, false
	}
	perm, ok := e.store.SortByInitiative()
	if !ok {
		return nil, false
	}
	e.cursor.remap(perm)
	e.cursor.Clamp(e.store.Len())
	return perm, true
}

// NextTurn advances the cursor.
func (e *Encounter) NextTurn() (Advance, error) {
	n := e.store.Len()
	if n == 0 {
		return Advance{}, ErrNoCombatants
	}
	return e.cursor.Next(n), nil
}

// SetPosition applies an externally reported round and turn.
func (e *Encounter) SetPosition(round, turn int) {
	e.cursor.SetPosition(round, turn, e.store.Len())
}

// Reset returns the cursor to round 1, first row. Combatants are kept.
func (e *Encounter) Reset() {
	e.cursor.Reset(e.store.Len())
}

// Restart resets the cursor, restores every combatant to full HP, clears all
// conditions, concentration and death saves, then re-sorts.
func (e *Encounter) Restart() error {
	e.Reset()
	for _, id := range e.store.IDs() {
		c, _ := e.store.Get(id)
		if _, err := e.store.SetHP(id, c.MaxHP); err != nil {
			return fmt.Errorf("restoring %q: %w", c.Name, err)
		}
		if err := e.store.SetStatus(id, ""); err != nil {
			return err
		}
		if err := e.store.SetConcentrating(id, false); err != nil {
			return err
		}
		e.store.ClearDeathSaves(id)
	}
	e.Sort()
	e.cursor.Reset(e.store.Len())
	return nil
}

// Clear removes all combatants and resets the cursor.
func (e *Encounter) Clear() {
	e.store.Clear()
	e.cursor = NewTurnCursor()
}

// CheckInvariants verifies the store and that the cursor points at a valid row.
func (e *Encounter) CheckInvariants() error {
	if err := e.store.CheckInvariants(); err != nil {
		return err
	}
	n := e.store.Len()
	if n == 0 && e.cursor.Current != -1 {
		return fmt.Errorf("cursor at %d with no combatants", e.cursor.Current)
	}
	if n > 0 && (e.cursor.Current < 0 || e.cursor.Current >= n) {
		return fmt.Errorf("cursor at %d outside [0,%d)", e.cursor.Current, n)
	}
	if e.cursor.Round < 1 {
		return fmt.Errorf("round %d < 1", e.cursor.Round)
	}
	return nil
}
