package combat

import "sort"

// Permutation maps an old row to its new row after a reorder:
// p[oldRow] == newRow.
type Permutation []int

// Remap translates row through p. Rows outside p (including -1) map to -1.
func (p Permutation) Remap(row int) int {
	if row < 0 || row >= len(p) {
		return -1
	}
	return p[row]
}

// IsIdentity reports whether the reorder left every row in place.
func (p Permutation) IsIdentity() bool {
	for old, nw := range p {
		if old != nw {
			return false
		}
	}
	return true
}

// SortByInitiative stably orders combatants by initiative, highest first.
// Ties keep their prior relative order.
//
// Postcondition: ok is false and nothing is rebuilt when the store holds at
// most one combatant. Otherwise the row index has been rebuilt from the
// returned permutation, so every instance-id keyed side table resolves from
// the combatant's new row.
func (s *Store) SortByInitiative() (Permutation, bool) {
	n := len(s.order)
	if n <= 1 {
		return nil, false
	}

	oldRows := make([]int, n)
	for i := range oldRows {
		oldRows[i] = i
	}
	sort.SliceStable(oldRows, func(i, j int) bool {
		return s.records[s.order[oldRows[i]]].Initiative > s.records[s.order[oldRows[j]]].Initiative
	})

	perm := make(Permutation, n)
	newOrder := make([]string, n)
	for newRow, oldRow := range oldRows {
		perm[oldRow] = newRow
		newOrder[newRow] = s.order[oldRow]
	}

	for oldRow, newRow := range perm {
		s.rows[s.order[oldRow]] = newRow
	}
	s.order = newOrder
	return perm, true
}
