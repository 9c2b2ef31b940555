package combat

import "time"

// RoundDuration is the in-world length of one combat round.
const RoundDuration = 6 * time.Second

// Phase is the coarse state of the turn cursor.
type Phase int

const (
	PhaseNoCombat Phase = iota
	PhaseIdle
	PhaseInProgress
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInProgress:
		return "in_progress"
	default:
		return "no_combat"
	}
}

// TurnCursor tracks whose turn it is.
//
// Invariant: Current == -1 iff there are no combatants; otherwise
// 0 <= Current < n. Round >= 1.
type TurnCursor struct {
	Round    int
	Current  int
	Previous int
	Elapsed  time.Duration
	Started  bool
}

// NewTurnCursor returns a cursor for an empty encounter.
func NewTurnCursor() TurnCursor {
	return TurnCursor{Round: 1, Current: -1, Previous: -1}
}

// Advance describes one NextTurn step.
type Advance struct {
	Previous int
	Current  int
	Round    int
	// NewRound is true when the step wrapped to the top of the order.
	NewRound bool
}

// Phase reports the cursor's state for an encounter of n combatants.
func (c TurnCursor) Phase(n int) Phase {
	switch {
	case n == 0:
		return PhaseNoCombat
	case c.Started:
		return PhaseInProgress
	default:
		return PhaseIdle
	}
}

// Next moves to the next row, wrapping to row 0 and incrementing Round after
// the last row.
//
// Precondition: n > 0.
func (c *TurnCursor) Next(n int) Advance {
	c.Clamp(n)
	c.Previous = c.Current
	c.Started = true
	adv := Advance{Previous: c.Previous}
	if c.Current >= n-1 {
		c.Current = 0
		c.Round++
		c.Elapsed += RoundDuration
		adv.NewRound = true
	} else {
		c.Current++
	}
	adv.Current = c.Current
	adv.Round = c.Round
	return adv
}

// Reset returns to round 1, first row, not started.
func (c *TurnCursor) Reset(n int) {
	*c = NewTurnCursor()
	if n > 0 {
		c.Current = 0
	}
}

// Clamp re-validates Current for n combatants.
func (c *TurnCursor) Clamp(n int) {
	if c.Round < 1 {
		c.Round = 1
	}
	switch {
	case n == 0:
		c.Current = -1
	case c.Current < 0 || c.Current >= n:
		c.Current = 0
	}
	if c.Previous >= n {
		c.Previous = -1
	}
}

// SetPosition jumps to round/turn as reported by an external source, clamped
// to the current order.
func (c *TurnCursor) SetPosition(round, turn, n int) {
	if round >= 1 {
		c.Round = round
	}
	c.Previous = c.Current
	c.Current = turn
	c.Clamp(n)
}

// removed adjusts the cursor after the row at removedRow was deleted, leaving
// n combatants.
func (c *TurnCursor) removed(removedRow, n int) {
	switch {
	case n == 0:
		c.Current = -1
	case removedRow < c.Current:
		c.Current--
	case removedRow == c.Current:
		c.Current = 0
	}
	switch {
	case c.Previous == removedRow:
		c.Previous = -1
	case removedRow < c.Previous:
		c.Previous--
	}
	c.Clamp(n)
}

// remap translates Current and Previous through a reorder.
func (c *TurnCursor) remap(p Permutation) {
	if c.Current >= 0 {
		c.Current = p.Remap(c.Current)
	}
	if c.Previous >= 0 {
		c.Previous = p.Remap(c.Previous)
	}
}

// HighlightChange tells a view which row loses and which row gains the
// current-turn marker. A value of -1 means "none".
type HighlightChange struct {
	Clear    int
	Set      int
	ScrollTo int
}

// Highlight computes the marker change from the previously highlighted row
// to the current one. It depends only on the two indices.
func Highlight(previous, current int) HighlightChange {
	hc := HighlightChange{Clear: previous, Set: current, ScrollTo: current}
	if previous == current {
		hc.Clear = -1
	}
	return hc
}
