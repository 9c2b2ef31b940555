package bridge

import "github.com/cory-johannsen/dmscreen/internal/game/combatlog"

// Message is posted from worker and timer goroutines to the UI goroutine,
// which passes it to Bridge.Handle. Every message names the run that produced
// it; messages from a run that is no longer attached are ignored.
type Message interface {
	runID() uint64
}

// Poster delivers a message to the UI goroutine without blocking.
// Implementations return false when the message could not be queued.
type Poster interface {
	Post(msg any) bool
}

// TurnUpdateMsg carries one sanitized turn snapshot.
type TurnUpdateMsg struct {
	RunID  uint64
	Update map[string]any
}

// CompletionMsg carries the terminal outcome of a run.
type CompletionMsg struct {
	RunID  uint64
	Result *Result
	Err    error
}

// LogMsg carries a log entry produced off the UI goroutine, e.g. a dice roll.
type LogMsg struct {
	RunID uint64
	Entry combatlog.Entry
}

// TimeoutMsg reports that a watchdog timer fired.
type TimeoutMsg struct {
	RunID uint64
	Hard  bool
}

// PreconditionMsg reports that a run could not start.
type PreconditionMsg struct {
	RunID  uint64
	Reason string
}

func (m TurnUpdateMsg) runID() uint64   { return m.RunID }
func (m CompletionMsg) runID() uint64   { return m.RunID }
func (m LogMsg) runID() uint64          { return m.RunID }
func (m TimeoutMsg) runID() uint64      { return m.RunID }
func (m PreconditionMsg) runID() uint64 { return m.RunID }
