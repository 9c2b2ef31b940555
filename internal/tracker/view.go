package tracker

import "github.com/cory-johannsen/dmscreen/internal/game/combat"

// Row is the display form of one combatant.
type Row struct {
	InstanceID    string
	Name          string
	Kind          string
	Initiative    int
	HP            int
	MaxHP         int
	AC            int
	Status        string
	Concentrating bool
	DeathSaves    string
	Current       bool
}

// View is the widget set the tracker drives. All methods are called on the
// UI goroutine.
type View interface {
	// Render redraws every row.
	Render(rows []Row)
	// MarkCurrent moves the current-turn marker.
	MarkCurrent(change combat.HighlightChange)
	// Select moves the table selection; -1 clears it.
	Select(row int)
	// SetResolveEnabled enables or disables the resolve control.
	SetResolveEnabled(enabled bool)
	// ShowError presents a blocking error dialog.
	ShowError(title, message string)
	// AppendLog appends a rendered line to the panel's own log display.
	AppendLog(line string)
	// BlockSignals suppresses (or restores) change notifications from the
	// table and returns the previous setting.
	BlockSignals(block bool) bool
}

// NopView discards everything.
type NopView struct{}

func (NopView) Render([]Row)                       {}
func (NopView) MarkCurrent(combat.HighlightChange) {}
func (NopView) Select(int)                         {}
func (NopView) SetResolveEnabled(bool)             {}
func (NopView) ShowError(string, string)           {}
func (NopView) AppendLog(string)                   {}
func (NopView) BlockSignals(bool) bool             { return false }
