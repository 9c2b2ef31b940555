package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Table exposes the combatant table to tests.
func (s *Screen) Table() *tview.Table { return s.table }

// SubmitPrompt types text into the focused prompt and presses Enter. It
// reports false when no prompt has focus.
func (s *Screen) SubmitPrompt(text string) bool {
	input, ok := s.app.GetFocus().(*tview.InputField)
	if !ok {
		return false
	}
	input.SetText(text)
	input.InputHandler()(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), func(tview.Primitive) {})
	return true
}
