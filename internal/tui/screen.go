// Package tui is the terminal front end of the combat tracker: a tview
// table of combatants, the panel's log and a key map driving the tracker.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/tracker"
)

const helpText = " [black:gold]n[-:-] next  [black:gold]a[-:-] add  [black:gold]enter[-:-] edit  [black:gold]d/h[-:-] damage/heal  [black:gold]s/f[-:-] save ok/fail  [black:gold]c[-:-] concentration  [black:gold]x[-:-] remove  [black:gold]u[-:-] cleanup  [black:gold]o[-:-] sort  [black:gold]r[-:-] resolve  [black:gold]C[-:-] cancel  [black:gold]0[-:-] reset  [black:gold]T[-:-] restart  [black:gold]X[-:-] clear  [black:gold]w/l[-:-] save/load  [black:gold]q[-:-] quit "

const (
	pageMain   = "main"
	pageError  = "error"
	pagePrompt = "prompt"
	pageForm   = "add"
	pageChoice = "choice"
)

const (
	colMarker = iota
	colName
	colKind
	colInit
	colHP
	colMaxHP
	colAC
	colStatus
	colConc
	colDeathSaves
	numCols
)

var headers = [numCols]string{"", "Name", "Type", "Init", "HP", "Max", "AC", "Status", "Conc", "Death saves"}

// editable maps a table column to the field it edits.
var editable = map[int]combat.Field{
	colName:   combat.FieldName,
	colKind:   combat.FieldKind,
	colInit:   combat.FieldInitiative,
	colHP:     combat.FieldHP,
	colMaxHP:  combat.FieldMaxHP,
	colAC:     combat.FieldAC,
	colStatus: combat.FieldStatus,
	colConc:   combat.FieldConcentration,
}

// Screen implements tracker.View on a tview application.
type Screen struct {
	app     *tview.Application
	pages   *tview.Pages
	table   *tview.Table
	logView *tview.TextView
	status  *tview.TextView
	logger  *zap.Logger

	rows      []tracker.Row
	blocked   bool
	resolving bool

	ctx     context.Context
	tracker *tracker.Tracker
}

// New builds the widget tree on app.
//
// Precondition: app and logger must be non-nil.
func New(app *tview.Application, logger *zap.Logger) *Screen {
	s := &Screen{app: app, logger: logger, ctx: context.Background()}

	s.table = tview.NewTable().
		SetFixed(1, 0).
		SetSelectable(true, true)
	s.table.SetBorder(true).SetTitle(" Combat Tracker ")
	s.table.SetSelectionChangedFunc(func(row, _ int) {
		if s.blocked || s.tracker == nil {
			return
		}
		s.tracker.Select(row - 1)
	})
	s.table.SetInputCapture(s.HandleKey)
	s.renderHeader()

	s.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	s.logView.SetBorder(true).SetTitle(" Combat Log ")

	s.status = tview.NewTextView().SetDynamicColors(true)
	s.setStatus("")

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(s.table, 0, 3, true).
		AddItem(s.logView, 0, 2, false).
		AddItem(s.status, 1, 0, false)

	s.pages = tview.NewPages().AddPage(pageMain, root, true, true)
	app.SetRoot(s.pages, true).SetFocus(s.table)
	return s
}

// Bind attaches the tracker the key map drives. ctx is passed to saves,
// loads and resolutions.
func (s *Screen) Bind(ctx context.Context, t *tracker.Tracker) {
	s.ctx = ctx
	s.tracker = t
}

// Forward hands msg to the bound tracker on the tview event loop. It is
// the handler of the ui.Loop that collects bridge messages, and must not be
// called from the event loop itself.
func (s *Screen) Forward(msg any) {
	s.app.QueueUpdateDraw(func() {
		if s.tracker != nil {
			s.tracker.Handle(msg)
		}
	})
}

// Run runs the tview event loop until Stop.
func (s *Screen) Run() error { return s.app.Run() }

// Stop ends the event loop.
func (s *Screen) Stop() { s.app.Stop() }

func (s *Screen) renderHeader() {
	for c, h := range headers {
		s.table.SetCell(0, c, tview.NewTableCell(h).
			SetTextColor(tcell.ColorGold).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}
}

// Render implements tracker.View.
func (s *Screen) Render(rows []tracker.Row) {
	s.rows = append(s.rows[:0], rows...)
	s.table.Clear()
	s.renderHeader()
	for i, r := range rows {
		conc := ""
		if r.Concentrating {
			conc = "yes"
		}
		cells := [numCols]string{
			"",
			r.Name,
			r.Kind,
			strconv.Itoa(r.Initiative),
			strconv.Itoa(r.HP),
			strconv.Itoa(r.MaxHP),
			strconv.Itoa(r.AC),
			r.Status,
			conc,
			r.DeathSaves,
		}
		color := tcell.ColorWhite
		switch {
		case r.HP <= 0:
			color = tcell.ColorRed
		case r.Kind == combat.KindCharacter.String():
			color = tcell.ColorAqua
		}
		for c, text := range cells {
			cell := tview.NewTableCell(tview.Escape(text)).SetTextColor(color)
			if c == colName || c == colStatus {
				cell.SetExpansion(1)
			}
			if c == colMarker || c == colDeathSaves {
				cell.SetSelectable(false)
			}
			s.table.SetCell(i+1, c, cell)
		}
	}
}

// MarkCurrent implements tracker.View.
func (s *Screen) MarkCurrent(hc combat.HighlightChange) {
	if hc.Clear >= 0 {
		if cell := s.table.GetCell(hc.Clear+1, colMarker); cell != nil {
			cell.SetText("")
		}
	}
	if hc.Set >= 0 && hc.Set < len(s.rows) {
		s.table.SetCell(hc.Set+1, colMarker, tview.NewTableCell("▶").
			SetTextColor(tcell.ColorGold).
			SetSelectable(false))
	}
	if hc.ScrollTo >= 0 && hc.ScrollTo < len(s.rows) {
		s.scrollTo(hc.ScrollTo)
	}
}

// scrollTo moves the table's row offset the least distance that brings data
// row into view below the fixed header.
func (s *Screen) scrollTo(row int) {
	offset, col := s.table.GetOffset()
	_, _, _, height := s.table.GetInnerRect()
	visible := height - 1
	switch {
	case row < offset:
		s.table.SetOffset(row, col)
	case visible > 0 && row >= offset+visible:
		s.table.SetOffset(row-visible+1, col)
	}
}

// Select implements tracker.View.
func (s *Screen) Select(row int) {
	if row < 0 || row >= len(s.rows) {
		return
	}
	_, col := s.table.GetSelection()
	if col <= colMarker || col >= colDeathSaves {
		col = colName
	}
	s.table.Select(row+1, col)
}

// SetResolveEnabled implements tracker.View.
func (s *Screen) SetResolveEnabled(enabled bool) {
	s.resolving = !enabled
	s.setStatus("")
}

// ShowError implements tracker.View.
func (s *Screen) ShowError(title, message string) {
	modal := tview.NewModal().
		SetText(title + "\n\n" + message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			s.pages.RemovePage(pageError)
			s.app.SetFocus(s.table)
		})
	s.pages.AddPage(pageError, modal, true, true)
	s.app.SetFocus(modal)
}

// AppendLog implements tracker.View.
func (s *Screen) AppendLog(line string) {
	fmt.Fprintln(s.logView, tview.Escape(line))
	s.logView.ScrollToEnd()
}

// BlockSignals implements tracker.View.
func (s *Screen) BlockSignals(block bool) bool {
	prev := s.blocked
	s.blocked = block
	return prev
}

// Rows returns the rows last rendered.
func (s *Screen) Rows() []tracker.Row { return s.rows }

// LogText returns the text of the log panel.
func (s *Screen) LogText() string { return s.logView.GetText(true) }

// StatusText returns the text of the status bar.
func (s *Screen) StatusText() string { return s.status.GetText(true) }

// HasPage reports whether the named overlay is showing.
func (s *Screen) HasPage(name string) bool { return s.pages.HasPage(name) }

// Cell returns the text at a data row and column.
func (s *Screen) Cell(row, col int) string {
	cell := s.table.GetCell(row+1, col)
	if cell == nil {
		return ""
	}
	return cell.Text
}

func (s *Screen) setStatus(msg string) {
	state := "[black:green] ready [-:-]"
	if s.resolving {
		state = "[black:yellow] resolving [-:-]"
	}
	if msg != "" {
		state += " " + tview.Escape(msg)
	}
	s.status.SetText(state + helpText)
}

func (s *Screen) report(what string, err error) {
	if err == nil {
		return
	}
	s.logger.Info("tracker action failed", zap.String("action", what), zap.Error(err))
	var fe *combat.FieldError
	if errors.As(err, &fe) {
		s.setStatus(fmt.Sprintf("%s rejected: %v", fe.Field, fe.Err))
		return
	}
	s.setStatus(fmt.Sprintf("%s: %v", what, err))
}

// selectedRow returns the selected data row and column, or -1.
func (s *Screen) selectedRow() (int, int) {
	row, col := s.table.GetSelection()
	row--
	if row < 0 || row >= len(s.rows) {
		return -1, col
	}
	return row, col
}

func (s *Screen) selectedID() (string, bool) {
	row, _ := s.selectedRow()
	if row < 0 {
		return "", false
	}
	return s.rows[row].InstanceID, true
}

// HandleKey is the table's input capture. It returns nil for keys it
// consumed.
func (s *Screen) HandleKey(ev *tcell.EventKey) *tcell.EventKey {
	if s.tracker == nil {
		return ev
	}
	t := s.tracker
	switch ev.Key() {
	case tcell.KeyEnter:
		s.editSelected()
		return nil
	case tcell.KeyDelete:
		s.removeSelected()
		return nil
	case tcell.KeyRune:
	default:
		return ev
	}

	switch ev.Rune() {
	case 'n':
		s.report("next turn", t.NextTurn())
	case 'a':
		s.openAddForm()
	case 'e':
		s.editSelected()
	case 'd':
		s.adjustSelected("Damage", t.Damage)
	case 'h':
		s.adjustSelected("Heal", t.Heal)
	case 's', 'f':
		if id, ok := s.selectedID(); ok {
			_, err := t.RecordDeathSave(id, ev.Rune() == 's')
			s.report("death save", err)
		}
	case 'c':
		s.askConcentration()
	case 'x':
		s.removeSelected()
	case 'u':
		n := t.Cleanup()
		s.setStatus(fmt.Sprintf("removed %d", n))
	case 'o':
		t.Sort()
	case 'r':
		if err := t.Resolve(s.ctx); err != nil && !errors.Is(err, bridge.ErrResolutionInProgress) {
			s.report("resolve", err)
		}
	case 'C':
		t.CancelResolve()
	case '0':
		t.Reset()
	case 'T':
		s.report("restart", t.Restart())
	case 'X':
		s.confirm("Clear the whole encounter?", t.Clear)
	case 'w':
		if err := t.Save(s.ctx); err != nil {
			s.report("save", err)
		} else {
			s.setStatus("saved")
		}
	case 'l':
		found, err := t.Load(s.ctx)
		switch {
		case err != nil:
			s.report("load", err)
		case !found:
			s.setStatus("nothing saved yet")
		}
	case 'q':
		if err := t.Save(s.ctx); err != nil {
			s.logger.Warn("saving on quit failed", zap.Error(err))
		}
		s.app.Stop()
	default:
		return ev
	}
	return nil
}

func (s *Screen) removeSelected() {
	row, _ := s.selectedRow()
	if row < 0 {
		return
	}
	s.report("remove", s.tracker.Remove(row))
}

func (s *Screen) editSelected() {
	row, col := s.selectedRow()
	if row < 0 {
		return
	}
	f, ok := editable[col]
	if !ok {
		return
	}
	// The prompt outlives the frame; a result applied meanwhile may move rows.
	id := s.rows[row].InstanceID
	s.prompt(fmt.Sprintf(" Edit %s ", f), s.Cell(row, col), func(text string) {
		s.report("edit", s.tracker.EditByID(id, f, text))
	})
}

func (s *Screen) adjustSelected(title string, apply func(id string, amount int) error) {
	id, ok := s.selectedID()
	if !ok {
		return
	}
	s.prompt(" "+title+" ", "", func(text string) {
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			s.setStatus(fmt.Sprintf("not a number: %q", text))
			return
		}
		s.report(strings.ToLower(title), apply(id, n))
	})
}

func (s *Screen) askConcentration() {
	id, ok := s.selectedID()
	if !ok {
		return
	}
	modal := tview.NewModal().
		SetText("Concentration check").
		AddButtons([]string{"Kept", "Lost", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			s.closeOverlay(pageChoice)
			if label == "Kept" || label == "Lost" {
				s.report("concentration", s.tracker.ResolveConcentration(id, label == "Kept"))
			}
		})
	s.pages.AddPage(pageChoice, modal, true, true)
	s.app.SetFocus(modal)
}

func (s *Screen) confirm(question string, fn func()) {
	modal := tview.NewModal().
		SetText(question).
		AddButtons([]string{"Yes", "No"}).
		SetDoneFunc(func(_ int, label string) {
			s.closeOverlay(pageChoice)
			if label == "Yes" {
				fn()
			}
		})
	s.pages.AddPage(pageChoice, modal, true, true)
	s.app.SetFocus(modal)
}

func (s *Screen) prompt(title, initial string, fn func(text string)) {
	input := tview.NewInputField().SetText(initial).SetFieldWidth(0)
	input.SetBorder(true).SetTitle(title)
	input.SetDoneFunc(func(key tcell.Key) {
		s.closeOverlay(pagePrompt)
		if key == tcell.KeyEnter {
			fn(input.GetText())
		}
	})
	s.pages.AddPage(pagePrompt, centered(input, 50, 3), true, true)
	s.app.SetFocus(input)
}

func (s *Screen) openAddForm() {
	form := tview.NewForm()
	form.SetBorder(true).SetTitle(" Add Combatant ")
	kinds := []string{combat.KindMonster.String(), combat.KindCharacter.String(), combat.KindManual.String()}
	form.AddInputField("Name", "", 28, nil, nil).
		AddDropDown("Type", kinds, 0, nil).
		AddInputField("Initiative", "", 6, tview.InputFieldInteger, nil).
		AddInputField("HP", "", 6, tview.InputFieldInteger, nil).
		AddInputField("Max HP", "", 6, tview.InputFieldInteger, nil).
		AddInputField("AC", "", 6, tview.InputFieldInteger, nil)

	text := func(label string) string {
		if f, ok := form.GetFormItemByLabel(label).(*tview.InputField); ok {
			return strings.TrimSpace(f.GetText())
		}
		return ""
	}
	number := func(label string) int {
		n, _ := strconv.Atoi(text(label))
		return n
	}

	form.AddButton("Add", func() {
		name := text("Name")
		if name == "" {
			s.setStatus("name is required")
			return
		}
		_, kindText := form.GetFormItemByLabel("Type").(*tview.DropDown).GetCurrentOption()
		kind, _ := combat.ParseKind(kindText)
		nc := combat.NewCombatant{
			Name:       name,
			Kind:       kind,
			KindSet:    true,
			Initiative: number("Initiative"),
			HP:         number("HP"),
			MaxHP:      number("Max HP"),
			AC:         number("AC"),
		}
		s.closeOverlay(pageForm)
		_, err := s.tracker.Add(nc)
		s.report("add", err)
	})
	form.AddButton("Cancel", func() { s.closeOverlay(pageForm) })
	form.SetCancelFunc(func() { s.closeOverlay(pageForm) })

	s.pages.AddPage(pageForm, centered(form, 50, 17), true, true)
	s.app.SetFocus(form)
}

func (s *Screen) closeOverlay(name string) {
	s.pages.RemovePage(name)
	s.app.SetFocus(s.table)
}

func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}
