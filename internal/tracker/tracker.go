// Package tracker is the combat tracker panel: it turns user actions into
// encounter mutations, keeps the view and the combat log in step, persists
// panel state and starts resolver runs.
//
// A Tracker is owned by the UI goroutine. Every method, including Handle, must
// be called from it.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/combatlog"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
	"github.com/cory-johannsen/dmscreen/internal/settings"
)

// DefaultStateKey is the settings key the panel state is saved under.
const DefaultStateKey = "combat_tracker_state"

// Deps are the collaborators of a Tracker.
type Deps struct {
	Encounter *combat.Encounter
	View      View
	Settings  settings.Store
	// StateKey defaults to DefaultStateKey.
	StateKey string
	Poster   bridge.Poster
	Resolver bridge.Resolver
	Roller   *dice.Roller
	Logger   *zap.Logger
	// External is an optional shared log sink preferred over the panel's own.
	External combatlog.Sink
	// Discover optionally finds a shared log panel at record time.
	Discover      combatlog.Discoverer
	Bridge        bridge.Config
	BridgeOptions []bridge.Option
}

// Tracker implements bridge.Controls for its own bridge.
type Tracker struct {
	enc    *combat.Encounter
	view   View
	store  settings.Store
	key    string
	roller *dice.Roller
	logger *zap.Logger
	log    *combatlog.Log
	bridge *bridge.Bridge

	// Selection and the current-turn highlight follow combatants, not rows,
	// so removals and sorts made outside the view cannot move them.
	selectedID    string
	highlightedID string
}

// New wires a Tracker, its combat log and its bridge.
//
// Precondition: Encounter, View, Poster, Resolver, Roller and Logger must be
// non-nil. Settings may be nil, in which case Save and Load fail.
func New(deps Deps) *Tracker {
	t := &Tracker{
		enc:    deps.Encounter,
		view:   deps.View,
		store:  deps.Settings,
		key:    deps.StateKey,
		roller: deps.Roller,
		logger: deps.Logger,
	}
	if t.key == "" {
		t.key = DefaultStateKey
	}

	var opts []combatlog.Option
	if deps.External != nil {
		opts = append(opts, combatlog.WithExternal(deps.External))
	}
	if deps.Discover != nil {
		opts = append(opts, combatlog.WithDiscovery(deps.Discover))
	}
	local := combatlog.SinkFunc(func(e combatlog.Entry) error {
		t.view.AppendLog(e.String())
		return nil
	})
	t.log = combatlog.New(local, deps.Logger, opts...)

	t.bridge = bridge.New(bridge.Deps{
		Encounter: deps.Encounter,
		Log:       t.log,
		Controls:  t,
		Poster:    deps.Poster,
		Resolver:  deps.Resolver,
		Roller:    deps.Roller,
		Logger:    deps.Logger,
	}, deps.Bridge, deps.BridgeOptions...)
	return t
}

// Encounter returns the tracked encounter.
func (t *Tracker) Encounter() *combat.Encounter { return t.enc }

// Log returns the combat log.
func (t *Tracker) Log() *combatlog.Log { return t.log }

// Busy reports whether a resolution run holds the resolve control.
func (t *Tracker) Busy() bool { return t.bridge.Busy() }

// Running reports whether a run is attached, released or not.
func (t *Tracker) Running() bool { return t.bridge.Running() }

// Selected returns the row of the selected combatant, or -1.
func (t *Tracker) Selected() int { return t.rowOf(t.selectedID) }

// SelectedID returns the instance id of the selected combatant, or "".
func (t *Tracker) SelectedID() string {
	if t.rowOf(t.selectedID) < 0 {
		return ""
	}
	return t.selectedID
}

func (t *Tracker) rowOf(id string) int {
	if id == "" {
		return -1
	}
	row, ok := t.enc.Store().RowOf(id)
	if !ok {
		return -1
	}
	return row
}

// SetResolveEnabled implements bridge.Controls.
func (t *Tracker) SetResolveEnabled(enabled bool) { t.view.SetResolveEnabled(enabled) }

// ShowError implements bridge.Controls.
func (t *Tracker) ShowError(title, message string) { t.view.ShowError(title, message) }

// Bulk implements bridge.Controls.
func (t *Tracker) Bulk(fn func()) {
	prev := t.view.BlockSignals(true)
	defer t.view.BlockSignals(prev)
	fn()
}

// Refresh implements bridge.Controls: it redraws every row, moves the
// current-turn marker and restores the selection.
func (t *Tracker) Refresh() {
	rows := t.rows()
	t.Bulk(func() {
		t.view.Render(rows)
		cur := t.enc.Cursor().Current
		t.view.MarkCurrent(combat.Highlight(t.rowOf(t.highlightedID), cur))
		t.highlightedID, _ = t.enc.Store().InstanceIDOf(cur)
		t.view.Select(t.Selected())
	})
}

func (t *Tracker) rows() []Row {
	store := t.enc.Store()
	cur := t.enc.Cursor().Current
	list := store.Rows()
	rows := make([]Row, len(list))
	for i, c := range list {
		rows[i] = Row{
			InstanceID:    c.InstanceID,
			Name:          c.Name,
			Kind:          c.Kind.String(),
			Initiative:    c.Initiative,
			HP:            c.CurrentHP,
			MaxHP:         c.MaxHP,
			AC:            c.AC,
			Status:        c.StatusText(),
			Concentrating: c.Concentrating,
			Current:       i == cur,
		}
		if ds, ok := store.DeathSavesAt(i); ok {
			rows[i].DeathSaves = fmt.Sprintf("S:%d F:%d", ds.Successes, ds.Failures)
		}
	}
	return rows
}

func (t *Tracker) round() int { return t.enc.Cursor().Round }

func (t *Tracker) record(e combatlog.Entry) {
	if e.Round == 0 {
		e.Round = t.round()
	}
	t.log.Record(e)
}

// Select records the user's table selection as the combatant at row. An
// out-of-range row clears it.
func (t *Tracker) Select(row int) {
	t.selectedID, _ = t.enc.Store().InstanceIDOf(row)
}

// Add inserts a combatant and re-sorts unless sorting is suppressed.
func (t *Tracker) Add(nc combat.NewCombatant) (string, error) {
	id, err := t.enc.Add(nc)
	if err != nil {
		t.logger.Info("combatant rejected", zap.String("name", nc.Name), zap.Error(err))
		return "", err
	}
	c, _ := t.enc.Store().Get(id)
	t.record(combatlog.Entry{
		Category: combatlog.CategoryInitiative,
		Actor:    c.Name,
		Action:   "joins combat",
		Result:   fmt.Sprintf("initiative %d", c.Initiative),
	})
	t.sort()
	t.Refresh()
	return id, nil
}

// EditCell applies a free-text cell edit to the combatant at row.
func (t *Tracker) EditCell(row int, f combat.Field, text string) error {
	id, ok := t.enc.Store().InstanceIDOf(row)
	if !ok {
		return fmt.Errorf("row %d: %w", row, combat.ErrNotFound)
	}
	return t.EditByID(id, f, text)
}

// EditByID applies a free-text cell edit to id. A rejected edit re-renders
// the row with its previous value and returns the *combat.FieldError; no
// dialog is shown.
func (t *Tracker) EditByID(id string, f combat.Field, text string) error {
	store := t.enc.Store()
	before, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", combat.ErrNotFound, id)
	}
	if err := store.UpdateField(id, f, text); err != nil {
		t.Refresh()
		return err
	}
	after, _ := store.Get(id)

	switch f {
	case combat.FieldHP, combat.FieldMaxHP:
		t.noteHP(before, after)
	case combat.FieldInitiative:
		if before.Initiative != after.Initiative {
			t.record(combatlog.Entry{
				Category: combatlog.CategoryInitiative,
				Actor:    after.Name,
				Action:   "initiative changed",
				Result:   fmt.Sprintf("%d -> %d", before.Initiative, after.Initiative),
			})
			t.sort()
		}
	case combat.FieldStatus:
		if before.StatusText() != after.StatusText() {
			t.record(combatlog.Entry{
				Category: combatlog.CategoryStatus,
				Actor:    after.Name,
				Action:   "status",
				Result:   statusOrNone(after.StatusText()),
			})
		}
	case combat.FieldConcentration:
		if before.Concentrating != after.Concentrating {
			t.noteConcentration(after)
		}
	}
	t.Refresh()
	return nil
}

func statusOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// noteHP logs the difference between two versions of one combatant.
func (t *Tracker) noteHP(before, after combat.Combatant) {
	hp := fmt.Sprintf("HP %d/%d", after.CurrentHP, after.MaxHP)
	switch {
	case after.CurrentHP < before.CurrentHP:
		dmg := before.CurrentHP - after.CurrentHP
		t.record(combatlog.Entry{
			Category: combatlog.CategoryDamage,
			Actor:    after.Name,
			Action:   fmt.Sprintf("takes %d damage", dmg),
			Result:   hp,
		})
		if after.Concentrating {
			t.record(combatlog.Entry{
				Category: combatlog.CategoryConcentration,
				Actor:    after.Name,
				Action:   "must make a concentration check",
				Result:   fmt.Sprintf("DC %d", combat.ConcentrationDC(dmg)),
			})
		}
		if after.CurrentHP == 0 && before.CurrentHP > 0 {
			action := "drops to 0 HP"
			if _, saving := t.enc.Store().DeathSaves(after.InstanceID); saving {
				action = "drops to 0 HP and begins making death saves"
			}
			t.record(combatlog.Entry{Category: combatlog.CategoryStatus, Actor: after.Name, Action: action})
		}
	case after.CurrentHP > before.CurrentHP:
		t.record(combatlog.Entry{
			Category: combatlog.CategoryHealing,
			Actor:    after.Name,
			Action:   fmt.Sprintf("regains %d HP", after.CurrentHP-before.CurrentHP),
			Result:   hp,
		})
		if before.CurrentHP == 0 {
			if woke, _ := t.enc.Store().RemoveCondition(after.InstanceID, "Unconscious"); woke {
				t.record(combatlog.Entry{Category: combatlog.CategoryStatus, Actor: after.Name, Action: "regains consciousness"})
			}
		}
	}
}

func (t *Tracker) noteConcentration(c combat.Combatant) {
	action := "stops concentrating"
	if c.Concentrating {
		action = "begins concentrating"
	}
	t.record(combatlog.Entry{Category: combatlog.CategoryConcentration, Actor: c.Name, Action: action})
}

// Damage subtracts amount from id's HP.
//
// Precondition: amount >= 0.
func (t *Tracker) Damage(id string, amount int) error {
	return t.adjustHP(id, -amount, amount)
}

// Heal adds amount to id's HP, up to MaxHP.
//
// Precondition: amount >= 0.
func (t *Tracker) Heal(id string, amount int) error {
	return t.adjustHP(id, amount, amount)
}

func (t *Tracker) adjustHP(id string, delta, amount int) error {
	if amount < 0 {
		return fmt.Errorf("amount %d: %w", amount, combat.ErrInvalidValue)
	}
	store := t.enc.Store()
	before, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", combat.ErrNotFound, id)
	}
	if _, err := store.SetHP(id, before.CurrentHP+delta); err != nil {
		return err
	}
	after, _ := store.Get(id)
	t.noteHP(before, after)
	t.Refresh()
	return nil
}

// RecordDeathSave records one death saving throw for id.
func (t *Tracker) RecordDeathSave(id string, success bool) (combat.DeathSaveOutcome, error) {
	store := t.enc.Store()
	outcome, err := store.RecordDeathSave(id, success)
	if err != nil {
		return outcome, err
	}
	c, _ := store.Get(id)
	e := combatlog.Entry{Category: combatlog.CategoryDeathSave, Actor: c.Name, Action: "fails a death save"}
	if success {
		e.Action = "succeeds on a death save"
	}
	switch outcome {
	case combat.DeathSaveStabilized:
		e.Result = "stable"
	case combat.DeathSaveDied:
		e.Result = "dead"
	default:
		ds, _ := store.DeathSaves(id)
		e.Result = fmt.Sprintf("%d success(es), %d failure(s)", ds.Successes, ds.Failures)
	}
	t.record(e)
	t.Refresh()
	return outcome, nil
}

// ResolveConcentration settles a pending concentration check.
func (t *Tracker) ResolveConcentration(id string, kept bool) error {
	store := t.enc.Store()
	c, ok := store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", combat.ErrNotFound, id)
	}
	if !c.Concentrating {
		return fmt.Errorf("%q is not concentrating: %w", c.Name, combat.ErrInvalidValue)
	}
	if kept {
		t.record(combatlog.Entry{Category: combatlog.CategoryConcentration, Actor: c.Name, Action: "maintains concentration"})
		return nil
	}
	if err := store.SetConcentrating(id, false); err != nil {
		return err
	}
	t.record(combatlog.Entry{Category: combatlog.CategoryConcentration, Actor: c.Name, Action: "loses concentration"})
	t.Refresh()
	return nil
}

// Remove deletes the combatant at row.
func (t *Tracker) Remove(row int) error {
	id, ok := t.enc.Store().InstanceIDOf(row)
	if !ok {
		return fmt.Errorf("row %d: %w", row, combat.ErrNotFound)
	}
	return t.RemoveByID(id)
}

// RemoveByID deletes id and keeps the selection and highlight on the same
// combatants.
func (t *Tracker) RemoveByID(id string) error {
	if err := t.remove(id, ""); err != nil {
		return err
	}
	t.Refresh()
	return nil
}

func (t *Tracker) remove(id, reason string) error {
	c, ok := t.enc.Store().Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", combat.ErrNotFound, id)
	}
	if _, err := t.enc.Remove(id); err != nil {
		return err
	}
	t.record(combatlog.Entry{
		Category: combatlog.CategoryStatus,
		Actor:    c.Name,
		Action:   "removed from combat",
		Result:   reason,
	})
	return nil
}

// Cleanup removes every combatant marked Dead or Fled and returns how many
// were removed.
func (t *Tracker) Cleanup() int {
	var removed int
	t.Bulk(func() {
		for _, c := range t.enc.Store().Rows() {
			reason := ""
			switch {
			case c.HasCondition("Dead"):
				reason = "dead"
			case c.HasCondition("Fled"):
				reason = "fled"
			default:
				continue
			}
			if err := t.remove(c.InstanceID, reason); err != nil {
				t.logger.Warn("cleanup removal failed", zap.String("instance_id", c.InstanceID), zap.Error(err))
				continue
			}
			removed++
		}
	})
	if removed > 0 {
		t.Refresh()
	}
	return removed
}

// NextTurn advances to the next combatant.
func (t *Tracker) NextTurn() error {
	adv, err := t.enc.NextTurn()
	if err != nil {
		t.logger.Info("next turn with no combatants")
		return err
	}
	if adv.NewRound && adv.Round > 1 {
		t.log.Recordf(combatlog.CategorySystem, adv.Round, "Round %d started", adv.Round)
	}
	c, _ := t.enc.Current()
	t.record(combatlog.Entry{
		Category: combatlog.CategoryInitiative,
		Actor:    c.Name,
		Action:   "takes the turn",
		Round:    adv.Round,
		Turn:     adv.Current + 1,
	})
	if ds, ok := t.enc.Store().DeathSaves(c.InstanceID); ok {
		t.record(combatlog.Entry{
			Category: combatlog.CategoryDeathSave,
			Actor:    c.Name,
			Action:   "must make a death saving throw",
			Result:   fmt.Sprintf("%d success(es), %d failure(s)", ds.Successes, ds.Failures),
			Round:    adv.Round,
		})
	}
	t.Refresh()
	return nil
}

// Reset returns to round 1 without touching combatants.
func (t *Tracker) Reset() {
	t.enc.Reset()
	t.record(combatlog.Entry{Category: combatlog.CategorySystem, Action: "Combat reset to round 1"})
	t.Refresh()
}

// Restart restores every combatant to full health and restarts at round 1.
func (t *Tracker) Restart() error {
	var err error
	t.Bulk(func() { err = t.enc.Restart() })
	if err != nil {
		t.Refresh()
		return fmt.Errorf("restarting encounter: %w", err)
	}
	t.selectedID = ""
	t.record(combatlog.Entry{Category: combatlog.CategorySystem, Action: "Combat restarted"})
	t.Refresh()
	return nil
}

// Clear removes every combatant and empties the log history. An attached
// resolver run is detached first.
func (t *Tracker) Clear() {
	t.bridge.Cancel()
	t.enc.Clear()
	t.log.Reset()
	t.selectedID, t.highlightedID = "", ""
	t.record(combatlog.Entry{Category: combatlog.CategorySystem, Action: "Encounter cleared"})
	t.Refresh()
}

// Sort orders combatants by initiative, keeping the selection on the same
// combatant. It is a no-op while a resolution run suppresses sorting.
func (t *Tracker) Sort() {
	if t.enc.SortSuppressed() {
		t.logger.Info("sort suppressed while a resolution is running")
		return
	}
	t.sort()
	t.Refresh()
}

func (t *Tracker) sort() {
	if perm, ok := t.enc.Sort(); ok && !perm.IsIdentity() {
		t.logger.Debug("initiative order changed", zap.Ints("rows", perm))
	}
}

// Save persists the panel state.
func (t *Tracker) Save(ctx context.Context) error {
	if t.store == nil {
		return errors.New("no settings store configured")
	}
	data, err := combat.MarshalState(t.enc.Snapshot())
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, t.key, data); err != nil {
		return fmt.Errorf("saving tracker state: %w", err)
	}
	t.logger.Debug("tracker state saved", zap.String("key", t.key), zap.Int("bytes", len(data)))
	return nil
}

// Load restores the panel state saved under the state key. found is false,
// with a nil error, when nothing was ever saved.
func (t *Tracker) Load(ctx context.Context) (found bool, err error) {
	if t.store == nil {
		return false, errors.New("no settings store configured")
	}
	data, err := t.store.Get(ctx, t.key)
	if errors.Is(err, settings.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading tracker state: %w", err)
	}
	st, err := combat.UnmarshalState(data)
	if err != nil {
		return false, err
	}

	t.bridge.Cancel()
	t.Bulk(func() { err = t.enc.Restore(st) })
	t.selectedID, t.highlightedID = "", ""
	if err != nil {
		t.Refresh()
		return true, fmt.Errorf("restoring tracker state: %w", err)
	}
	t.record(combatlog.Entry{
		Category: combatlog.CategorySystem,
		Action:   fmt.Sprintf("Restored %d combatant(s)", t.enc.Store().Len()),
	})
	t.Refresh()
	return true, nil
}

// Resolve starts a resolver run over the encounter.
func (t *Tracker) Resolve(ctx context.Context) error {
	err := t.bridge.Start(ctx)
	if errors.Is(err, bridge.ErrResolutionInProgress) {
		t.logger.Info("resolve requested while a run is in progress")
		t.record(combatlog.Entry{Category: combatlog.CategorySystem, Action: "A resolution is already in progress"})
	}
	return err
}

// CancelResolve detaches the attached run, if any.
func (t *Tracker) CancelResolve() { t.bridge.Cancel() }

// Handle routes a message drained from the UI loop.
func (t *Tracker) Handle(msg any) {
	switch m := msg.(type) {
	case bridge.Message:
		t.bridge.Handle(m)
	default:
		t.logger.Debug("tracker ignoring message", zap.String("message", fmt.Sprintf("%T", msg)))
	}
}
