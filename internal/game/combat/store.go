package combat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when an instance id or row does not resolve to a combatant.
	ErrNotFound = errors.New("combatant not found")
	// ErrInvalidValue is returned when an edit carries a value the field cannot hold.
	ErrInvalidValue = errors.New("invalid value")
	// ErrNoDeathSaves is returned when recording a death save for a combatant
	// that is not currently making them.
	ErrNoDeathSaves = errors.New("combatant is not making death saves")
)

// maxIDAttempts bounds the collision-check loop in Add.
const maxIDAttempts = 8

// Field names an editable combatant column.
type Field int

const (
	FieldName Field = iota
	FieldInitiative
	FieldHP
	FieldMaxHP
	FieldAC
	FieldStatus
	FieldConcentration
	FieldKind
)

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldInitiative:
		return "initiative"
	case FieldHP:
		return "hp"
	case FieldMaxHP:
		return "max_hp"
	case FieldAC:
		return "ac"
	case FieldStatus:
		return "status"
	case FieldConcentration:
		return "concentration"
	case FieldKind:
		return "type"
	default:
		return "unknown"
	}
}

// FieldError reports a rejected single-field edit. The field keeps its
// previous value.
type FieldError struct {
	Field Field
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: rejected %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// HPChange describes the effect of an HP mutation.
type HPChange struct {
	Old int
	New int
}

// Damage returns the HP lost, or 0 for healing/no change.
func (c HPChange) Damage() int {
	if c.New < c.Old {
		return c.Old - c.New
	}
	return 0
}

// DeathSaveOutcome is the result of recording one death save.
type DeathSaveOutcome int

const (
	DeathSavePending DeathSaveOutcome = iota
	DeathSaveStabilized
	DeathSaveDied
)

func (o DeathSaveOutcome) String() string {
	switch o {
	case DeathSaveStabilized:
		return "stabilized"
	case DeathSaveDied:
		return "died"
	default:
		return "pending"
	}
}

// Store owns the authoritative combatant records.
//
// Invariant: every side table (death saves, concentrating set, payloads) is
// keyed by instance id and only holds ids present in records; rows is a
// bijection between order and [0, len(order)).
type Store struct {
	order         []string
	rows          map[string]int
	records       map[string]*Combatant
	deathSaves    map[string]DeathSaves
	concentrating map[string]struct{}
	payloads      map[string]Payload
	newID         func() string
	logger        *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator replaces the uuid-based instance id generator.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates an empty Store.
//
// Precondition: logger must be non-nil.
func NewStore(logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		rows:          make(map[string]int),
		records:       make(map[string]*Combatant),
		deathSaves:    make(map[string]DeathSaves),
		concentrating: make(map[string]struct{}),
		payloads:      make(map[string]Payload),
		newID:         uuid.NewString,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of combatants.
func (s *Store) Len() int { return len(s.order) }

// Add inserts a new combatant at the end of the order and returns its
// instance id.
//
// Postcondition: the returned id is unique within the store and will not
// change for the lifetime of the combatant.
func (s *Store) Add(nc NewCombatant) (string, error) {
	name := strings.TrimSpace(nc.Name)
	if name == "" {
		return "", &FieldError{Field: FieldName, Value: nc.Name, Err: ErrInvalidValue}
	}
	if nc.HP < 0 || nc.MaxHP < 0 {
		return "", &FieldError{Field: FieldHP, Value: strconv.Itoa(nc.HP), Err: ErrInvalidValue}
	}

	id := nc.InstanceID
	if _, taken := s.records[id]; id == "" || taken {
		var err error
		id, err = s.generateID()
		if err != nil {
			return "", err
		}
	}

	kind := nc.Kind
	if !nc.KindSet {
		kind = InferKind(name, nc.Payload)
	}
	maxHP := nc.MaxHP
	if maxHP == 0 {
		maxHP = nc.HP
	}

	c := &Combatant{
		InstanceID: id,
		Name:       name,
		Kind:       kind,
		Initiative: nc.Initiative,
		CurrentHP:  clampHP(nc.HP, maxHP),
		MaxHP:      maxHP,
		AC:         nc.AC,
		Conditions: ParseConditions(strings.Join(nc.Conditions, ",")),
	}
	s.records[id] = c
	s.order = append(s.order, id)
	s.rows[id] = len(s.order) - 1
	if nc.Payload != nil {
		s.payloads[id] = nc.Payload.Clone()
	}
	if nc.Concentrating {
		s.setConcentrating(c, true)
	}
	if c.CurrentHP == 0 && c.Kind == KindCharacter && c.MaxHP > 0 {
		s.deathSaves[id] = DeathSaves{}
	}
	return id, nil
}

func (s *Store) generateID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.records[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generating instance id: %d collisions", maxIDAttempts)
}

// Get returns a copy of the combatant with the given id.
func (s *Store) Get(id string) (Combatant, bool) {
	c, ok := s.records[id]
	if !ok {
		return Combatant{}, false
	}
	return c.clone(), true
}

// At returns a copy of the combatant at row.
func (s *Store) At(row int) (Combatant, bool) {
	id, ok := s.InstanceIDOf(row)
	if !ok {
		return Combatant{}, false
	}
	return s.Get(id)
}

// RowOf returns the current row of id.
func (s *Store) RowOf(id string) (int, bool) {
	row, ok := s.rows[id]
	return row, ok
}

// InstanceIDOf returns the instance id currently displayed at row.
func (s *Store) InstanceIDOf(row int) (string, bool) {
	if row < 0 || row >= len(s.order) {
		return "", false
	}
	return s.order[row], true
}

// IDs returns the instance ids in row order.
func (s *Store) IDs() []string {
	return append([]string(nil), s.order...)
}

// Rows returns copies of all combatants in row order.
func (s *Store) Rows() []Combatant {
	out := make([]Combatant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].clone())
	}
	return out
}

// FindByName returns the first combatant (in row order) whose name matches
// exactly, falling back to a case-insensitive match.
func (s *Store) FindByName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, id := range s.order {
		if s.records[id].Name == name {
			return id, true
		}
	}
	for _, id := range s.order {
		if strings.EqualFold(s.records[id].Name, name) {
			return id, true
		}
	}
	return "", false
}

func (s *Store) lookup(id string) (*Combatant, error) {
	c, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c, nil
}

// UpdateField applies a single free-text edit, the way a table cell edit
// arrives. Numeric fields must parse as integers; otherwise the edit is
// rejected with a *FieldError and the previous value is kept.
func (s *Store) UpdateField(id string, f Field, text string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(text)

	reject := func(cause error) error {
		s.logger.Info("rejected field edit",
			zap.String("instance_id", id),
			zap.String("name", c.Name),
			zap.String("field", f.String()),
			zap.String("value", text),
		)
		return &FieldError{Field: f, Value: text, Err: cause}
	}

	switch f {
	case FieldName:
		if trimmed == "" {
			return reject(ErrInvalidValue)
		}
		c.Name = trimmed
	case FieldInitiative, FieldHP, FieldMaxHP, FieldAC:
		n, convErr := strconv.Atoi(trimmed)
		if convErr != nil {
			return reject(ErrInvalidValue)
		}
		switch f {
		case FieldInitiative:
			c.Initiative = n
		case FieldHP:
			s.setHP(c, n)
		case FieldMaxHP:
			if n < 0 {
				return reject(ErrInvalidValue)
			}
			s.setMaxHP(c, n)
		case FieldAC:
			c.AC = n
		}
	case FieldStatus:
		c.Conditions = ParseConditions(trimmed)
	case FieldConcentration:
		on, ok := parseFlag(trimmed)
		if !ok {
			return reject(ErrInvalidValue)
		}
		s.setConcentrating(c, on)
	case FieldKind:
		k, ok := ParseKind(trimmed)
		if !ok {
			return reject(ErrInvalidValue)
		}
		c.Kind = k
	default:
		return reject(ErrInvalidValue)
	}
	return nil
}

func parseFlag(text string) (bool, bool) {
	switch strings.ToLower(text) {
	case "x", "y", "yes", "on":
		return true, true
	case "", "n", "no", "off":
		return false, true
	}
	b, err := strconv.ParseBool(text)
	if err != nil {
		return false, false
	}
	return b, true
}

func clampHP(hp, maxHP int) int {
	if hp < 0 {
		return 0
	}
	if hp > maxHP {
		return maxHP
	}
	return hp
}

// setHP is the single HP mutation path; it clamps to [0, MaxHP] and keeps the
// death-save side table consistent with the result.
func (s *Store) setHP(c *Combatant, hp int) HPChange {
	change := HPChange{Old: c.CurrentHP, New: clampHP(hp, c.MaxHP)}
	c.CurrentHP = change.New
	switch {
	case change.New > 0:
		delete(s.deathSaves, c.InstanceID)
	case change.Old > 0 && c.Kind == KindCharacter:
		s.deathSaves[c.InstanceID] = DeathSaves{}
		c.Conditions = removeCondition(c.Conditions, "Stable")
	}
	return change
}

func (s *Store) setMaxHP(c *Combatant, maxHP int) {
	c.MaxHP = maxHP
	if c.CurrentHP > maxHP {
		s.setHP(c, maxHP)
	}
}

func (s *Store) setConcentrating(c *Combatant, on bool) {
	c.Concentrating = on
	if on {
		s.concentrating[c.InstanceID] = struct{}{}
	} else {
		delete(s.concentrating, c.InstanceID)
	}
}

// SetHP sets current HP, clamped to [0, MaxHP].
func (s *Store) SetHP(id string, hp int) (HPChange, error) {
	c, err := s.lookup(id)
	if err != nil {
		return HPChange{}, err
	}
	return s.setHP(c, hp), nil
}

// SetMaxHP sets maximum HP and clamps current HP to it.
func (s *Store) SetMaxHP(id string, maxHP int) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	if maxHP < 0 {
		return &FieldError{Field: FieldMaxHP, Value: strconv.Itoa(maxHP), Err: ErrInvalidValue}
	}
	s.setMaxHP(c, maxHP)
	return nil
}

// SetInitiative sets the initiative score. The caller decides whether to re-sort.
func (s *Store) SetInitiative(id string, initiative int) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	c.Initiative = initiative
	return nil
}

// SetStatus replaces the conditions with the parsed comma-joined text.
func (s *Store) SetStatus(id, text string) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	c.Conditions = ParseConditions(text)
	return nil
}

// AddCondition appends cond unless already present.
//
// Postcondition: returns true iff the condition was added.
func (s *Store) AddCondition(id, cond string) (bool, error) {
	c, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	cond = strings.TrimSpace(cond)
	if cond == "" || c.HasCondition(cond) {
		return false, nil
	}
	c.Conditions = append(c.Conditions, cond)
	return true, nil
}

// RemoveCondition drops cond (case-insensitive).
func (s *Store) RemoveCondition(id, cond string) (bool, error) {
	c, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	before := len(c.Conditions)
	c.Conditions = removeCondition(c.Conditions, cond)
	return len(c.Conditions) != before, nil
}

func removeCondition(conds []string, cond string) []string {
	out := conds[:0:0]
	for _, existing := range conds {
		if !strings.EqualFold(existing, cond) {
			out = append(out, existing)
		}
	}
	return out
}

// SetConcentrating sets the concentration flag and set membership together.
func (s *Store) SetConcentrating(id string, on bool) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.setConcentrating(c, on)
	return nil
}

// ConcentratingRows returns the rows of all concentrating combatants in
// ascending order.
func (s *Store) ConcentratingRows() []int {
	var rows []int
	for row, id := range s.order {
		if _, ok := s.concentrating[id]; ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// DeathSaves returns the pending death saves of id.
func (s *Store) DeathSaves(id string) (DeathSaves, bool) {
	ds, ok := s.deathSaves[id]
	return ds, ok
}

// DeathSavesAt returns the pending death saves of the combatant at row.
func (s *Store) DeathSavesAt(row int) (DeathSaves, bool) {
	id, ok := s.InstanceIDOf(row)
	if !ok {
		return DeathSaves{}, false
	}
	return s.DeathSaves(id)
}

// SetDeathSaves installs a death-save counter. Only valid at 0 HP.
func (s *Store) SetDeathSaves(id string, ds DeathSaves) error {
	c, err := s.lookup(id)
	if err != nil {
		return err
	}
	if c.CurrentHP != 0 || ds.Successes < 0 || ds.Failures < 0 ||
		ds.Successes >= deathSaveLimit || ds.Failures >= deathSaveLimit {
		return fmt.Errorf("death saves for %q: %w", c.Name, ErrInvalidValue)
	}
	s.deathSaves[id] = ds
	return nil
}

// RecordDeathSave adds one success or failure. Three successes stabilize the
// combatant (adds "Stable"); three failures kill it (adds "Dead"). Either
// way the counter is removed.
func (s *Store) RecordDeathSave(id string, success bool) (DeathSaveOutcome, error) {
	c, err := s.lookup(id)
	if err != nil {
		return DeathSavePending, err
	}
	ds, ok := s.deathSaves[id]
	if !ok {
		return DeathSavePending, fmt.Errorf("%q: %w", c.Name, ErrNoDeathSaves)
	}
	if success {
		ds.Successes++
	} else {
		ds.Failures++
	}
	switch {
	case ds.Successes >= deathSaveLimit:
		delete(s.deathSaves, id)
		if !c.HasCondition("Stable") {
			c.Conditions = append(c.Conditions, "Stable")
		}
		return DeathSaveStabilized, nil
	case ds.Failures >= deathSaveLimit:
		delete(s.deathSaves, id)
		if !c.HasCondition("Dead") {
			c.Conditions = append(c.Conditions, "Dead")
		}
		return DeathSaveDied, nil
	}
	s.deathSaves[id] = ds
	return DeathSavePending, nil
}

// ClearDeathSaves drops any pending counter for id.
func (s *Store) ClearDeathSaves(id string) {
	delete(s.deathSaves, id)
}

// Payload returns a deep copy of the extended payload of id.
func (s *Store) Payload(id string) Payload {
	return s.payloads[id].Clone()
}

// SetPayload replaces the extended payload of id with a deep copy of p.
func (s *Store) SetPayload(id string, p Payload) error {
	if _, err := s.lookup(id); err != nil {
		return err
	}
	if p == nil {
		delete(s.payloads, id)
		return nil
	}
	s.payloads[id] = p.Clone()
	return nil
}

// Remove deletes id and every side-table entry keyed to it.
//
// Postcondition: returns the row the combatant occupied before removal; rows
// after it shift up by one.
func (s *Store) Remove(id string) (int, error) {
	row, ok := s.rows[id]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.order = append(s.order[:row], s.order[row+1:]...)
	delete(s.records, id)
	delete(s.rows, id)
	delete(s.deathSaves, id)
	delete(s.concentrating, id)
	delete(s.payloads, id)
	for i := row; i < len(s.order); i++ {
		s.rows[s.order[i]] = i
	}
	return row, nil
}

// Clear removes every combatant and side-table entry.
func (s *Store) Clear() {
	s.order = nil
	s.rows = make(map[string]int)
	s.records = make(map[string]*Combatant)
	s.deathSaves = make(map[string]DeathSaves)
	s.concentrating = make(map[string]struct{})
	s.payloads = make(map[string]Payload)
}

// CheckInvariants verifies the store's internal consistency. It is cheap
// enough to call after every mutation in tests.
func (s *Store) CheckInvariants() error {
	var errs []string
	if len(s.order) != len(s.records) || len(s.rows) != len(s.records) {
		errs = append(errs, fmt.Sprintf("size mismatch: order=%d rows=%d records=%d", len(s.order), len(s.rows), len(s.records)))
	}
	for row, id := range s.order {
		c, ok := s.records[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("row %d refers to missing id %q", row, id))
			continue
		}
		if c.InstanceID != id {
			errs = append(errs, fmt.Sprintf("row %d record id %q != %q", row, c.InstanceID, id))
		}
		if got, ok := s.rows[id]; !ok || got != row {
			errs = append(errs, fmt.Sprintf("row index for %q is %d, want %d", id, got, row))
		}
		_, inSet := s.concentrating[id]
		if inSet != c.Concentrating {
			errs = append(errs, fmt.Sprintf("concentration mismatch for %q: flag=%v set=%v", id, c.Concentrating, inSet))
		}
		if c.CurrentHP < 0 || c.CurrentHP > c.MaxHP {
			errs = append(errs, fmt.Sprintf("hp out of range for %q: %d/%d", id, c.CurrentHP, c.MaxHP))
		}
	}
	for id := range s.deathSaves {
		c, ok := s.records[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("death saves for missing id %q", id))
		} else if c.CurrentHP != 0 {
			errs = append(errs, fmt.Sprintf("death saves for %q at %d hp", id, c.CurrentHP))
		}
	}
	for id := range s.concentrating {
		if _, ok := s.records[id]; !ok {
			errs = append(errs, fmt.Sprintf("concentration for missing id %q", id))
		}
	}
	for id := range s.payloads {
		if _, ok := s.records[id]; !ok {
			errs = append(errs, fmt.Sprintf("payload for missing id %q", id))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store invariants violated: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConcentrationDC is the save DC to keep concentrating after taking damage:
// half the damage, minimum 10.
func ConcentrationDC(damage int) int {
	if dc := damage / 2; dc > 10 {
		return dc
	}
	return 10
}
