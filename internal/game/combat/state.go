package combat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SavedCombatant is the persisted form of one row.
type SavedCombatant struct {
	InstanceID    string  `json:"instance_id,omitempty"`
	Name          string  `json:"name"`
	Initiative    int     `json:"initiative"`
	HP            int     `json:"hp"`
	MaxHP         int     `json:"max_hp"`
	AC            int     `json:"ac"`
	Status        string  `json:"status"`
	Concentration bool    `json:"concentration"`
	Type          string  `json:"type,omitempty"`
	Data          Payload `json:"data,omitempty"`
}

// PanelState is the save/restore contract of the combat tracker. Death saves
// and concentration are keyed by row, the only coordinate the persisted list
// carries.
type PanelState struct {
	Round         int                   `json:"round"`
	Turn          int                   `json:"turn"`
	ElapsedTime   float64               `json:"elapsed_time"`
	Combatants    []SavedCombatant      `json:"combatants"`
	DeathSaves    map[string]DeathSaves `json:"death_saves,omitempty"`
	Concentrating []int                 `json:"concentrating,omitempty"`
}

// Snapshot captures the encounter in persisted form.
func (e *Encounter) Snapshot() PanelState {
	st := PanelState{
		Round:       e.cursor.Round,
		Turn:        e.cursor.Current,
		ElapsedTime: e.cursor.Elapsed.Seconds(),
		DeathSaves:  make(map[string]DeathSaves),
	}
	for row, c := range e.store.Rows() {
		st.Combatants = append(st.Combatants, SavedCombatant{
			InstanceID:    c.InstanceID,
			Name:          c.Name,
			Initiative:    c.Initiative,
			HP:            c.CurrentHP,
			MaxHP:         c.MaxHP,
			AC:            c.AC,
			Status:        c.StatusText(),
			Concentration: c.Concentrating,
			Type:          c.Kind.String(),
			Data:          e.store.Payload(c.InstanceID),
		})
		if ds, ok := e.store.DeathSaves(c.InstanceID); ok {
			st.DeathSaves[strconv.Itoa(row)] = ds
		}
	}
	st.Concentrating = e.store.ConcentratingRows()
	return st
}

// Restore replaces the encounter with st. Existing rows and tracking state
// are cleared first; rows are rebuilt in saved order, and a missing or
// unknown type is re-derived with InferKind.
func (e *Encounter) Restore(st PanelState) error {
	e.Clear()

	for i, sc := range st.Combatants {
		kind, known := ParseKind(sc.Type)
		id, err := e.store.Add(NewCombatant{
			InstanceID: sc.InstanceID,
			Name:       sc.Name,
			Kind:       kind,
			KindSet:    known,
			Initiative: sc.Initiative,
			HP:         sc.HP,
			MaxHP:      sc.MaxHP,
			AC:         sc.AC,
			Conditions: ParseConditions(sc.Status),
			Payload:    sc.Data,
		})
		if err != nil {
			e.Clear()
			return fmt.Errorf("restoring combatant %d (%q): %w", i, sc.Name, err)
		}
		if sc.Concentration {
			_ = e.store.SetConcentrating(id, true)
		}
		if _, saved := st.DeathSaves[strconv.Itoa(i)]; !saved {
			e.store.ClearDeathSaves(id)
		}
	}

	for _, row := range st.Concentrating {
		if id, ok := e.store.InstanceIDOf(row); ok {
			_ = e.store.SetConcentrating(id, true)
		}
	}
	for key, ds := range st.DeathSaves {
		row, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if id, ok := e.store.InstanceIDOf(row); ok {
			_ = e.store.SetDeathSaves(id, ds)
		}
	}

	e.cursor = NewTurnCursor()
	if st.Round >= 1 {
		e.cursor.Round = st.Round
	}
	e.cursor.Current = st.Turn
	e.cursor.Elapsed = time.Duration(st.ElapsedTime * float64(time.Second))
	e.cursor.Started = st.Round > 1 || st.Turn > 0
	e.cursor.Clamp(e.store.Len())
	return nil
}

// MarshalState encodes st as the JSON blob stored in settings.
func MarshalState(st PanelState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding panel state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a blob produced by MarshalState.
func UnmarshalState(data []byte) (PanelState, error) {
	var st PanelState
	if err := json.Unmarshal(data, &st); err != nil {
		return PanelState{}, fmt.Errorf("decoding panel state: %w", err)
	}
	return st, nil
}
