package combatlog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/dmscreen/internal/game/combatlog"
)

type linePanel struct{ lines []string }

func (p *linePanel) AppendLine(line string) { p.lines = append(p.lines, line) }

type recorder struct {
	entries []combatlog.Entry
	err     error
	panics  bool
}

func (r *recorder) Record(e combatlog.Entry) error {
	if r.panics {
		panic("boom")
	}
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestEntryString(t *testing.T) {
	cases := []struct {
		entry combatlog.Entry
		want  string
	}{
		{combatlog.Entry{Category: combatlog.CategoryInitiative, Actor: "Aria", Action: "starts turn", Round: 2, Turn: 1}, "[R2 T1] Initiative: Aria starts turn"},
		{combatlog.Entry{Category: combatlog.CategoryAttack, Actor: "Orc", Action: "hits", Target: "Aria", Result: "7 damage", Round: 1}, "[R1] Attack: Orc hits -> Aria (7 damage)"},
		{combatlog.Entry{Category: combatlog.CategorySystem, Action: "Round 3 started"}, "System: Round 3 started"},
		{combatlog.Entry{Category: combatlog.CategoryDice, Result: "1d20+2 = 14"}, "Dice: 1d20+2 = 14"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.entry.String())
	}
	assert.Equal(t, "Unknown", combatlog.Category(99).String())
}

func TestLog_PrefersExternalSink(t *testing.T) {
	ext := &recorder{}
	local := &recorder{}
	panel := &linePanel{}
	l := combatlog.New(local, zaptest.NewLogger(t),
		combatlog.WithExternal(ext),
		combatlog.WithDiscovery(func() (combatlog.Panel, bool) { return panel, true }),
	)
	l.Record(combatlog.Entry{Category: combatlog.CategorySystem, Action: "hello"})
	assert.Len(t, ext.entries, 1)
	assert.Empty(t, local.entries)
	assert.Empty(t, panel.lines)
}

func TestLog_FallsThroughOnFailure(t *testing.T) {
	ext := &recorder{err: errors.New("closed")}
	local := &recorder{}
	panel := &linePanel{}
	l := combatlog.New(local, zaptest.NewLogger(t),
		combatlog.WithExternal(ext),
		combatlog.WithDiscovery(func() (combatlog.Panel, bool) { return panel, true }),
	)
	e := combatlog.Entry{Category: combatlog.CategorySystem, Action: "hello"}
	l.Record(e)
	require.Len(t, panel.lines, 1)
	assert.Equal(t, e.String(), panel.lines[0])
	assert.Empty(t, local.entries)

	// The discovered panel is cached for later entries.
	l.Record(e)
	assert.Len(t, panel.lines, 2)
}

func TestLog_PanicsAreSwallowed(t *testing.T) {
	local := &recorder{}
	l := combatlog.New(local, zaptest.NewLogger(t),
		combatlog.WithExternal(&recorder{panics: true}),
		combatlog.WithDiscovery(func() (combatlog.Panel, bool) { panic("registry gone") }),
	)
	assert.NotPanics(t, func() {
		l.Record(combatlog.Entry{Category: combatlog.CategoryError, Action: "oops"})
	})
	assert.Len(t, local.entries, 1)
	assert.Len(t, l.Entries(), 1)
}

func TestLog_NoSinksStillRetains(t *testing.T) {
	l := combatlog.New(nil, zaptest.NewLogger(t),
		combatlog.WithDiscovery(func() (combatlog.Panel, bool) { return nil, false }))
	l.Recordf(combatlog.CategorySystem, 3, "Round %d started", 3)
	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "[R3] System: Round 3 started", entries[0].String())
	l.Reset()
	assert.Empty(t, l.Entries())
}

func TestLog_AllPathsRenderIdentically(t *testing.T) {
	e := combatlog.Entry{Category: combatlog.CategoryDamage, Actor: "Orc", Action: "takes", Result: "5", Round: 1, Turn: 2}

	var viaSink string
	combatlog.New(nil, zaptest.NewLogger(t), combatlog.WithExternal(combatlog.SinkFunc(func(e combatlog.Entry) error {
		viaSink = e.String()
		return nil
	}))).Record(e)

	panel := &linePanel{}
	combatlog.New(nil, zaptest.NewLogger(t), combatlog.WithDiscovery(func() (combatlog.Panel, bool) { return panel, true })).Record(e)

	var viaLocal string
	combatlog.New(combatlog.SinkFunc(func(e combatlog.Entry) error {
		viaLocal = e.String()
		return nil
	}), zaptest.NewLogger(t)).Record(e)

	require.Len(t, panel.lines, 1)
	assert.Equal(t, viaSink, panel.lines[0])
	assert.Equal(t, viaSink, viaLocal)
}
