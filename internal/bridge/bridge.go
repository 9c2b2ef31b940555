// Package bridge runs a combat resolver on a background goroutine and applies
// what it reports to the encounter on the UI goroutine.
//
// Start, Handle and every other Bridge method must be called from the
// goroutine that owns the encounter. The worker goroutine and the resolver
// only ever post messages.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/combatlog"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
)

// ErrResolutionInProgress is returned by Start while a run holds the control.
var ErrResolutionInProgress = errors.New("resolution already in progress")

const tracerName = "github.com/cory-johannsen/dmscreen/internal/bridge"

// Controls is the part of the tracker panel the bridge drives.
type Controls interface {
	// SetResolveEnabled enables or disables the control that starts a run.
	SetResolveEnabled(enabled bool)
	// ShowError presents a blocking error to the user.
	ShowError(title, message string)
	// Bulk runs fn with view change signals blocked; signals are restored
	// even if fn panics.
	Bulk(fn func())
	// Refresh redraws the table and the current-turn highlight.
	Refresh()
}

// Config holds the run timeouts and application budget.
type Config struct {
	SoftTimeout time.Duration
	HardTimeout time.Duration
	ApplyBudget time.Duration
}

// DefaultConfig returns a 2m soft timeout, 5m hard timeout and 2s budget.
func DefaultConfig() Config {
	return Config{
		SoftTimeout: 2 * time.Minute,
		HardTimeout: 5 * time.Minute,
		ApplyBudget: 2 * time.Second,
	}
}

// Deps are the collaborators of a Bridge.
type Deps struct {
	Encounter *combat.Encounter
	Log       *combatlog.Log
	Controls  Controls
	Poster    Poster
	Resolver  Resolver
	Roller    *dice.Roller
	Logger    *zap.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock replaces time.Now for budget accounting.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bridge) { b.tracer = t }
}

type run struct {
	id       uint64
	ctx      context.Context
	cancel   context.CancelFunc
	watchdog *Watchdog
	span     trace.Span
	started  time.Time
	// released is set once the control has been handed back while the run is
	// still attached; a new Start then abandons this run.
	released bool
	updates  int
	once     sync.Once
}

// Bridge coordinates one resolution run at a time.
type Bridge struct {
	enc      *combat.Encounter
	log      *combatlog.Log
	controls Controls
	poster   Poster
	resolver Resolver
	roller   *dice.Roller
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer

	nextID uint64
	run    *run
}

// New creates an idle Bridge.
//
// Precondition: every field of deps must be non-nil.
func New(deps Deps, cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		enc:      deps.Encounter,
		log:      deps.Log,
		controls: deps.Controls,
		poster:   deps.Poster,
		resolver: deps.Resolver,
		roller:   deps.Roller,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Running reports whether a run is attached.
func (b *Bridge) Running() bool { return b.run != nil }

// Busy reports whether an attached run still holds the control.
func (b *Bridge) Busy() bool { return b.run != nil && !b.run.released }

// Start launches a run over the current encounter and returns immediately.
//
// Postcondition: on success the control is disabled, sorting is suppressed,
// and the watchdog is armed. A run whose control was already released by the
// soft timeout is abandoned first.
func (b *Bridge) Start(ctx context.Context) error {
	if b.run != nil {
		if !b.run.released {
			return ErrResolutionInProgress
		}
		b.logger.Info("abandoning released resolution run", zap.Uint64("run", b.run.id))
		b.finish("abandoned")
	}

	b.nextID++
	id := b.nextID
	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := b.tracer.Start(runCtx, "bridge.resolve",
		trace.WithAttributes(
			attribute.Int64("run.id", int64(id)),
			attribute.Int("combatants", b.enc.Store().Len()),
		))
	r := &run{id: id, ctx: runCtx, cancel: cancel, span: span, started: b.now()}
	b.run = r

	b.enc.SetSortSuppressed(true)
	b.controls.SetResolveEnabled(false)
	r.watchdog = NewWatchdog(b.cfg.SoftTimeout, b.cfg.HardTimeout, func(hard bool) {
		b.post(TimeoutMsg{RunID: id, Hard: hard})
	})

	snap := b.capture()
	b.logger.Info("resolution started",
		zap.Uint64("run", id),
		zap.Int("combatants", len(snap.Combatants)),
	)
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategoryResolver,
		Action:   "Resolution started",
		Round:    snap.Round,
	})
	go b.work(r, snap)
	return nil
}

// capture copies the encounter into plain maps on the UI goroutine so the
// worker never reads tracker state.
func (b *Bridge) capture() CombatState {
	cur := b.enc.Cursor()
	st := CombatState{Round: cur.Round, CurrentTurnIndex: cur.Current}
	store := b.enc.Store()
	for _, c := range store.Rows() {
		m := map[string]any{}
		for k, v := range store.Payload(c.InstanceID) {
			m[k] = v
		}
		m["name"] = c.Name
		m["initiative"] = c.Initiative
		m["hp"] = c.CurrentHP
		m["max_hp"] = c.MaxHP
		m["ac"] = c.AC
		m["status"] = c.StatusText()
		m["concentration"] = c.Concentrating
		m["type"] = c.Kind.String()
		m["instance_id"] = c.InstanceID
		st.Combatants = append(st.Combatants, m)
	}
	return st
}

// work runs on its own goroutine and never touches the encounter.
func (b *Bridge) work(r *run, snap CombatState) {
	done := func(res *Result, err error) {
		r.once.Do(func() {
			clean, dropped := sanitizeResult(res)
			if dropped > 0 {
				b.logger.Warn("dropped unportable result updates",
					zap.Uint64("run", r.id),
					zap.Int("dropped", dropped),
				)
			}
			b.post(CompletionMsg{RunID: r.id, Result: clean, Err: err})
		})
	}
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("resolver panicked", zap.Uint64("run", r.id), zap.Any("panic", rec))
			done(nil, fmt.Errorf("resolver panicked: %v", rec))
		}
	}()

	if reason := checkPreconditions(snap); reason != "" {
		b.post(PreconditionMsg{RunID: r.id, Reason: reason})
		return
	}

	renamed := TagAbilities(snap.Combatants)
	if err := ValidateAbilities(snap.Combatants); err != nil {
		b.logger.Warn("ability tagging left collisions", zap.Uint64("run", r.id), zap.Error(err))
	}
	state, ok := sanitizeState(snap)
	if !ok {
		b.logger.Warn("combat state not portable; sending stand-in", zap.Uint64("run", r.id))
	}
	b.logger.Debug("combat state assembled",
		zap.Uint64("run", r.id),
		zap.Int("combatants", len(state.Combatants)),
		zap.Int("abilities_renamed", renamed),
	)

	roller := b.roller.OnRoll(func(res dice.RollResult) {
		b.post(LogMsg{RunID: r.id, Entry: combatlog.Entry{
			Category: combatlog.CategoryDice,
			Result:   res.String(),
		}})
	})
	roll := func(expr string) int {
		if _, err := dice.Parse(expr); err != nil {
			b.post(LogMsg{RunID: r.id, Entry: combatlog.Entry{
				Category: combatlog.CategoryError,
				Action:   "Bad dice expression",
				Result:   expr,
			}})
			return 0
		}
		return roller.Total(expr)
	}
	onTurn := func(u map[string]any) {
		clean, portable := SanitizeOrStandIn(u)
		if !portable {
			b.logger.Warn("turn update not portable; using stand-in", zap.Uint64("run", r.id))
		}
		b.post(TurnUpdateMsg{RunID: r.id, Update: clean})
	}

	b.resolver.Resolve(r.ctx, state, roll, onTurn, done)
}

func checkPreconditions(st CombatState) string {
	if len(st.Combatants) == 0 {
		return "There are no combatants in the encounter."
	}
	var players, monsters int
	for _, c := range st.Combatants {
		if kind, _ := combat.ParseKind(fmt.Sprint(c["type"])); kind == combat.KindCharacter {
			players++
		} else {
			monsters++
		}
	}
	switch {
	case monsters == 0:
		return "There are no monsters in the encounter."
	case players == 0:
		return "There are no player characters in the encounter."
	}
	return ""
}

func (b *Bridge) post(msg Message) {
	if !b.poster.Post(msg) {
		b.logger.Warn("dropped bridge message", zap.String("message", fmt.Sprintf("%T", msg)))
	}
}

// Handle applies one message. Messages for a run that is not attached are
// ignored. A panic while handling is recovered and the control is forced back
// to ready.
func (b *Bridge) Handle(msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("bridge handler panicked",
				zap.String("message", fmt.Sprintf("%T", msg)),
				zap.Any("panic", rec),
			)
			if b.run != nil {
				b.run.released = true
			}
			b.controls.SetResolveEnabled(true)
		}
	}()

	r := b.run
	if r == nil || r.id != msg.runID() {
		b.logger.Debug("ignoring message for detached run",
			zap.String("message", fmt.Sprintf("%T", msg)),
			zap.Uint64("run", msg.runID()),
		)
		return
	}

	switch m := msg.(type) {
	case TurnUpdateMsg:
		r.updates++
		b.applyTurn(m.Update)
	case LogMsg:
		m.Entry.Round = b.enc.Cursor().Round
		b.log.Record(m.Entry)
	case CompletionMsg:
		b.complete(m)
	case PreconditionMsg:
		b.finish("precondition")
		b.controls.ShowError("Cannot resolve combat", m.Reason)
	case TimeoutMsg:
		b.timeout(r, m.Hard)
	}
}

func (b *Bridge) complete(m CompletionMsg) {
	if m.Err != nil {
		b.finish("error")
		b.log.Record(combatlog.Entry{
			Category: combatlog.CategoryError,
			Action:   "Resolution failed",
			Result:   m.Err.Error(),
			Round:    b.enc.Cursor().Round,
		})
		return
	}
	b.finish("completed")
	if m.Result == nil {
		b.log.Record(combatlog.Entry{
			Category: combatlog.CategoryResolver,
			Action:   "Resolution finished without a result",
			Round:    b.enc.Cursor().Round,
		})
		return
	}
	b.applyResult(m.Result)
}

func (b *Bridge) timeout(r *run, hard bool) {
	if hard {
		b.finish("timeout")
		b.log.Record(combatlog.Entry{
			Category: combatlog.CategorySystem,
			Action:   fmt.Sprintf("Resolver did not finish within %s; stopped waiting for it", b.cfg.HardTimeout),
			Round:    b.enc.Cursor().Round,
		})
		return
	}
	r.released = true
	b.controls.SetResolveEnabled(true)
	b.logger.Info("resolution soft timeout", zap.Uint64("run", r.id))
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategorySystem,
		Action:   fmt.Sprintf("Resolver still running after %s; a new resolution may be started", b.cfg.SoftTimeout),
		Round:    b.enc.Cursor().Round,
	})
}

// finish detaches the attached run, if any.
//
// Postcondition: the watchdog is stopped, the run context is cancelled,
// sorting is re-enabled and the control is ready. Calling finish with no run
// attached is a no-op.
func (b *Bridge) finish(outcome string) {
	r := b.run
	if r == nil {
		return
	}
	b.run = nil
	r.watchdog.Stop()
	r.cancel()
	b.enc.SetSortSuppressed(false)
	b.controls.SetResolveEnabled(true)

	elapsed := b.now().Sub(r.started)
	r.span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("turn_updates", r.updates),
	)
	if outcome != "completed" {
		r.span.SetStatus(codes.Error, outcome)
	}
	r.span.End()
	b.logger.Info("resolution finished",
		zap.Uint64("run", r.id),
		zap.String("outcome", outcome),
		zap.Int("turn_updates", r.updates),
		zap.Duration("elapsed", elapsed),
	)
}

// Cancel detaches the attached run without waiting for it.
func (b *Bridge) Cancel() {
	if b.run == nil {
		return
	}
	b.finish("cancelled")
	b.log.Record(combatlog.Entry{
		Category: combatlog.CategorySystem,
		Action:   "Resolution cancelled",
		Round:    b.enc.Cursor().Round,
	})
}
