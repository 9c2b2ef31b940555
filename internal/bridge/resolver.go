package bridge

import (
	"context"
	"sync"
)

// CombatState is the snapshot handed to a resolver. Each combatant map holds
// name, initiative, hp, max_hp, ac, status, concentration, type and
// instance_id, plus the combatant's tagged stat-block payload.
type CombatState struct {
	Round            int
	CurrentTurnIndex int
	Combatants       []map[string]any
}

// Map returns the state in wire form.
func (s CombatState) Map() map[string]any {
	combatants := make([]any, 0, len(s.Combatants))
	for _, c := range s.Combatants {
		combatants = append(combatants, c)
	}
	return map[string]any{
		"round":              s.Round,
		"current_turn_index": s.CurrentTurnIndex,
		"combatants":         combatants,
	}
}

// DiceRoller rolls an NdM+K expression and returns the total. Each call is
// recorded in the combat log.
type DiceRoller func(expr string) int

// TurnUpdateFunc receives one turn snapshot:
// {round, current_turn_index, combatants, latest_action}.
type TurnUpdateFunc func(update map[string]any)

// CompletionFunc receives the terminal outcome. Exactly one of res and err is
// expected to be non-nil.
type CompletionFunc func(res *Result, err error)

// Result is the terminal outcome of a resolution.
type Result struct {
	Narrative string
	// Updates are {name or instance_id, hp?, status?} maps.
	Updates []map[string]any
	Log     []string
	Rounds  int
}

// Resolver decides and narrates combat turn by turn. Resolve may block; it
// may call onTurn any number of times and must call done exactly once, from
// any goroutine.
type Resolver interface {
	Resolve(ctx context.Context, state CombatState, roll DiceRoller, onTurn TurnUpdateFunc, done CompletionFunc)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, state CombatState, roll DiceRoller, onTurn TurnUpdateFunc, done CompletionFunc)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, state CombatState, roll DiceRoller, onTurn TurnUpdateFunc, done CompletionFunc) {
	f(ctx, state, roll, onTurn, done)
}

// NotifyingResolver is a resolver that publishes turn updates on its own
// channel instead of accepting a callback.
type NotifyingResolver interface {
	Resolve(ctx context.Context, state CombatState, roll DiceRoller, done CompletionFunc)
	TurnUpdates() <-chan map[string]any
}

// Adapt exposes a NotifyingResolver as a Resolver. Updates published before
// completion are forwarded, in order, before done is called.
func Adapt(n NotifyingResolver) Resolver {
	return notifyingAdapter{n: n}
}

type notifyingAdapter struct {
	n NotifyingResolver
}

func (a notifyingAdapter) Resolve(ctx context.Context, state CombatState, roll DiceRoller, onTurn TurnUpdateFunc, done CompletionFunc) {
	updates := a.n.TurnUpdates()
	stop := make(chan struct{})
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					return
				}
				onTurn(u)
			case <-stop:
				for {
					select {
					case u, ok := <-updates:
						if !ok {
							return
						}
						onTurn(u)
					default:
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	a.n.Resolve(ctx, state, roll, func(res *Result, err error) {
		once.Do(func() {
			close(stop)
			<-forwarded
			done(res, err)
		})
	})
}
