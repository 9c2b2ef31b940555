// Package auto resolves combat without outside help: every standing
// combatant attacks the weakest opponent until one side is out.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/resolver"
)

// Resolver is the dice-driven bridge.Resolver.
type Resolver struct {
	logger    *zap.Logger
	maxRounds int
}

// New creates a Resolver that plays at most maxRounds rounds.
//
// Precondition: logger must be non-nil; maxRounds < 1 is treated as 1.
func New(logger *zap.Logger, maxRounds int) *Resolver {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Resolver{logger: logger, maxRounds: maxRounds}
}

// Resolve implements bridge.Resolver. It runs to completion on the calling
// goroutine.
func (r *Resolver) Resolve(ctx context.Context, state bridge.CombatState, roll bridge.DiceRoller, onTurn bridge.TurnUpdateFunc, done bridge.CompletionFunc) {
	res, err := resolver.Run(ctx, state, roll, onTurn, r.maxRounds, resolver.Attacker)
	if err != nil {
		r.logger.Info("auto resolution stopped", zap.Error(err))
		done(nil, err)
		return
	}
	r.logger.Debug("auto resolution finished",
		zap.Int("rounds", res.Rounds),
		zap.Int("updates", len(res.Updates)),
	)
	done(res, nil)
}
