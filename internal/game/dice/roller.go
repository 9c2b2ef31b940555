package dice

import "go.uber.org/zap"

// Roll evaluates expr with src.
//
// Precondition: expr must come from Parse; src must be non-nil.
// Postcondition: len(result.Dice) == expr.Count.
func Roll(expr Expression, src Source) RollResult {
	rolled := make([]int, expr.Count)
	for i := range rolled {
		rolled[i] = src.Intn(expr.Sides) + 1
	}
	return RollResult{Expression: expr.Raw, Dice: rolled, Modifier: expr.Modifier}
}

// Roller rolls expressions, logs each roll at debug level and reports it to
// an optional observer.
type Roller struct {
	src    Source
	logger *zap.Logger
	onRoll func(RollResult)
}

// NewRoller creates a Roller.
//
// Precondition: src and logger must be non-nil.
func NewRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// OnRoll returns a copy of r that also calls fn after every successful roll.
// fn may be called from any goroutine.
func (r *Roller) OnRoll(fn func(RollResult)) *Roller {
	cp := *r
	cp.onRoll = fn
	return &cp
}

// RollExpr parses and rolls expr.
func (r *Roller) RollExpr(expr string) (RollResult, error) {
	e, err := Parse(expr)
	if err != nil {
		r.logger.Debug("dice expression rejected", zap.String("expression", expr), zap.Error(err))
		return RollResult{}, err
	}
	result := Roll(e, r.src)
	r.logger.Debug("dice roll",
		zap.String("expression", result.Expression),
		zap.Ints("dice", result.Dice),
		zap.Int("modifier", result.Modifier),
		zap.Int("total", result.Total()),
	)
	if r.onRoll != nil {
		r.onRoll(result)
	}
	return result, nil
}

// Total rolls expr and returns only the summed result; malformed expressions
// yield 0.
func (r *Roller) Total(expr string) int {
	result, err := r.RollExpr(expr)
	if err != nil {
		return 0
	}
	return result.Total()
}
