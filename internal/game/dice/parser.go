package dice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// exprPattern matches "NdM+K" with optional count and modifier.
var exprPattern = regexp.MustCompile(`^(\d*)d(\d+)(?:([+-])(\d+))?$`)

// maxDice bounds the number of dice in one expression.
const maxDice = 100

// Expression is a parsed dice expression.
type Expression struct {
	Raw      string
	Count    int
	Sides    int
	Modifier int
}

// Parse parses expressions of the form "d20", "2d6", "1d8+3" or "3d4-1".
// Whitespace is ignored and the count defaults to 1, the modifier to 0.
//
// Postcondition: on success Count in [1, maxDice] and Sides >= 2.
func Parse(expr string) (Expression, error) {
	compact := strings.ToLower(strings.Join(strings.Fields(expr), ""))
	if compact == "" {
		return Expression{}, fmt.Errorf("dice: empty expression")
	}
	m := exprPattern.FindStringSubmatch(compact)
	if m == nil {
		return Expression{}, fmt.Errorf("dice: malformed expression %q", expr)
	}

	count := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: %w", expr, err)
		}
		count = n
	}
	if count < 1 || count > maxDice {
		return Expression{}, fmt.Errorf("dice: die count in %q must be 1-%d", expr, maxDice)
	}

	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: %w", expr, err)
	}
	if sides < 2 {
		return Expression{}, fmt.Errorf("dice: die sides in %q must be >= 2", expr)
	}

	modifier := 0
	if m[4] != "" {
		modifier, err = strconv.Atoi(m[4])
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid modifier in %q: %w", expr, err)
		}
		if m[3] == "-" {
			modifier = -modifier
		}
	}

	return Expression{Raw: compact, Count: count, Sides: sides, Modifier: modifier}, nil
}
