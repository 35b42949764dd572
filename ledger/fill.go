// Package ledger keeps per-account option and futures positions and the
// cost-basis arithmetic behind every fill.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrExerciseNotAllowed   = errors.New("exercise not allowed")
)

// Fill is the outcome of applying one signed fill to a position. Realized is
// in price points times quantity; callers scale it by the contract's
// multiplier or size.
type Fill struct {
	Qty      int64
	Cost     decimal.Decimal
	Closed   int64
	Opened   int64
	Realized decimal.Decimal
}

// Apply folds a fill of fillQty at price into a position of qty at cost.
//
// Same direction (or flat): quantities add and the cost becomes the
// quantity-weighted average. Opposite direction: the overlapping quantity is
// closed against the old cost and realized. Whatever exceeds the old
// position opens a new one at price. A position that ends flat has zero cost.
func Apply(qty int64, cost decimal.Decimal, fillQty int64, price decimal.Decimal) (Fill, error) {
	if fillQty == 0 {
		return Fill{}, fmt.Errorf("apply fill: %w", ErrInvalidQuantity)
	}
	if qty == 0 {
		cost = decimal.Zero
	}

	if qty == 0 || sameSign(qty, fillQty) {
		newQty := qty + fillQty
		num := cost.Mul(decimal.NewFromInt(qty)).Add(price.Mul(decimal.NewFromInt(fillQty)))
		return Fill{
			Qty:      newQty,
			Cost:     num.Div(decimal.NewFromInt(newQty)),
			Opened:   abs(fillQty),
			Realized: decimal.Zero,
		}, nil
	}

	closed := min(abs(qty), abs(fillQty))
	realized := price.Sub(cost).Mul(decimal.NewFromInt(closed * sign(qty)))
	newQty := qty + fillQty

	f := Fill{Qty: newQty, Closed: closed, Realized: realized}
	switch {
	case newQty == 0:
		f.Cost = decimal.Zero
	case sameSign(newQty, qty):
		f.Cost = cost
	default:
		f.Cost = price
		f.Opened = abs(newQty)
	}
	return f, nil
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func sign(x int64) int64 {
	if x < 0 {
		return -1
	}
	return 1
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
