package risk

import (
	"fmt"
	"math"
)

const (
	CodeNoQuantity    = "NO_QUANTITY"
	CodeOrderTooLarge = "ORDER_TOO_LARGE"
	CodePositionLimit = "POSITION_LIMIT"
	CodeNotionalLimit = "GROSS_NOTIONAL_LIMIT"
	CodeDeltaLimit    = "DELTA_LIMIT"
	CodeMarginTooHigh = "MARGIN_TOO_HIGH"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// First returns the first violation, if any.
func (d Decision) First() (Violation, bool) {
	if len(d.Violations) == 0 {
		return Violation{}, false
	}
	return d.Violations[0], true
}

func Evaluate(p Policy, intent OrderIntent, acct AccountSnapshot) Decision {
	d := Decision{Allowed: true}

	if intent.Quantity == 0 {
		d.add(CodeNoQuantity, "quantity must be non-zero")
		return d
	}

	qty := intent.Quantity
	if qty < 0 {
		qty = -qty
	}
	if p.MaxOrderQty > 0 && qty > p.MaxOrderQty {
		d.add(CodeOrderTooLarge, fmt.Sprintf("order quantity %d exceeds max %d", qty, p.MaxOrderQty))
	}

	after := intent.CurrentQty + intent.Quantity
	if after < 0 {
		after = -after
	}
	if p.MaxPositionQty > 0 && after > p.MaxPositionQty {
		d.add(CodePositionLimit,
			fmt.Sprintf("position in %s would be %d, max %d", intent.ContractID, after, p.MaxPositionQty))
	}

	if p.MaxGrossNotional.IsPositive() {
		gross := acct.GrossNotional.Add(intent.Notional.Abs())
		if gross.GreaterThan(p.MaxGrossNotional) {
			d.add(CodeNotionalLimit,
				fmt.Sprintf("gross notional %s exceeds max %s", gross.StringFixed(2), p.MaxGrossNotional.StringFixed(2)))
		}
	}

	if p.MaxAbsDelta > 0 {
		delta := acct.NetDelta + intent.Delta
		// reducing an existing breach is always allowed
		if math.Abs(delta) > p.MaxAbsDelta && math.Abs(delta) > math.Abs(acct.NetDelta) {
			d.add(CodeDeltaLimit, fmt.Sprintf("net delta %.2f exceeds max %.2f", delta, p.MaxAbsDelta))
		}
	}

	if p.MaxMarginPct > 0 && intent.MarginDelta.IsPositive() {
		pct := MarginPct(acct.MarginUsed.Add(intent.MarginDelta), acct.Equity)
		if pct > p.MaxMarginPct {
			d.add(CodeMarginTooHigh,
				fmt.Sprintf("margin used %.2f%% exceeds max %.2f%%", 100*pct, 100*p.MaxMarginPct))
		}
	}

	return d
}
