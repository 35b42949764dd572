package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatFillOrg renders a fill as an Org-mode heading with its facts in a
// PROPERTIES drawer, ready to paste into a trading journal.
func FormatFillOrg(f FillRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %+d (%s)\n", f.Kind, f.ContractID, f.Quantity, shortID(f.FillID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":FILL_ID: %s\n", f.FillID)
	fmt.Fprintf(&b, ":ACCOUNT: %s\n", f.Account)
	fmt.Fprintf(&b, ":CONTRACT: %s\n", f.ContractID)
	fmt.Fprintf(&b, ":KIND: %s\n", f.Kind)
	fmt.Fprintf(&b, ":QUANTITY: %d\n", f.Quantity)
	fmt.Fprintf(&b, ":PRICE: %s\n", f.Price.String())
	fmt.Fprintf(&b, ":CASH: %s\n", f.Cash.StringFixed(2))
	fmt.Fprintf(&b, ":REALIZED: %s\n", f.Realized.StringFixed(2))
	fmt.Fprintf(&b, ":TIME: %s\n", f.Time.UTC().Format(time.RFC3339))
	b.WriteString(":END:\n")
	return b.String()
}

// FormatFillsOrg renders multiple fills separated by blank lines.
func FormatFillsOrg(fills []FillRecord) string {
	var b strings.Builder
	for i, f := range fills {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatFillOrg(f))
	}
	return b.String()
}

// FormatCallsOrg renders margin call transitions as an Org table.
func FormatCallsOrg(calls []MarginCallRecord) string {
	var b strings.Builder
	b.WriteString("| Time | Account | Call | Status | Amount | Equity | Maintenance | Deadline |\n")
	b.WriteString("|------+---------+------+--------+--------+--------+-------------+----------|\n")
	for _, c := range calls {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			c.Time.UTC().Format(time.RFC3339),
			c.Account,
			shortID(c.CallID),
			c.Status,
			c.Amount.StringFixed(2),
			c.Equity.StringFixed(2),
			c.Maintenance.StringFixed(2),
			c.Deadline.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
