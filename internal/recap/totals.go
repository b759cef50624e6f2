package recap

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// AmountColumn is the header of the column summed into subtotals.
const AmountColumn = "PENGIRIMAN"

// ErrAmountOverflow is returned for amounts that do not fit an int64.
var ErrAmountOverflow = errors.New("amount out of range")

// ParseIDR reads a rupiah amount by keeping only its digits, so "Rp 5.662.397"
// is 5662397. Text without digits is 0.
func ParseIDR(s string) (int64, error) {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			continue
		}
		d := int64(r - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, ErrAmountOverflow
		}
		n = n*10 + d
	}
	return n, nil
}

// addIDR adds b to a, reporting false when the sum would overflow.
func addIDR(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return a, false
	}
	return a + b, true
}

// FormatIDR formats n with dot thousands separators: 5662397 is "5.662.397".
func FormatIDR(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// RecalcTotals returns a copy of entries with every section's subtotal set to
// the sum of its AmountColumn, and a trailing grand total holding the sum over
// all sections. Sections without that column keep their subtotal and add
// nothing. Amounts that do not fit an int64 count as 0. An existing trailing grand total is updated in place; otherwise
// one is appended. Any earlier grand total entries are dropped.
func RecalcTotals(entries Entries) Entries {
	out := entries.Clone()

	var grand int64
	for _, sec := range out.Sections() {
		idx := sec.Column(AmountColumn)
		if idx < 0 {
			continue
		}
		var sub int64
		for _, row := range sec.Rows() {
			if idx >= len(row) {
				continue
			}
			v, err := ParseIDR(row[idx])
			if err == nil {
				var ok bool
				if sub, ok = addIDR(sub, v); !ok {
					err = ErrAmountOverflow
				}
			}
			if err != nil {
				slog.Warn("amount ignored in totals", "company", sec.Company, "value", row[idx], "error", err)
			}
		}
		sec.Subtotal = FormatIDR(sub)
		var ok bool
		if grand, ok = addIDR(grand, sub); !ok {
			slog.Warn("section subtotal ignored in grand total", "company", sec.Company, "subtotal", sec.Subtotal)
		}
	}

	total := FormatIDR(grand)
	if n := len(out); n > 0 {
		if g, ok := out[n-1].(*GrandTotal); ok {
			g.GrandTotal = total
			return append(out[:n-1].WithoutGrandTotal(), g)
		}
	}
	return append(out.WithoutGrandTotal(), &GrandTotal{GrandTotal: total})
}
