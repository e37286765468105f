package ledger

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = money.USD

// FormatAmount renders a decimal with exactly two decimal places ("100.50").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatMoney renders an amount in the currency's display format ("$1,234.50").
// Amounts are rounded half away from zero to the currency's minor unit.
func FormatMoney(d decimal.Decimal, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	// money.New never returns a nil currency, unlike money.GetCurrency.
	cur := *money.New(0, currency).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	if minor.BigInt().IsInt64() {
		return cur.Formatter().Format(minor.IntPart())
	}
	return formatWide(cur.Formatter(), minor)
}

// formatWide applies the formatter's layout to a minor-unit amount that does
// not fit in an int64.
func formatWide(f *money.Formatter, minor decimal.Decimal) string {
	sa := minor.Abs().BigInt().String()
	if len(sa) <= f.Fraction {
		sa = strings.Repeat("0", f.Fraction-len(sa)+1) + sa
	}
	if f.Thousand != "" {
		for i := len(sa) - f.Fraction - 3; i > 0; i -= 3 {
			sa = sa[:i] + f.Thousand + sa[i:]
		}
	}
	if f.Fraction > 0 {
		sa = sa[:len(sa)-f.Fraction] + f.Decimal + sa[len(sa)-f.Fraction:]
	}
	sa = strings.Replace(f.Template, "1", sa, 1)
	sa = strings.Replace(sa, "$", f.Grapheme, 1)
	if minor.IsNegative() {
		sa = "-" + sa
	}
	return sa
}

// ROIStatement is the one-line summary shown next to an accrual.
func ROIStatement(a Accrual, currency string) string {
	return "Accrued ROI: " + FormatMoney(a.Gain, currency)
}
