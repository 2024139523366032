package export

import (
	"strings"

	"github.com/shopspring/decimal"
)

var million = decimal.NewFromInt(1_000_000)

// FormatMillions renders an amount in millions with one decimal place using
// pt-BR separators: 176200000 becomes "176,2M" and 4785800000 "4.785,8M".
func FormatMillions(amount decimal.Decimal) string {
	if amount.IsZero() {
		return "0,0M"
	}
	return FormatDecimalBR(amount.Div(million), 1) + "M"
}

// FormatDecimalBR formats value with places decimals, "." grouping thousands
// and "," as the decimal mark.
func FormatDecimalBR(value decimal.Decimal, places int32) string {
	fixed := value.StringFixed(places)
	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if fracPart != "" {
		b.WriteByte(',')
		b.WriteString(fracPart)
	}
	return b.String()
}
