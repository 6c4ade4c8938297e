package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var hundred = decimal.NewFromInt(100)

// CurrencyScale reports the number of minor-unit digits for an ISO 4217 code.
func CurrencyScale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("unknown currency %q: %w", code, ErrInvalidInput)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// RoundMinor rounds amount half-up to the currency's minor unit.
func RoundMinor(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Round(scale), nil
}

// workingScale is the precision used between pricing steps. It always keeps
// at least four digits beyond the currency's minor unit.
func workingScale(scale int32) int32 {
	if s := scale + 4; s > 6 {
		return s
	}
	return 6
}

func clampPercent(pct, lo, hi decimal.Decimal) decimal.Decimal {
	if pct.LessThan(lo) {
		return lo
	}
	if pct.GreaterThan(hi) {
		return hi
	}
	return pct
}
