package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Band applies Margin percent to prices in [Lower, Upper). A nil Upper is unbounded.
type Band struct {
	Lower  decimal.Decimal  `json:"lower"`
	Upper  *decimal.Decimal `json:"upper,omitempty"`
	Margin decimal.Decimal  `json:"margin"`
}

// Contains reports whether price falls inside the band.
func (b Band) Contains(price decimal.Decimal) bool {
	if price.LessThan(b.Lower) {
		return false
	}
	return b.Upper == nil || price.LessThan(*b.Upper)
}

// MarginSchedule is the ordered list of margin bands covering [0, ∞).
type MarginSchedule []Band

// ParseMarginBands builds a contiguous schedule from "lower:margin" pairs,
// e.g. "0:12,50:9,100:7". Each band ends where the next one starts.
func ParseMarginBands(spec string) (MarginSchedule, error) {
	var bands MarginSchedule
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("margin band %q: expected lower:margin", part)}
		}
		lower, err := decimal.NewFromString(strings.TrimSpace(pieces[0]))
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("margin band %q: bad lower bound", part)}
		}
		margin, err := decimal.NewFromString(strings.TrimSpace(pieces[1]))
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("margin band %q: bad margin", part)}
		}
		if n := len(bands); n > 0 {
			upper := lower
			bands[n-1].Upper = &upper
		}
		bands = append(bands, Band{Lower: lower, Margin: margin})
	}
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	return bands, nil
}

// Validate checks that bands start at zero, are strictly increasing,
// contiguous, end unbounded and carry non-negative margins.
func (s MarginSchedule) Validate() error {
	if len(s) == 0 {
		return &ConfigurationError{Reason: "margin schedule is empty"}
	}
	if !s[0].Lower.IsZero() {
		return &ConfigurationError{Reason: "margin schedule must start at 0"}
	}
	for i, b := range s {
		if b.Margin.IsNegative() {
			return &ConfigurationError{Reason: fmt.Sprintf("band %d has negative margin", i)}
		}
		last := i == len(s)-1
		if last {
			if b.Upper != nil {
				return &ConfigurationError{Reason: "last margin band must be unbounded"}
			}
			continue
		}
		if b.Upper == nil {
			return &ConfigurationError{Reason: fmt.Sprintf("band %d is unbounded but not last", i)}
		}
		if !b.Upper.GreaterThan(b.Lower) {
			return &ConfigurationError{Reason: fmt.Sprintf("band %d upper bound must exceed lower bound", i)}
		}
		if !b.Upper.Equal(s[i+1].Lower) {
			return &ConfigurationError{Reason: fmt.Sprintf("bands %d and %d are not contiguous", i, i+1)}
		}
	}
	return nil
}

// Match returns the single band containing price. Zero or multiple matches
// are configuration errors.
func (s MarginSchedule) Match(price decimal.Decimal) (Band, error) {
	var (
		found   Band
		matches int
	)
	for _, b := range s {
		if b.Contains(price) {
			found = b
			matches++
		}
	}
	switch matches {
	case 1:
		return found, nil
	case 0:
		return Band{}, &ConfigurationError{Reason: "no margin band matches", Price: price}
	default:
		return Band{}, &ConfigurationError{Reason: fmt.Sprintf("%d margin bands match", matches), Price: price}
	}
}
