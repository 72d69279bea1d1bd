package validate

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Bounds on parsed numbers. Rounding a decimal rescales its coefficient,
// so an unbounded exponent turns one field into an arbitrarily large
// big.Int.
const (
	maxExponent = 18
	maxDigits   = 38
)

// Number parses a feed number. A comma is read as the decimal separator.
// When both separators appear, the rightmost one is the decimal separator
// and the other is a thousands separator. Empty input, and numbers whose
// exponent or digit count is beyond any catalog column, yield ok == false.
func Number(raw string) (decimal.Decimal, bool) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '_':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		return decimal.Decimal{}, false
	}

	comma := strings.LastIndexByte(s, ',')
	dot := strings.LastIndexByte(s, '.')

	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent || d.NumDigits() > maxDigits {
		return decimal.Decimal{}, false
	}
	return d, true
}

// FitsNumeric reports whether d, rounded to scale places, fits a
// numeric(precision, scale) column.
func FitsNumeric(d decimal.Decimal, precision, scale int32) bool {
	return d.Round(scale).Abs().LessThan(decimal.New(1, precision-scale))
}

// IntIn returns d truncated to an integer when the result lies in
// [lo, hi].
func IntIn(d decimal.Decimal, lo, hi int64) (int64, bool) {
	i := d.Truncate(0)
	if i.LessThan(decimal.NewFromInt(lo)) || i.GreaterThan(decimal.NewFromInt(hi)) {
		return 0, false
	}
	return i.IntPart(), true
}

// NullNumber is Number wrapped as a decimal.NullDecimal.
func NullNumber(raw string) decimal.NullDecimal {
	d, ok := Number(raw)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}
