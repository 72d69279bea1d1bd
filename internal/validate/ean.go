// Package validate holds the stateless field validators applied to feed
// values: EAN checksums, URL normalization, locale-tolerant numbers and
// multi-shape text fields.
package validate

import "strings"

// EANResult is the outcome of EAN validation.
type EANResult struct {
	Valid      bool
	Normalized string // digits only
}

// validEANLengths are the GTIN lengths accepted from feeds.
var validEANLengths = map[int]bool{8: true, 12: true, 13: true, 14: true}

// EAN strips non-digits from raw and checks the length. EAN-13 codes must
// also carry a correct GS1 check digit.
func EAN(raw string) EANResult {
	digits := digitsOnly(raw)
	res := EANResult{Normalized: digits}

	if !validEANLengths[len(digits)] {
		return res
	}
	if len(digits) == 13 && checkDigit(digits[:12]) != digits[12]-'0' {
		return res
	}

	res.Valid = true
	return res
}

// checkDigit computes the GS1 mod-10 check digit of an EAN-13 body:
// weights alternate 1, 3 starting from the leftmost digit.
func checkDigit(body string) byte {
	sum := 0
	for i := 0; i < len(body); i++ {
		d := int(body[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte((10 - sum%10) % 10)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
