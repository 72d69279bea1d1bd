package validate

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"12.50", "12.5", true},
		{"12,50", "12.5", true},
		{" 7 ", "7", true},
		{"1 234,56", "1234.56", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"1,234,567", "1234567", true},
		{"1.234.567", "1234567", true},
		{"-3,5", "-3.5", true},
		{"", "", false},
		{"   ", "", false},
		{"abc", "", false},
		{"12,5,x", "", false},
		{"1.5e3", "1500", true},
		{"1e18", "1000000000000000000", true},
		{"1e19", "", false},
		{"1e50000000", "", false},
		{"1e-50000000", "", false},
		{"123456789012345678901234567890123456789", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Number(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestNullNumber(t *testing.T) {
	assert.False(t, NullNumber("").Valid)

	n := NullNumber("0,25")
	assert.True(t, n.Valid)
	assert.Equal(t, "0.25", n.Decimal.String())
}

func TestFitsNumeric(t *testing.T) {
	tests := []struct {
		value            string
		precision, scale int32
		want             bool
	}{
		{"9999999999.99", 12, 2, true},
		{"9999999999.994", 12, 2, true},
		{"9999999999.995", 12, 2, false},
		{"10000000000", 12, 2, false},
		{"-123456789012345", 12, 2, false},
		{"100", 5, 2, true},
		{"1000", 5, 2, false},
		{"0.0004", 12, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, FitsNumeric(decimal.RequireFromString(tt.value), tt.precision, tt.scale))
		})
	}
}

func TestIntIn(t *testing.T) {
	v, ok := IntIn(decimal.RequireFromString("42.9"), 0, math.MaxInt64)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	v, ok = IntIn(decimal.RequireFromString("9223372036854775807"), 0, math.MaxInt64)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), v)

	_, ok = IntIn(decimal.RequireFromString("10000000000000000000"), 0, math.MaxInt64)
	assert.False(t, ok, "past int64")

	_, ok = IntIn(decimal.RequireFromString("2147483648"), 1, math.MaxInt32)
	assert.False(t, ok, "past int32")

	_, ok = IntIn(decimal.RequireFromString("-1"), 0, 10)
	assert.False(t, ok)
}
