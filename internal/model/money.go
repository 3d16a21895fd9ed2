package model

import (
	"math"
	"strconv"
)

// AmountToInt converts a decimal amount in major currency units to integer
// minor units. Values with more than two decimals are rounded half away from zero.
// Examples: 19.99 → 1999, 0.125 → 13, -10 → -1000
func AmountToInt(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// ParseCents converts decimal string amounts (dollars) to cents (int64).
// WooCommerce REST v3 returns every money field in this format.
// Examples: "99.00" → 9900, "1234.56" → 123456, "" → 0
func ParseCents(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return AmountToInt(f)
}
