package model

import (
	"math"
	"math/rand"
	"testing"
)

func TestAmountToInt(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  int64
	}{
		{"two decimals", 19.99, 1999},
		{"whole number", 100, 10000},
		{"zero", 0, 0},
		{"rounds up third decimal", 0.125, 13},
		{"rounds down third decimal", 0.124, 12},
		{"binary representation edge", 1.005 * 2, 201},
		{"large value", 1234567.89, 123456789},
		{"negative", -10.5, -1050},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountToInt(tt.input)
			if got != tt.want {
				t.Errorf("AmountToInt(%v) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestAmountToInt_MatchesRoundedHundredths(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		x := r.Float64() * 10000
		if r.Intn(2) == 0 {
			x = -x
		}
		got := AmountToInt(x)
		want := math.Round(x * 100)
		if float64(got) != want {
			t.Fatalf("AmountToInt(%v) = %d, want %v", x, got, want)
		}
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"whole number", "99.00", 9900},
		{"with cents", "123.45", 12345},
		{"zero", "0.00", 0},
		{"empty string", "", 0},
		{"large value", "1234567.89", 123456789},
		{"no decimals", "100", 10000},
		{"one decimal", "99.9", 9990},
		{"small value", "0.01", 1},
		{"invalid string", "abc", 0},
		{"negative (unusual)", "-10.00", -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCents(tt.input)
			if got != tt.want {
				t.Errorf("ParseCents(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
