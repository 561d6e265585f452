package platform

import (
	"math"
	"strings"
)

// Currencies whose minor unit is the major unit.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Currencies with three minor digits.
var threeDecimalCurrencies = map[string]bool{
	"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
}

// FromMinorUnits converts an amount in the currency's smallest unit to decimal.
func FromMinorUnits(amount int64, currency string) float64 {
	c := strings.ToLower(currency)
	switch {
	case zeroDecimalCurrencies[c]:
		return float64(amount)
	case threeDecimalCurrencies[c]:
		return float64(amount) / 1000
	default:
		return float64(amount) / 100
	}
}

// Round2 rounds to cents, removing float noise from summed report values.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
