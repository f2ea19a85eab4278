package processor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies Stripe bills in whole units. Amounts arrive in the smallest
// unit, which for these is the unit itself.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

var threeDecimal = map[string]bool{"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true}

// Amount converts a minor-unit amount in currency to a decimal in major units.
func Amount(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, minorExponent(currency))
}

func minorExponent(currency string) int32 {
	c := strings.ToLower(strings.TrimSpace(currency))
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return -3
	}
	return -2
}
