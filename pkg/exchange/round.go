package exchange

import "github.com/shopspring/decimal"

// RoundSize truncates qty to szDecimals places; it never rounds up.
func RoundSize(qty float64, szDecimals int) float64 {
	if qty <= 0 {
		return 0
	}
	if szDecimals < 0 {
		szDecimals = 0
	}
	out, _ := decimal.NewFromFloat(qty).Truncate(int32(szDecimals)).Float64()
	return out
}

// FormatDecimal renders v without trailing zeros, as venues expect.
func FormatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}
