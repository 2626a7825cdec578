package exchange

import (
	"math"
	"strconv"
	"strings"
)

// RoundTo5SigFigs rounds val to 5 significant figures. The decimal count
// implied by that precision is clamped to [0, 10] before rounding, so a
// price near zero never demands more than 10 fractional digits.
func RoundTo5SigFigs(val float64) float64 {
	if val == 0 {
		return 0
	}
	d := 5 - 1 - int(math.Floor(math.Log10(math.Abs(val))))
	if d < 0 {
		d = 0
	}
	if d > 10 {
		d = 10
	}
	factor := math.Pow(10, float64(d))
	return math.Round(val*factor) / factor
}

// RoundDecimals rounds val to the given number of decimal places.
func RoundDecimals(val float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(val*factor) / factor
}

// FloatToWire formats val fixed to 8 decimals, then strips trailing
// zeros and a trailing dot, matching the venue's wire string format.
func FloatToWire(val float64) string {
	rounded := strconv.FormatFloat(val, 'f', 8, 64)
	if !strings.Contains(rounded, ".") {
		return rounded
	}
	trimmed := strings.TrimRight(rounded, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-" {
		return "0"
	}
	return trimmed
}
