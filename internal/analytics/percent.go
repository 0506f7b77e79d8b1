package analytics

// Percent returns num/den as a percentage rounded half-up to two decimals.
// The rounding is done on integers so every report derives the same digits
// from the same counts. A zero denominator yields 0.
func Percent(num, den int) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	n, d := int64(num), int64(den)
	hundredths := (n*10000*2 + d) / (2 * d)
	return float64(hundredths) / 100
}
