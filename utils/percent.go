package utils

import "math"

// Percent returns part/total as a percentage rounded to two decimals, or 0
// when total is 0.
func Percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
