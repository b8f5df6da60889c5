// Package numeric holds the guarded arithmetic every detector and the
// aggregator share. Ratios anywhere in the engine go through SafeDiv.
package numeric

import "math"

// Epsilon is the smallest denominator magnitude SafeDiv will divide by.
// It is far below any meaningful pixel statistic on a 0-255 scale, so it
// only changes results for denominators that are effectively zero.
const Epsilon = 1e-6

// SafeDiv returns n/d with |d| clamped to at least Epsilon. The result is
// always finite; a NaN or infinite outcome collapses to 0.
func SafeDiv(n, d float64) float64 {
	if math.IsNaN(d) || math.IsNaN(n) {
		return 0
	}
	if math.Abs(d) < Epsilon {
		if d < 0 {
			d = -Epsilon
		} else {
			d = Epsilon
		}
	}
	return Finite(n / d)
}

// Finite maps NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Clamp01 clamps v into [0, 1]; non-finite input yields 0.
func Clamp01(v float64) float64 {
	v = Finite(v)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp clamps v into [lo, hi]; non-finite input yields lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
