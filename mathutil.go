package cellpy

import (
	"math"
)

// PctChange returns the change from x0 to x1 in percent,
// (x1-x0)*100/x0. A zero baseline cannot be divided by: the plain
// difference x1-x0 is returned instead, unless defaultZero is set and
// that difference is non-zero, in which case the result is 0. The
// asymmetry is deliberate; threshold comparisons against near-zero
// baselines depend on it.
func PctChange(x0, x1 float64, defaultZero bool) float64 {
	if x0 == 0 {
		diff := x1 - x0
		if diff != 0 && defaultZero {
			return 0
		}
		return diff
	}
	return (x1 - x0) * 100 / x0
}

// ToMAhG converts a capacity in Ah to mAh per gram of active
// material. massMg is the mass in milligrams.
func ToMAhG(capacityAh, massMg float64) float64 {
	return capacityAh * 1e6 / massMg
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddevOf is the population standard deviation around mean.
func stddevOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func minMaxOf(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
