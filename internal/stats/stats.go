// Package stats provides the pure numeric helpers behind the analytics
// engine. All functions are side-effect free and operate on plain slices.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, or zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the sample standard deviation, or zero below two samples.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Median returns the middle value of the distribution.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// Quantile returns the empirical quantile q in [0,1].
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// MinMax returns the smallest and largest values.
func MinMax(values []float64) (min, max float64) {
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

// PercentileRank returns the inclusive percentile rank of value within
// history: the fraction of history values <= value, times 100. Ties count.
func PercentileRank(value float64, history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	atOrBelow := 0
	for _, h := range history {
		if h <= value {
			atOrBelow++
		}
	}
	return float64(atOrBelow) / float64(len(history)) * 100
}

// IQRFences returns the Tukey fences Q1-1.5*IQR and Q3+1.5*IQR.
func IQRFences(values []float64) (low, high float64) {
	q1 := Quantile(values, 0.25)
	q3 := Quantile(values, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// Clamp bounds value into [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// IsFiniteAll reports whether every value is a finite number.
func IsFiniteAll(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
