package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Regression summarises an ordinary least-squares fit of value against index.
type Regression struct {
	Slope       float64
	Intercept   float64
	Correlation float64
	RSquared    float64
	// ResidualStdDev is the standard deviation of the fit residuals; zero for
	// a degenerate (constant) series.
	ResidualStdDev float64
}

// LinearRegression fits y = intercept + slope*i over the value indices.
func LinearRegression(values []float64) Regression {
	n := len(values)
	if n < 2 {
		return Regression{}
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	intercept, slope := stat.LinearRegression(xs, values, nil, false)

	reg := Regression{Slope: slope, Intercept: intercept}
	if math.IsNaN(slope) || math.IsNaN(intercept) {
		// Degenerate fit; report a flat line through the mean.
		mean := stat.Mean(values, nil)
		return Regression{Intercept: mean}
	}

	corr := stat.Correlation(xs, values, nil)
	if !math.IsNaN(corr) {
		reg.Correlation = corr
	}
	r2 := stat.RSquared(xs, values, nil, intercept, slope)
	if !math.IsNaN(r2) {
		reg.RSquared = r2
	}

	residuals := make([]float64, n)
	for i, v := range values {
		residuals[i] = v - (intercept + slope*float64(i))
	}
	reg.ResidualStdDev = StdDev(residuals)

	return reg
}

// Forecast extrapolates the fit at lastIndex + horizonSteps.
func (r Regression) Forecast(lastIndex, horizonSteps int) float64 {
	return r.Intercept + r.Slope*float64(lastIndex+horizonSteps)
}
