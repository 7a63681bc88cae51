package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); !almostEqual(got, 5, 1e-9) {
		t.Fatalf("unexpected mean: %f", got)
	}
	// Sample stddev of this set is ~2.138.
	if got := StdDev(values); !almostEqual(got, 2.13809, 1e-4) {
		t.Fatalf("unexpected stddev: %f", got)
	}
	if Mean(nil) != 0 || StdDev([]float64{1}) != 0 {
		t.Fatalf("expected zero for degenerate inputs")
	}
}

func TestPercentileRankInclusive(t *testing.T) {
	history := []float64{1, 2, 3, 4, 5}
	if got := PercentileRank(3, history); !almostEqual(got, 60, 1e-9) {
		t.Fatalf("expected inclusive rank 60, got %f", got)
	}
	if got := PercentileRank(0, history); got != 0 {
		t.Fatalf("expected rank 0 below range, got %f", got)
	}
	if got := PercentileRank(10, history); got != 100 {
		t.Fatalf("expected rank 100 above range, got %f", got)
	}
}

func TestIQRFences(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	low, high := IQRFences(values)
	if low >= high {
		t.Fatalf("fences inverted: low=%f high=%f", low, high)
	}
	if low > 1 || high < 12 {
		t.Fatalf("fences should not flag a uniform ramp: low=%f high=%f", low, high)
	}
}

func TestLinearRegressionPerfectLine(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = 10 + 5*float64(i)
	}
	reg := LinearRegression(values)
	if !almostEqual(reg.Slope, 5, 1e-9) || !almostEqual(reg.Intercept, 10, 1e-9) {
		t.Fatalf("unexpected fit: slope=%f intercept=%f", reg.Slope, reg.Intercept)
	}
	if reg.Correlation < 0.99 || reg.RSquared < 0.99 {
		t.Fatalf("perfect line should correlate: corr=%f r2=%f", reg.Correlation, reg.RSquared)
	}
	if !almostEqual(reg.ResidualStdDev, 0, 1e-9) {
		t.Fatalf("perfect line should have no residual, got %f", reg.ResidualStdDev)
	}
	if got := reg.Forecast(9, 3); !almostEqual(got, 70, 1e-9) {
		t.Fatalf("unexpected forecast: %f", got)
	}
}

func TestLinearRegressionConstantSeries(t *testing.T) {
	values := []float64{7, 7, 7, 7, 7, 7}
	reg := LinearRegression(values)
	if !almostEqual(reg.Slope, 0, 1e-9) {
		t.Fatalf("constant series should be flat, slope=%f", reg.Slope)
	}
	if !almostEqual(reg.ResidualStdDev, 0, 1e-9) {
		t.Fatalf("constant series should have zero volatility, got %f", reg.ResidualStdDev)
	}
}

func TestQuantileAndMedian(t *testing.T) {
	values := []float64{9, 1, 5, 3, 7}
	if got := Median(values); !almostEqual(got, 5, 1e-9) {
		t.Fatalf("unexpected median: %f", got)
	}
	min, max := MinMax(values)
	if min != 1 || max != 9 {
		t.Fatalf("unexpected minmax: %f %f", min, max)
	}
}
