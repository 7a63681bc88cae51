package engine

import (
	"context"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/stats"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// Categories where a smaller metric value is the better outcome.
var lowerIsBetterCategories = map[string]bool{
	"duration": true,
	"cost":     true,
	"latency":  true,
}

// GenerateBenchmark ranks a current value against its history. The benchmark
// is the arithmetic mean; the percentile is the inclusive rank of the current
// value (ties counted).
func (e *Engine) GenerateBenchmark(ctx context.Context, currentValue float64, history []float64, category string) (models.BenchmarkResult, error) {
	if len(history) < e.opts.MinBenchmarkHistory {
		return models.BenchmarkResult{}, utils.InsufficientData("engine.GenerateBenchmark", len(history), e.opts.MinBenchmarkHistory)
	}

	return memoized(ctx, e, "benchmark", []any{currentValue, history, category}, func() (models.BenchmarkResult, error) {
		benchmark := stats.Mean(history)
		percentile := stats.PercentileRank(currentValue, history)
		min, max := stats.MinMax(history)

		best, worst := max, min
		if lowerIsBetterCategories[category] {
			best, worst = min, max
		}

		deviation := 0.0
		if benchmark != 0 {
			deviation = (currentValue - benchmark) / benchmark * 100
		}

		return models.BenchmarkResult{
			CurrentValue: currentValue,
			Benchmark:    benchmark,
			Percentile:   percentile,
			Performance:  performanceBand(percentile),
			HistoricalContext: models.HistoricalContext{
				Best:   best,
				Worst:  worst,
				Median: stats.Median(history),
			},
			DeviationPercent: deviation,
		}, nil
	})
}

// performanceBand is the monotonic percentile-to-label mapping.
func performanceBand(percentile float64) models.PerformanceBand {
	switch {
	case percentile >= 90:
		return models.PerformanceExcellent
	case percentile >= 70:
		return models.PerformanceGood
	case percentile >= 40:
		return models.PerformanceAverage
	case percentile >= 20:
		return models.PerformanceBelowAverage
	default:
		return models.PerformancePoor
	}
}
