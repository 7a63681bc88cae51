package engine

import (
	"context"
	"math"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/stats"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// AnalyzeTrend fits an ordinary least-squares regression of value against
// index and classifies the direction. Constant series yield a stable trend
// with zero volatility.
func (e *Engine) AnalyzeTrend(ctx context.Context, series models.Series) (models.TrendResult, error) {
	if len(series) < e.opts.MinTrendPoints {
		return models.TrendResult{}, utils.InsufficientData("engine.AnalyzeTrend", len(series), e.opts.MinTrendPoints)
	}

	return memoized(ctx, e, "trend", []any{series}, func() (models.TrendResult, error) {
		return e.analyzeTrend(series), nil
	})
}

func (e *Engine) analyzeTrend(series models.Series) models.TrendResult {
	values := series.Values()
	reg := stats.LinearRegression(values)

	mean := stats.Mean(values)
	epsilon := e.opts.StableSlopeEpsilon * math.Max(math.Abs(mean), 1e-9)

	direction := models.TrendStable
	if math.Abs(reg.Slope) >= epsilon {
		if reg.Slope > 0 {
			direction = models.TrendIncreasing
		} else {
			direction = models.TrendDecreasing
		}
	}

	volatility := reg.ResidualStdDev
	if stats.StdDev(values) == 0 {
		// Identical values: regression degenerates, trend is forced stable.
		direction = models.TrendStable
		volatility = 0
	}

	changeRate := 0.0
	if mean != 0 {
		changeRate = reg.Slope / math.Abs(mean) * 100
	}

	lastIndex := len(series) - 1
	step := medianStep(series)

	return models.TrendResult{
		Slope:       reg.Slope,
		Intercept:   reg.Intercept,
		Correlation: reg.Correlation,
		RSquared:    reg.RSquared,
		Trend:       direction,
		ChangeRate:  changeRate,
		Volatility:  volatility,
		Prediction: models.TrendPrediction{
			Next24h: reg.Forecast(lastIndex, horizonSteps(24*time.Hour, step)),
			Next7d:  reg.Forecast(lastIndex, horizonSteps(7*24*time.Hour, step)),
			Next30d: reg.Forecast(lastIndex, horizonSteps(30*24*time.Hour, step)),
		},
	}
}

// medianStep estimates the sampling interval of the series.
func medianStep(series models.Series) time.Duration {
	if len(series) < 2 {
		return 24 * time.Hour
	}
	gaps := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		gap := series[i].Timestamp.Sub(series[i-1].Timestamp)
		if gap > 0 {
			gaps = append(gaps, gap.Seconds())
		}
	}
	if len(gaps) == 0 {
		return 24 * time.Hour
	}
	return time.Duration(stats.Median(gaps) * float64(time.Second))
}

// horizonSteps converts a wall-clock horizon into regression index steps.
func horizonSteps(horizon, step time.Duration) int {
	if step <= 0 {
		step = 24 * time.Hour
	}
	steps := int(math.Round(float64(horizon) / float64(step)))
	if steps < 1 {
		steps = 1
	}
	return steps
}
