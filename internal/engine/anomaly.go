package engine

import (
	"context"
	"math"
	"sort"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/stats"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// DetectAnomalies flags statistically inconsistent points in the series using
// the requested method. Series shorter than the configured minimum fail with
// ErrInsufficientData rather than returning a silently empty result.
func (e *Engine) DetectAnomalies(ctx context.Context, series models.Series, params models.AnomalyParams) ([]models.AnomalyResult, error) {
	if len(series) < e.opts.MinAnomalyPoints {
		return nil, utils.InsufficientData("engine.DetectAnomalies", len(series), e.opts.MinAnomalyPoints)
	}

	method := params.Method
	if method == "" {
		method = models.MethodZScore
	}

	return memoized(ctx, e, "anomaly", []any{series, params}, func() ([]models.AnomalyResult, error) {
		switch method {
		case models.MethodZScore:
			return e.detectZScore(series, params.ZScoreThreshold), nil
		case models.MethodPercentile:
			return e.detectPercentile(series, params.LowPercentile, params.HighPercentile), nil
		case models.MethodIQR:
			return e.detectIQR(series), nil
		case models.MethodAll:
			return e.detectAll(series, params), nil
		default:
			return nil, utils.NewAppError("engine.DetectAnomalies", "unknown method "+string(method), utils.ErrConfigurationInvalid)
		}
	})
}

func (e *Engine) detectZScore(series models.Series, threshold float64) []models.AnomalyResult {
	if threshold <= 0 {
		threshold = e.opts.ZScoreThreshold
	}

	values := series.Values()
	if stats.StdDev(values) == 0 {
		// Identical values carry no statistical signal.
		return nil
	}

	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))

	anomalies := make([]models.AnomalyResult, 0)
	for _, point := range series {
		// Each point is scored against a baseline that excludes it; a single
		// extreme value would otherwise inflate the deviation enough to mask
		// itself.
		mean, stdDev := leaveOneOutBaseline(sum, sumSq, n, point.Value)
		var z float64
		switch {
		case stdDev == 0 && point.Value == mean:
			continue
		case stdDev == 0:
			z = math.Inf(1)
		default:
			z = math.Abs(point.Value-mean) / stdDev
		}
		if z <= threshold {
			continue
		}
		anomalies = append(anomalies, models.AnomalyResult{
			Timestamp:     point.Timestamp,
			ActualValue:   point.Value,
			ExpectedValue: mean,
			ExpectedLow:   mean - threshold*stdDev,
			ExpectedHigh:  mean + threshold*stdDev,
			Method:        models.MethodZScore,
			Severity:      zScoreSeverity(z),
			Confidence:    stats.Clamp(z/6, 0, 1),
		})
	}
	return anomalies
}

// leaveOneOutBaseline returns the mean and sample standard deviation of the
// series with the given value removed, derived from the precomputed sums.
func leaveOneOutBaseline(sum, sumSq, n, value float64) (float64, float64) {
	rest := n - 1
	mean := (sum - value) / rest
	if rest < 2 {
		return mean, 0
	}
	variance := (sumSq - value*value - rest*mean*mean) / (rest - 1)
	if variance < 0 {
		// Floating-point cancellation on near-constant series.
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// zScoreSeverity maps absolute z-scores to fixed severity bands.
func zScoreSeverity(z float64) models.Severity {
	switch {
	case z >= 5:
		return models.SeverityCritical
	case z >= 4:
		return models.SeverityHigh
	case z >= 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (e *Engine) detectPercentile(series models.Series, lowPct, highPct float64) []models.AnomalyResult {
	if lowPct <= 0 {
		lowPct = e.opts.LowPercentile
	}
	if highPct <= 0 {
		highPct = e.opts.HighPercentile
	}

	values := series.Values()
	lowBound := stats.Quantile(values, lowPct/100)
	highBound := stats.Quantile(values, highPct/100)
	mean := stats.Mean(values)

	anomalies := make([]models.AnomalyResult, 0)
	for _, point := range series {
		if point.Value >= lowBound && point.Value <= highBound {
			continue
		}
		rank := stats.PercentileRank(point.Value, values)
		anomalies = append(anomalies, models.AnomalyResult{
			Timestamp:     point.Timestamp,
			ActualValue:   point.Value,
			ExpectedValue: mean,
			ExpectedLow:   lowBound,
			ExpectedHigh:  highBound,
			Method:        models.MethodPercentile,
			Severity:      percentileSeverity(rank),
			Confidence:    percentileConfidence(rank, lowPct, highPct),
		})
	}
	return anomalies
}

func percentileSeverity(rank float64) models.Severity {
	if rank <= 1 || rank >= 99 {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func percentileConfidence(rank, lowPct, highPct float64) float64 {
	if rank < lowPct && lowPct > 0 {
		return stats.Clamp((lowPct-rank)/lowPct, 0, 1)
	}
	if rank > highPct && highPct < 100 {
		return stats.Clamp((rank-highPct)/(100-highPct), 0, 1)
	}
	return 0.5
}

func (e *Engine) detectIQR(series models.Series) []models.AnomalyResult {
	values := series.Values()
	lowFence, highFence := stats.IQRFences(values)
	iqr := (highFence - lowFence) / 4 // fences span Q1-1.5*IQR..Q3+1.5*IQR = 4*IQR
	mean := stats.Mean(values)

	anomalies := make([]models.AnomalyResult, 0)
	for _, point := range series {
		if point.Value >= lowFence && point.Value <= highFence {
			continue
		}
		distance := 0.0
		if point.Value < lowFence {
			distance = lowFence - point.Value
		} else {
			distance = point.Value - highFence
		}
		anomalies = append(anomalies, models.AnomalyResult{
			Timestamp:     point.Timestamp,
			ActualValue:   point.Value,
			ExpectedValue: mean,
			ExpectedLow:   lowFence,
			ExpectedHigh:  highFence,
			Method:        models.MethodIQR,
			Severity:      iqrSeverity(distance, iqr),
			Confidence:    iqrConfidence(distance, iqr),
		})
	}
	return anomalies
}

func iqrSeverity(distance, iqr float64) models.Severity {
	if iqr <= 0 {
		return models.SeverityHigh
	}
	switch {
	case distance >= 2*iqr:
		return models.SeverityHigh
	case distance >= iqr:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func iqrConfidence(distance, iqr float64) float64 {
	if iqr <= 0 {
		return 1
	}
	return stats.Clamp(distance/(3*iqr), 0, 1)
}

// detectAll unions the three methods, deduplicated by timestamp. The kept
// record is the highest severity; on equal severity the higher confidence wins.
func (e *Engine) detectAll(series models.Series, params models.AnomalyParams) []models.AnomalyResult {
	combined := e.detectZScore(series, params.ZScoreThreshold)
	combined = append(combined, e.detectPercentile(series, params.LowPercentile, params.HighPercentile)...)
	combined = append(combined, e.detectIQR(series)...)

	byTimestamp := make(map[int64]models.AnomalyResult, len(combined))
	for _, anomaly := range combined {
		key := anomaly.Timestamp.UnixNano()
		existing, ok := byTimestamp[key]
		if !ok {
			byTimestamp[key] = anomaly
			continue
		}
		if anomaly.Severity.Rank() > existing.Severity.Rank() ||
			(anomaly.Severity.Rank() == existing.Severity.Rank() && anomaly.Confidence > existing.Confidence) {
			byTimestamp[key] = anomaly
		}
	}

	result := make([]models.AnomalyResult, 0, len(byTimestamp))
	for _, anomaly := range byTimestamp {
		result = append(result, anomaly)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}
