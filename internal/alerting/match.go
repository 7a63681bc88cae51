package alerting

import (
	"fmt"
	"math"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// matchesFilters reports whether a context passes the filter set. Empty
// filter fields match everything.
func matchesFilters(filters models.AlertFilters, ctx models.AlertContext) bool {
	if len(filters.PipelineIDs) > 0 && !containsString(filters.PipelineIDs, ctx.PipelineID) {
		return false
	}
	if len(filters.Environments) > 0 && !containsString(filters.Environments, ctx.Environment) {
		return false
	}
	for key, want := range filters.Tags {
		if ctx.Tags[key] != want {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// signal is one potential alert derived from an analysis result, already
// reduced to the fields matching and alert creation need.
type signal struct {
	Type     models.AlertType
	Severity models.Severity
	Details  models.AlertDetails
}

// signalsFromResult extracts at most one signal per alert type from an
// analysis result. Sections that carry no finding produce no signal.
func signalsFromResult(result models.AnalysisResult) []signal {
	var signals []signal

	if top, ok := topAnomaly(result.Anomalies); ok {
		signals = append(signals, signal{
			Type:     models.AlertAnomaly,
			Severity: top.Severity,
			Details: models.AlertDetails{
				TriggerValue: top.ActualValue,
				Threshold:    top.ExpectedHigh,
				Metric:       result.Metric,
				PipelineID:   result.PipelineID,
				Message:      fmt.Sprintf("%s anomaly: %.2f outside [%.2f, %.2f]", top.Method, top.ActualValue, top.ExpectedLow, top.ExpectedHigh),
			},
		})
	}

	if result.Trend != nil && result.Trend.Trend != models.TrendStable {
		signals = append(signals, signal{
			Type:     models.AlertTrend,
			Severity: models.SeverityMedium,
			Details: models.AlertDetails{
				TriggerValue: result.Trend.ChangeRate,
				Metric:       result.Metric,
				PipelineID:   result.PipelineID,
				Message:      fmt.Sprintf("%s trend at %.2f%% per step", result.Trend.Trend, result.Trend.ChangeRate),
			},
		})
	}

	if result.SLA != nil && result.SLA.Violated {
		signals = append(signals, signal{
			Type:     models.AlertSLA,
			Severity: slaSeverity(result.SLA.Severity),
			Details: models.AlertDetails{
				TriggerValue: result.SLA.ActualValue,
				Threshold:    result.SLA.SLATarget,
				Metric:       result.Metric,
				PipelineID:   result.PipelineID,
				Message:      fmt.Sprintf("sla %s violation: %.2f vs target %.2f (%.1f%%)", result.SLA.Severity, result.SLA.ActualValue, result.SLA.SLATarget, result.SLA.ViolationPercent),
			},
		})
	}

	if result.Cost != nil {
		signals = append(signals, signal{
			Type:     models.AlertCost,
			Severity: models.SeverityMedium,
			Details: models.AlertDetails{
				TriggerValue: result.Cost.TotalCost,
				Metric:       result.Metric,
				PipelineID:   result.PipelineID,
				Message:      fmt.Sprintf("cost %.2f with efficiency score %.0f", result.Cost.TotalCost, result.Cost.Efficiency.Score),
			},
		})
	}

	return signals
}

func topAnomaly(anomalies []models.AnomalyResult) (models.AnomalyResult, bool) {
	if len(anomalies) == 0 {
		return models.AnomalyResult{}, false
	}
	top := anomalies[0]
	for _, a := range anomalies[1:] {
		if a.Severity.Rank() > top.Severity.Rank() {
			top = a
		}
	}
	return top, true
}

func slaSeverity(s models.SLASeverity) models.Severity {
	switch s {
	case models.SLACritical:
		return models.SeverityCritical
	case models.SLAMajor:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// thresholdsBreached reports whether a signal breaches the configuration's
// thresholds for its type. The result section is consulted for the
// type-specific gates.
func thresholdsBreached(cfg models.AlertConfiguration, sig signal, result models.AnalysisResult) bool {
	switch cfg.Type {
	case models.AlertAnomaly:
		min := cfg.Thresholds.MinSeverity
		if min == "" {
			min = models.SeverityLow
		}
		return sig.Severity.Rank() >= min.Rank()
	case models.AlertTrend:
		if result.Trend == nil {
			return false
		}
		if cfg.Thresholds.TrendDirection != "" && result.Trend.Trend != cfg.Thresholds.TrendDirection {
			return false
		}
		return math.Abs(result.Trend.ChangeRate) >= cfg.Thresholds.MinChangeRate
	case models.AlertSLA:
		return result.SLA != nil && result.SLA.Violated
	case models.AlertCost:
		if result.Cost == nil {
			return false
		}
		if cfg.Thresholds.MinEfficiencyScore > 0 && result.Cost.Efficiency.Score < cfg.Thresholds.MinEfficiencyScore {
			return true
		}
		if cfg.Thresholds.MaxTotalCost > 0 && result.Cost.TotalCost > cfg.Thresholds.MaxTotalCost {
			return true
		}
		return false
	default:
		return false
	}
}
