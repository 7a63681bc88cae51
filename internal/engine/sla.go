package engine

import (
	"context"
	"math"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// MonitorSLA checks a current value against its target. The breach direction
// is always explicit: nothing is inferred from the violation type or metric
// name. History is used only to contextualise persistent breaches.
func (e *Engine) MonitorSLA(ctx context.Context, currentValue, target float64, direction models.SLADirection, history []float64, violationType string) (models.SLAResult, error) {
	if direction != models.LowerIsViolation && direction != models.HigherIsViolation {
		return models.SLAResult{}, utils.NewAppError("engine.MonitorSLA", "sla direction must be stated explicitly", utils.ErrConfigurationInvalid)
	}

	return memoized(ctx, e, "sla", []any{currentValue, target, direction, history, violationType}, func() (models.SLAResult, error) {
		violated := breaches(currentValue, target, direction)
		result := models.SLAResult{
			Violated:    violated,
			SLATarget:   target,
			ActualValue: currentValue,
		}
		if !violated {
			return result, nil
		}

		result.ViolationPercent = breachPercent(currentValue, target)
		result.Severity = e.slaSeverity(result.ViolationPercent)
		result.Remediation = e.remediation.Lookup(violationType, result.Severity)

		if persistentBreach(target, direction, history) {
			result.Remediation.LongTermActions = append(result.Remediation.LongTermActions,
				"Breach is persistent across the history window; treat as capacity or target mismatch rather than a transient")
		}

		return result, nil
	})
}

func breaches(value, target float64, direction models.SLADirection) bool {
	if direction == models.LowerIsViolation {
		return value < target
	}
	return value > target
}

func breachPercent(value, target float64) float64 {
	denom := math.Abs(target)
	if denom == 0 {
		denom = 1
	}
	return math.Abs(value-target) / denom * 100
}

// slaSeverity grades the breach magnitude; cut points are policy.
func (e *Engine) slaSeverity(violationPercent float64) models.SLASeverity {
	switch {
	case violationPercent < e.opts.SLAMinorPercent:
		return models.SLAMinor
	case violationPercent < e.opts.SLAMajorPercent:
		return models.SLAMajor
	default:
		return models.SLACritical
	}
}

// persistentBreach reports whether more than half of the history also
// breached the target.
func persistentBreach(target float64, direction models.SLADirection, history []float64) bool {
	if len(history) == 0 {
		return false
	}
	breaching := 0
	for _, v := range history {
		if breaches(v, target, direction) {
			breaching++
		}
	}
	return breaching*2 > len(history)
}
