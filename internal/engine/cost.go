package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/stats"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// AnalyzeCosts prices a pipeline execution and scores resource efficiency.
// Missing or short historical cost data yields a nil CostTrend, not an error.
func (e *Engine) AnalyzeCosts(ctx context.Context, executionMinutes float64, usage models.ResourceUsage, historicalCost []float64) (models.CostAnalysisResult, error) {
	if executionMinutes < 0 {
		return models.CostAnalysisResult{}, utils.NewAppError("engine.AnalyzeCosts", "negative execution minutes", utils.ErrConfigurationInvalid)
	}

	return memoized(ctx, e, "cost", []any{executionMinutes, usage, historicalCost}, func() (models.CostAnalysisResult, error) {
		resourceCost := usage.CPU*e.opts.CPURate +
			usage.Memory*e.opts.MemoryRate +
			usage.Storage*e.opts.StorageRate +
			usage.Network*e.opts.NetworkRate

		totalCost := executionMinutes*e.opts.BaseRatePerMinute + resourceCost
		costPerMinute := 0.0
		if executionMinutes > 0 {
			costPerMinute = totalCost / executionMinutes
		}

		result := models.CostAnalysisResult{
			TotalCost:           totalCost,
			CostPerMinute:       costPerMinute,
			ResourceUtilization: usage,
			Efficiency:          models.CostEfficiency{Score: e.efficiencyScore(usage)},
			Opportunities:       e.opportunities(usage),
		}

		if len(historicalCost) >= e.opts.MinTrendPoints {
			trend := e.analyzeTrend(syntheticDailySeries(historicalCost))
			result.CostTrend = &trend
		}

		return result, nil
	})
}

// efficiencyScore rewards utilization inside the target band and penalizes
// both under- and over-utilization, averaged across resources.
func (e *Engine) efficiencyScore(usage models.ResourceUsage) float64 {
	resources := []float64{usage.CPU, usage.Memory, usage.Storage, usage.Network}
	total := 0.0
	for _, util := range resources {
		total += e.resourceScore(util)
	}
	return stats.Clamp(total/float64(len(resources)), 0, 100)
}

func (e *Engine) resourceScore(util float64) float64 {
	if util >= e.opts.UtilizationLow && util <= e.opts.UtilizationHigh {
		return 100
	}
	gap := 0.0
	if util < e.opts.UtilizationLow {
		gap = e.opts.UtilizationLow - util
	} else {
		gap = util - e.opts.UtilizationHigh
	}
	return stats.Clamp(100-2*gap, 0, 100)
}

// opportunities generates one optimization candidate per resource whose
// utilization falls outside the target band.
func (e *Engine) opportunities(usage models.ResourceUsage) []models.CostOpportunity {
	type resource struct {
		name string
		util float64
		rate float64
	}
	resources := []resource{
		{"cpu", usage.CPU, e.opts.CPURate},
		{"memory", usage.Memory, e.opts.MemoryRate},
		{"storage", usage.Storage, e.opts.StorageRate},
		{"network", usage.Network, e.opts.NetworkRate},
	}

	opportunities := make([]models.CostOpportunity, 0)
	for _, r := range resources {
		if r.util >= e.opts.UtilizationLow && r.util <= e.opts.UtilizationHigh {
			continue
		}

		var opp models.CostOpportunity
		if r.util < e.opts.UtilizationLow {
			gap := e.opts.UtilizationLow - r.util
			opp = models.CostOpportunity{
				Type:             "rightsizing",
				Description:      fmt.Sprintf("%s utilization %.0f%% is below the %.0f%% target band; allocation can shrink", r.name, r.util, e.opts.UtilizationLow),
				PotentialSavings: r.util * r.rate * gap / 100,
				Priority:         opportunityPriority(gap),
			}
		} else {
			gap := r.util - e.opts.UtilizationHigh
			opp = models.CostOpportunity{
				Type:             "saturation",
				Description:      fmt.Sprintf("%s utilization %.0f%% exceeds the %.0f%% target band; runs risk throttling and retries", r.name, r.util, e.opts.UtilizationHigh),
				PotentialSavings: r.util * r.rate * gap / 100,
				Priority:         opportunityPriority(gap),
			}
		}
		opportunities = append(opportunities, opp)
	}
	return opportunities
}

func opportunityPriority(gap float64) models.OpportunityPriority {
	switch {
	case gap >= 25:
		return models.PriorityHigh
	case gap >= 10:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// syntheticDailySeries spaces historical cost values one day apart so the
// trend fit sees a uniform sampling interval.
func syntheticDailySeries(values []float64) models.Series {
	base := time.Unix(0, 0).UTC()
	series := make(models.Series, len(values))
	for i, v := range values {
		series[i] = models.DataPoint{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour), Value: v}
	}
	return series
}
