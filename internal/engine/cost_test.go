package engine

import (
	"context"
	"math"
	"testing"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

func TestAnalyzeCostsPricing(t *testing.T) {
	engine := newTestEngine(t)
	usage := models.ResourceUsage{CPU: 70, Memory: 75, Storage: 65, Network: 62}

	result, err := engine.AnalyzeCosts(context.Background(), 30, usage, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantCost := 30*0.008 + 70*0.012 + 75*0.006 + 65*0.002 + 62*0.004
	if math.Abs(result.TotalCost-wantCost) > 1e-9 {
		t.Fatalf("unexpected total cost: got %f want %f", result.TotalCost, wantCost)
	}
	if math.Abs(result.CostPerMinute-wantCost/30) > 1e-9 {
		t.Fatalf("unexpected cost per minute: %f", result.CostPerMinute)
	}
	if result.CostTrend != nil {
		t.Fatalf("no history must yield nil cost trend")
	}
}

func TestAnalyzeCostsEfficiencyInBand(t *testing.T) {
	engine := newTestEngine(t)
	usage := models.ResourceUsage{CPU: 70, Memory: 75, Storage: 65, Network: 80}

	result, err := engine.AnalyzeCosts(context.Background(), 10, usage, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Efficiency.Score != 100 {
		t.Fatalf("all resources in band should score 100, got %f", result.Efficiency.Score)
	}
	if len(result.Opportunities) != 0 {
		t.Fatalf("in-band usage should produce no opportunities: %+v", result.Opportunities)
	}
}

func TestAnalyzeCostsOpportunities(t *testing.T) {
	engine := newTestEngine(t)
	usage := models.ResourceUsage{CPU: 20, Memory: 70, Storage: 70, Network: 98}

	result, err := engine.AnalyzeCosts(context.Background(), 10, usage, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Opportunities) != 2 {
		t.Fatalf("expected cpu and network opportunities, got %+v", result.Opportunities)
	}

	var rightsizing, saturation *models.CostOpportunity
	for i := range result.Opportunities {
		switch result.Opportunities[i].Type {
		case "rightsizing":
			rightsizing = &result.Opportunities[i]
		case "saturation":
			saturation = &result.Opportunities[i]
		}
	}
	if rightsizing == nil || saturation == nil {
		t.Fatalf("expected one of each kind: %+v", result.Opportunities)
	}
	// CPU is 40 points under the band floor.
	if rightsizing.Priority != models.PriorityHigh {
		t.Fatalf("40-point gap should be high priority, got %s", rightsizing.Priority)
	}
	if rightsizing.PotentialSavings <= 0 {
		t.Fatalf("savings must be positive: %f", rightsizing.PotentialSavings)
	}
	// Network is 13 points over the band ceiling.
	if saturation.Priority != models.PriorityMedium {
		t.Fatalf("13-point gap should be medium priority, got %s", saturation.Priority)
	}
	if result.Efficiency.Score >= 100 {
		t.Fatalf("out-of-band usage must be penalized, got %f", result.Efficiency.Score)
	}
}

func TestAnalyzeCostsTrendFromHistory(t *testing.T) {
	engine := newTestEngine(t)
	usage := models.ResourceUsage{CPU: 70, Memory: 70, Storage: 70, Network: 70}
	history := []float64{10, 12, 14, 16, 18, 20}

	result, err := engine.AnalyzeCosts(context.Background(), 10, usage, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CostTrend == nil {
		t.Fatalf("history should produce a cost trend")
	}
	if result.CostTrend.Trend != models.TrendIncreasing {
		t.Fatalf("rising history should trend increasing, got %s", result.CostTrend.Trend)
	}
}

func TestAnalyzeCostsRejectsNegativeMinutes(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.AnalyzeCosts(context.Background(), -1, models.ResourceUsage{}, nil); err == nil {
		t.Fatalf("negative minutes must be rejected")
	}
}
