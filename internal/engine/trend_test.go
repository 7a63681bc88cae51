package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

func TestAnalyzeTrendLinearIncrease(t *testing.T) {
	engine := newTestEngine(t)
	values := make([]float64, 10)
	for i := range values {
		values[i] = 10 + 5*float64(i)
	}

	trend, err := engine.AnalyzeTrend(context.Background(), seriesFromValues(values))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trend.Trend != models.TrendIncreasing {
		t.Fatalf("expected increasing trend, got %s", trend.Trend)
	}
	if trend.Correlation <= 0.99 || trend.RSquared <= 0.99 {
		t.Fatalf("linear series should fit perfectly: corr=%f r2=%f", trend.Correlation, trend.RSquared)
	}
	if math.Abs(trend.Slope-5) > 1e-9 {
		t.Fatalf("unexpected slope: %f", trend.Slope)
	}
	// Hourly samples: next 24h is 24 steps past the last index.
	want := 10 + 5*float64(9+24)
	if math.Abs(trend.Prediction.Next24h-want) > 1e-6 {
		t.Fatalf("unexpected 24h forecast: got %f want %f", trend.Prediction.Next24h, want)
	}
}

func TestAnalyzeTrendConstantSeries(t *testing.T) {
	engine := newTestEngine(t)
	trend, err := engine.AnalyzeTrend(context.Background(), seriesFromValues([]float64{7, 7, 7, 7, 7, 7}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trend.Trend != models.TrendStable {
		t.Fatalf("constant series must be stable, got %s", trend.Trend)
	}
	if math.Abs(trend.Slope) > 1e-9 {
		t.Fatalf("constant series slope should be zero, got %f", trend.Slope)
	}
	if trend.Volatility != 0 {
		t.Fatalf("constant series volatility should be zero, got %f", trend.Volatility)
	}
}

func TestAnalyzeTrendDecreasing(t *testing.T) {
	engine := newTestEngine(t)
	trend, err := engine.AnalyzeTrend(context.Background(), seriesFromValues([]float64{100, 90, 80, 70, 60, 50}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trend.Trend != models.TrendDecreasing {
		t.Fatalf("expected decreasing trend, got %s", trend.Trend)
	}
	if trend.ChangeRate >= 0 {
		t.Fatalf("expected negative change rate, got %f", trend.ChangeRate)
	}
}

func TestAnalyzeTrendInsufficientData(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.AnalyzeTrend(context.Background(), seriesFromValues([]float64{1, 2}))
	if !errors.Is(err, utils.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAnalyzeTrendIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	series := seriesFromValues([]float64{3, 9, 4, 12, 8, 15, 7, 18})

	first, err := engine.AnalyzeTrend(context.Background(), series)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := engine.AnalyzeTrend(context.Background(), series)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Fatalf("identical inputs must produce identical results:\n%+v\n%+v", first, second)
	}
}
