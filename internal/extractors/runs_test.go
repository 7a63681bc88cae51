package extractors

import (
	"context"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

type fakeRunSource struct {
	runs      []models.PipelineRun
	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeRunSource) FetchRuns(_ context.Context, _ string, start, end time.Time) ([]models.PipelineRun, error) {
	f.lastStart, f.lastEnd = start, end
	return f.runs, nil
}

func run(id string, finished time.Time, status models.RunStatus, duration float64) models.PipelineRun {
	return models.PipelineRun{
		ID:              id,
		PipelineID:      "pipe-1",
		Branch:          "main",
		Status:          status,
		StartedAt:       finished.Add(-time.Duration(duration) * time.Minute),
		FinishedAt:      finished,
		DurationMinutes: duration,
		Resources:       models.ResourceUsage{CPU: 55, Memory: 40},
	}
}

func TestExtractDurationSeriesSorted(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	source := &fakeRunSource{runs: []models.PipelineRun{
		run("run-2", base.Add(2*time.Hour), models.RunSucceeded, 14),
		run("run-1", base, models.RunSucceeded, 12),
	}}
	e := NewRunExtractor(source)
	e.now = func() time.Time { return base.Add(24 * time.Hour) }

	series, err := e.ExtractSeries(context.Background(), "pipe-1", models.MetricDurationMinutes, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 points, got %d", len(series))
	}
	if series[0].Value != 12 || series[1].Value != 14 {
		t.Fatalf("series not sorted oldest first: %+v", series)
	}
	if series[0].Metadata["run_id"] != "run-1" || series[0].Metadata["branch"] != "main" {
		t.Fatalf("metadata missing: %+v", series[0].Metadata)
	}
	if got := e.now().Sub(source.lastStart); got != 7*24*time.Hour {
		t.Fatalf("window is %v, want 7 days", got)
	}
}

func TestExtractSuccessRateBucketsByDay(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	source := &fakeRunSource{runs: []models.PipelineRun{
		run("a", day1, models.RunSucceeded, 10),
		run("b", day1.Add(time.Hour), models.RunFailed, 10),
		run("c", day1.Add(2*time.Hour), models.RunCancelled, 1),
		run("d", day2, models.RunSucceeded, 10),
	}}
	e := NewRunExtractor(source)
	e.now = func() time.Time { return day2.Add(12 * time.Hour) }

	series, err := e.ExtractSeries(context.Background(), "pipe-1", models.MetricSuccessRate, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 daily buckets, got %d: %+v", len(series), series)
	}
	if series[0].Value != 50 {
		t.Fatalf("day one success rate = %v, want 50 (cancelled run excluded)", series[0].Value)
	}
	if series[1].Value != 100 {
		t.Fatalf("day two success rate = %v, want 100", series[1].Value)
	}
}

func TestExtractCustomMetricSkipsRunsWithoutIt(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	withMetric := run("a", base, models.RunSucceeded, 10)
	withMetric.CustomMetrics = map[string]float64{"cache_hit_rate": 0.84}
	source := &fakeRunSource{runs: []models.PipelineRun{
		withMetric,
		run("b", base.Add(time.Hour), models.RunSucceeded, 10),
	}}
	e := NewRunExtractor(source)
	e.now = func() time.Time { return base.Add(24 * time.Hour) }

	series, err := e.ExtractSeries(context.Background(), "pipe-1", "cache_hit_rate", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 1 || series[0].Value != 0.84 {
		t.Fatalf("unexpected custom metric series: %+v", series)
	}
}
