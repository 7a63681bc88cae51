package extractors

import (
	"context"
	"sort"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// RunSource supplies pipeline run records for a time window.
type RunSource interface {
	FetchRuns(ctx context.Context, pipelineID string, start, end time.Time) ([]models.PipelineRun, error)
}

// SeriesExtractor turns raw pipeline activity into a metric series the
// analytics engine can consume.
type SeriesExtractor interface {
	ExtractSeries(ctx context.Context, pipelineID, metric string, periodDays int) (models.Series, error)
}

// RunExtractor derives metric series from pipeline run records. Built-in
// metrics cover duration, success rate and resource usage; any other
// metric name is looked up in each run's custom metrics.
type RunExtractor struct {
	source RunSource
	now    func() time.Time
}

// NewRunExtractor creates an extractor over the given run source.
func NewRunExtractor(source RunSource) *RunExtractor {
	return &RunExtractor{source: source, now: time.Now}
}

// ExtractSeries fetches the pipeline's runs for the trailing period and
// maps them to the requested metric, oldest point first.
func (e *RunExtractor) ExtractSeries(ctx context.Context, pipelineID, metric string, periodDays int) (models.Series, error) {
	end := e.now()
	start := utils.WindowStart(end, periodDays)

	runs, err := e.source.FetchRuns(ctx, pipelineID, start, end)
	if err != nil {
		return nil, err
	}

	switch metric {
	case models.MetricDurationMinutes:
		return perRunSeries(runs, func(run models.PipelineRun) (float64, bool) {
			return run.DurationMinutes, true
		}), nil
	case models.MetricSuccessRate:
		return successRateSeries(runs), nil
	case models.MetricCPUPercent:
		return perRunSeries(runs, func(run models.PipelineRun) (float64, bool) {
			return run.Resources.CPU, true
		}), nil
	case models.MetricMemoryPercent:
		return perRunSeries(runs, func(run models.PipelineRun) (float64, bool) {
			return run.Resources.Memory, true
		}), nil
	default:
		return perRunSeries(runs, func(run models.PipelineRun) (float64, bool) {
			value, ok := run.CustomMetrics[metric]
			return value, ok
		}), nil
	}
}

func perRunSeries(runs []models.PipelineRun, value func(models.PipelineRun) (float64, bool)) models.Series {
	points := make([]models.DataPoint, 0, len(runs))
	for _, run := range runs {
		v, ok := value(run)
		if !ok {
			continue
		}
		points = append(points, models.DataPoint{
			Timestamp: runTimestamp(run),
			Value:     v,
			Metadata: map[string]string{
				"run_id": run.ID,
				"branch": run.Branch,
			},
		})
	}
	return models.NewSeries(points)
}

// successRateSeries buckets runs into UTC days and emits the percentage
// of succeeded runs per day. Cancelled runs do not count against the
// pipeline.
func successRateSeries(runs []models.PipelineRun) models.Series {
	type bucket struct {
		total     int
		succeeded int
	}
	buckets := make(map[time.Time]*bucket)
	for _, run := range runs {
		if run.Status == models.RunCancelled {
			continue
		}
		day := runTimestamp(run).UTC().Truncate(24 * time.Hour)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.total++
		if run.Status == models.RunSucceeded {
			b.succeeded++
		}
	}

	points := make([]models.DataPoint, 0, len(buckets))
	for day, b := range buckets {
		points = append(points, models.DataPoint{
			Timestamp: day,
			Value:     100 * float64(b.succeeded) / float64(b.total),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return models.Series(points)
}

func runTimestamp(run models.PipelineRun) time.Time {
	if !run.FinishedAt.IsZero() {
		return run.FinishedAt
	}
	return run.StartedAt
}
