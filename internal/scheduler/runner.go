package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/engine"
	"github.com/pulsestack/pulse-analytics/internal/extractors"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// PipelineLister resolves the targets of a global job at firing time.
type PipelineLister interface {
	ListActivePipelines(ctx context.Context) ([]models.Pipeline, error)
}

// AnalysisSink receives every analysis result a firing produces. The
// alert engine implements this; evaluation failures are logged by the
// runner and never fail the firing.
type AnalysisSink interface {
	Evaluate(ctx context.Context, result models.AnalysisResult, alertCtx models.AlertContext) error
}

// RunnerOptions bounds per-target retry behaviour.
type RunnerOptions struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (o *RunnerOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
}

// Runner executes one job firing: resolve targets, extract series, run
// the analysis for the job's type and hand results to the sink. Failures
// are isolated per target so one broken pipeline cannot poison a global
// firing.
type Runner struct {
	engine    *engine.Engine
	extractor extractors.SeriesExtractor
	runs      extractors.RunSource
	pipelines PipelineLister
	sink      AnalysisSink
	logger    *slog.Logger
	opts      RunnerOptions
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner wires a runner over the analytics engine and data sources.
func NewRunner(eng *engine.Engine, extractor extractors.SeriesExtractor, runs extractors.RunSource, pipelines PipelineLister, sink AnalysisSink, logger *slog.Logger, opts RunnerOptions) *Runner {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:    eng,
		extractor: extractor,
		runs:      runs,
		pipelines: pipelines,
		sink:      sink,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes the firing against every resolved target and reports one
// outcome per target. The returned error is non-nil only when the firing
// as a whole could not proceed (target resolution failed or the context
// was cancelled).
func (r *Runner) Run(ctx context.Context, job models.JobDefinition) ([]models.TargetOutcome, error) {
	targets, err := r.resolveTargets(ctx, job)
	if err != nil {
		return nil, err
	}

	outcomes := make([]models.TargetOutcome, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		outcomes = append(outcomes, r.runTarget(ctx, job, target))
	}
	return outcomes, nil
}

func (r *Runner) resolveTargets(ctx context.Context, job models.JobDefinition) ([]models.Pipeline, error) {
	if job.PipelineID != "" {
		return []models.Pipeline{{ID: job.PipelineID}}, nil
	}
	pipelines, err := r.pipelines.ListActivePipelines(ctx)
	if err != nil {
		return nil, utils.NewAppError("scheduler.Run", "resolving global job targets", err)
	}
	return pipelines, nil
}

// runTarget analyzes one pipeline with bounded retries. Retry exhaustion
// marks the target failed; it never propagates.
func (r *Runner) runTarget(ctx context.Context, job models.JobDefinition, target models.Pipeline) models.TargetOutcome {
	outcome := models.TargetOutcome{PipelineID: target.ID}

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		result, err := r.analyze(ctx, job, target.ID)
		if err == nil {
			r.dispatch(ctx, result, target)
			outcome.Success = true
			outcome.Summary = summarize(result)
			return outcome
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		// Bad input will not get better on retry.
		if errorsIsAny(err, utils.ErrInsufficientData, utils.ErrNotFound, utils.ErrConfigurationInvalid) {
			break
		}
		if attempt < r.opts.MaxAttempts {
			backoff := r.opts.RetryBackoff * time.Duration(1<<(attempt-1))
			r.logger.Warn("target analysis failed, retrying",
				"job_id", job.ID, "pipeline_id", target.ID, "attempt", attempt, "backoff", backoff, "error", err)
			if r.sleep(ctx, backoff) != nil {
				break
			}
		}
	}

	outcome.Error = lastErr.Error()
	r.logger.Error("target analysis failed",
		"job_id", job.ID, "pipeline_id", target.ID, "error", lastErr)
	return outcome
}

func (r *Runner) dispatch(ctx context.Context, result models.AnalysisResult, target models.Pipeline) {
	alertCtx := models.AlertContext{
		PipelineID:  target.ID,
		Environment: target.Environment,
		Tags:        target.Tags,
	}
	if err := r.sink.Evaluate(ctx, result, alertCtx); err != nil {
		r.logger.Warn("alert evaluation failed", "pipeline_id", target.ID, "metric", result.Metric, "error", err)
	}
}

func (r *Runner) analyze(ctx context.Context, job models.JobDefinition, pipelineID string) (models.AnalysisResult, error) {
	switch job.Type {
	case models.JobAnomaly:
		return r.analyzeAnomalies(ctx, pipelineID, *job.Parameters.Anomaly)
	case models.JobTrend:
		return r.analyzeTrend(ctx, pipelineID, *job.Parameters.Trend)
	case models.JobSLA:
		return r.analyzeSLA(ctx, pipelineID, *job.Parameters.SLA)
	case models.JobCost:
		return r.analyzeCost(ctx, pipelineID, *job.Parameters.Cost)
	case models.JobFull:
		return r.analyzeFull(ctx, pipelineID, *job.Parameters.Full)
	default:
		return models.AnalysisResult{}, utils.NewAppError("scheduler.Run", fmt.Sprintf("job type %q", job.Type), utils.ErrConfigurationInvalid)
	}
}

func (r *Runner) analyzeAnomalies(ctx context.Context, pipelineID string, params models.AnomalyParams) (models.AnalysisResult, error) {
	series, err := r.extractor.ExtractSeries(ctx, pipelineID, params.Metric, periodDays(params.PeriodDays))
	if err != nil {
		return models.AnalysisResult{}, err
	}
	anomalies, err := r.engine.DetectAnomalies(ctx, series, params)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.AnalysisResult{
		PipelineID:  pipelineID,
		Metric:      params.Metric,
		Anomalies:   anomalies,
		GeneratedAt: r.now(),
	}, nil
}

func (r *Runner) analyzeTrend(ctx context.Context, pipelineID string, params models.TrendParams) (models.AnalysisResult, error) {
	series, err := r.extractor.ExtractSeries(ctx, pipelineID, params.Metric, periodDays(params.PeriodDays))
	if err != nil {
		return models.AnalysisResult{}, err
	}
	trend, err := r.engine.AnalyzeTrend(ctx, series)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.AnalysisResult{
		PipelineID:  pipelineID,
		Metric:      params.Metric,
		Trend:       &trend,
		GeneratedAt: r.now(),
	}, nil
}

func (r *Runner) analyzeSLA(ctx context.Context, pipelineID string, params models.SLAParams) (models.AnalysisResult, error) {
	series, err := r.extractor.ExtractSeries(ctx, pipelineID, params.Metric, periodDays(params.PeriodDays))
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if len(series) == 0 {
		return models.AnalysisResult{}, utils.InsufficientData("scheduler.Run", 0, 1)
	}
	current := series[len(series)-1].Value
	sla, err := r.engine.MonitorSLA(ctx, current, params.Target, params.Direction, series.Values(), params.ViolationType)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.AnalysisResult{
		PipelineID:  pipelineID,
		Metric:      params.Metric,
		SLA:         &sla,
		GeneratedAt: r.now(),
	}, nil
}

func (r *Runner) analyzeCost(ctx context.Context, pipelineID string, params models.CostParams) (models.AnalysisResult, error) {
	end := r.now()
	runs, err := r.runs.FetchRuns(ctx, pipelineID, utils.WindowStart(end, periodDays(params.PeriodDays)), end)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if len(runs) == 0 {
		return models.AnalysisResult{}, utils.InsufficientData("scheduler.Run", 0, 1)
	}

	minutes, usage := aggregateRuns(runs)
	cost, err := r.engine.AnalyzeCosts(ctx, minutes, usage, dailyMinutes(runs))
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.AnalysisResult{
		PipelineID:  pipelineID,
		Metric:      models.MetricDurationMinutes,
		Cost:        &cost,
		GeneratedAt: r.now(),
	}, nil
}

// analyzeFull combines anomaly, trend, SLA and cost analysis into one
// aggregated result over the shared period.
func (r *Runner) analyzeFull(ctx context.Context, pipelineID string, params models.FullParams) (models.AnalysisResult, error) {
	days := periodDays(params.PeriodDays)

	anomalyParams := params.Anomaly
	if anomalyParams.PeriodDays == 0 {
		anomalyParams.PeriodDays = days
	}
	result, err := r.analyzeAnomalies(ctx, pipelineID, anomalyParams)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	series, err := r.extractor.ExtractSeries(ctx, pipelineID, anomalyParams.Metric, days)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if trend, err := r.engine.AnalyzeTrend(ctx, series); err == nil {
		result.Trend = &trend
	}

	if params.SLA != nil && len(series) > 0 {
		current := series[len(series)-1].Value
		if sla, err := r.engine.MonitorSLA(ctx, current, params.SLA.Target, params.SLA.Direction, series.Values(), params.SLA.ViolationType); err == nil {
			result.SLA = &sla
		}
	}

	end := r.now()
	if runs, err := r.runs.FetchRuns(ctx, pipelineID, utils.WindowStart(end, days), end); err == nil && len(runs) > 0 {
		minutes, usage := aggregateRuns(runs)
		if cost, err := r.engine.AnalyzeCosts(ctx, minutes, usage, dailyMinutes(runs)); err == nil {
			result.Cost = &cost
		}
	}

	result.GeneratedAt = r.now()
	return result, nil
}

func aggregateRuns(runs []models.PipelineRun) (float64, models.ResourceUsage) {
	var minutes float64
	var usage models.ResourceUsage
	for _, run := range runs {
		minutes += run.DurationMinutes
		usage.CPU += run.Resources.CPU
		usage.Memory += run.Resources.Memory
		usage.Storage += run.Resources.Storage
		usage.Network += run.Resources.Network
	}
	n := float64(len(runs))
	usage.CPU /= n
	usage.Memory /= n
	usage.Storage /= n
	usage.Network /= n
	return minutes, usage
}

// dailyMinutes aggregates execution minutes per UTC day, oldest first.
// Duration is the cost driver under constant rates, so its history stands
// in for a cost history when projecting the cost trend.
func dailyMinutes(runs []models.PipelineRun) []float64 {
	totals := make(map[time.Time]float64)
	for _, run := range runs {
		day := run.StartedAt.UTC().Truncate(24 * time.Hour)
		totals[day] += run.DurationMinutes
	}
	days := make([]time.Time, 0, len(totals))
	for day := range totals {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]float64, 0, len(days))
	for _, day := range days {
		out = append(out, totals[day])
	}
	return out
}

func periodDays(days int) int {
	if days <= 0 {
		return 7
	}
	return days
}

func summarize(result models.AnalysisResult) string {
	switch {
	case result.SLA != nil && result.SLA.Violated:
		return fmt.Sprintf("sla violated: %.2f vs target %.2f", result.SLA.ActualValue, result.SLA.SLATarget)
	case len(result.Anomalies) > 0:
		return fmt.Sprintf("%d anomalies detected", len(result.Anomalies))
	case result.Trend != nil:
		return fmt.Sprintf("trend %s (%.2f%%/step)", result.Trend.Trend, result.Trend.ChangeRate)
	case result.Cost != nil:
		return fmt.Sprintf("cost %.2f, efficiency %.0f", result.Cost.TotalCost, result.Cost.Efficiency.Score)
	default:
		return "no findings"
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
