package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/scheduler"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// SchedulerService is the upward-facing facade over the job scheduler. The
// external API layer binds against it; it owns input validation, latency
// tracking and structured request logging so the scheduler stays transport
// agnostic.
type SchedulerService struct {
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	latencies *utils.LatencyTracker
}

// NewSchedulerService constructs the facade.
func NewSchedulerService(logger *slog.Logger, sched *scheduler.Scheduler) *SchedulerService {
	return &SchedulerService{
		logger:    utils.ComponentLogger(logger, "scheduler-service"),
		scheduler: sched,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// CreateJob validates and registers a job definition.
func (s *SchedulerService) CreateJob(ctx context.Context, job models.JobDefinition) (models.JobDefinition, error) {
	if strings.TrimSpace(job.Name) == "" {
		return models.JobDefinition{}, utils.NewAppError("services.CreateJob", "job name is empty", utils.ErrConfigurationInvalid)
	}

	start := time.Now()
	created, err := s.scheduler.CreateJob(ctx, job)
	s.observe(start)
	if err != nil {
		s.logger.Error("create job failed", slog.String("name", job.Name), slog.Any("error", err))
		return models.JobDefinition{}, err
	}
	s.logger.Info("job created", slog.String("job_id", created.ID), slog.String("type", string(created.Type)), slog.String("schedule", created.Schedule))
	return created, nil
}

// GetJob returns one job definition.
func (s *SchedulerService) GetJob(ctx context.Context, id string) (models.JobDefinition, error) {
	if id == "" {
		return models.JobDefinition{}, utils.NewAppError("services.GetJob", "job id is empty", utils.ErrConfigurationInvalid)
	}
	return s.scheduler.GetJob(ctx, id)
}

// GetJobStatus returns the definition plus live execution state.
func (s *SchedulerService) GetJobStatus(ctx context.Context, id string) (scheduler.JobStatus, error) {
	if id == "" {
		return scheduler.JobStatus{}, utils.NewAppError("services.GetJobStatus", "job id is empty", utils.ErrConfigurationInvalid)
	}
	return s.scheduler.GetJobStatus(ctx, id)
}

// ListJobs returns all registered job definitions.
func (s *SchedulerService) ListJobs(ctx context.Context) ([]models.JobDefinition, error) {
	return s.scheduler.ListJobs(ctx)
}

// EnableJob resumes scheduling for a disabled job.
func (s *SchedulerService) EnableJob(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.EnableJob", "job id is empty", utils.ErrConfigurationInvalid)
	}
	if err := s.scheduler.EnableJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job enabled", slog.String("job_id", id))
	return nil
}

// DisableJob pauses scheduling without losing the definition or history.
func (s *SchedulerService) DisableJob(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.DisableJob", "job id is empty", utils.ErrConfigurationInvalid)
	}
	if err := s.scheduler.DisableJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job disabled", slog.String("job_id", id))
	return nil
}

// DeleteJob removes the definition and stops future firings.
func (s *SchedulerService) DeleteJob(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.DeleteJob", "job id is empty", utils.ErrConfigurationInvalid)
	}
	if err := s.scheduler.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// CancelJob requests cancellation of the job's running execution.
func (s *SchedulerService) CancelJob(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.CancelJob", "job id is empty", utils.ErrConfigurationInvalid)
	}
	return s.scheduler.CancelJob(id)
}

// RunNow fires the job immediately, subject to the same concurrency claim
// as a scheduled firing.
func (s *SchedulerService) RunNow(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.RunNow", "job id is empty", utils.ErrConfigurationInvalid)
	}

	start := time.Now()
	err := s.scheduler.RunNow(ctx, id)
	s.observe(start)
	if err != nil {
		s.logger.Warn("manual firing rejected", slog.String("job_id", id), slog.Any("error", err))
		return err
	}
	s.logger.Info("job fired manually", slog.String("job_id", id))
	return nil
}

// History returns the newest-first execution records for a job.
func (s *SchedulerService) History(ctx context.Context, id string, limit int) ([]models.JobExecution, error) {
	if id == "" {
		return nil, utils.NewAppError("services.History", "job id is empty", utils.ErrConfigurationInvalid)
	}
	return s.scheduler.History(ctx, id, limit)
}

// Metrics returns the scheduler inspection snapshot.
func (s *SchedulerService) Metrics(ctx context.Context) (models.SchedulerMetrics, error) {
	return s.scheduler.Metrics(ctx)
}

func (s *SchedulerService) observe(start time.Time) {
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("scheduler request latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}
