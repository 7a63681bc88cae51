// Package scheduler runs recurring analysis jobs on cron schedules with a
// bounded firing queue, a fixed worker pool and at-most-one execution per
// job at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pulsestack/pulse-analytics/internal/metrics"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/store"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// Options tunes scheduler concurrency and retention.
type Options struct {
	Workers      int
	QueueSize    int
	HistoryLimit int
	Runner       RunnerOptions
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
}

// JobStatus is the inspection view of a single job.
type JobStatus struct {
	Job           models.JobDefinition `json:"job"`
	Running       bool                 `json:"running"`
	LastExecution *models.JobExecution `json:"last_execution,omitempty"`
}

type runningExec struct {
	execID    string
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

// scheduleParser accepts standard five-field expressions plus an optional
// leading seconds field and descriptors such as @hourly.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns the job registry and the firing loop. Job definitions
// are persisted through the store; cron entries mirror the enabled set.
type Scheduler struct {
	logger  *slog.Logger
	store   store.Store
	runner  *Runner
	opts    Options
	cron    *cron.Cron
	latency *utils.LatencyTracker

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	inFlight map[string]*runningExec
	dropped  int64
	done     int64
	failed   int64

	queue    chan models.JobDefinition
	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	now      func() time.Time
}

// New constructs a stopped scheduler; call Start to begin firing.
func New(st store.Store, runner *Runner, logger *slog.Logger, opts Options) *Scheduler {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Scheduler{
		logger:   logger,
		store:    st,
		runner:   runner,
		opts:     opts,
		cron:     cron.New(cron.WithParser(scheduleParser)),
		latency:  utils.NewLatencyTracker(256),
		entries:  make(map[string]cron.EntryID),
		inFlight: make(map[string]*runningExec),
		queue:    make(chan models.JobDefinition, opts.QueueSize),
		baseCtx:  baseCtx,
		shutdown: shutdown,
		now:      time.Now,
	}
}

// Start loads persisted jobs, registers cron entries for the enabled ones
// and launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return utils.NewAppError("scheduler.Start", "loading persisted jobs", err)
	}
	for _, job := range jobs {
		if job.Enabled {
			if err := s.registerEntry(job); err != nil {
				s.logger.Error("skipping job with invalid schedule", "job_id", job.ID, "schedule", job.Schedule, "error", err)
			}
		}
	}

	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs), "workers", s.opts.Workers, "queue_size", s.opts.QueueSize)
	return nil
}

// Stop halts cron firing, cancels running executions and waits for the
// workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, run := range s.inFlight {
		run.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.shutdown()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// CreateJob validates and persists a job definition, registering its cron
// entry when enabled. A missing ID is generated.
func (s *Scheduler) CreateJob(ctx context.Context, job models.JobDefinition) (models.JobDefinition, error) {
	if err := validateJob(job); err != nil {
		return models.JobDefinition{}, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.SaveJob(ctx, job); err != nil {
		return models.JobDefinition{}, utils.NewAppError("scheduler.CreateJob", "persisting job", err)
	}
	if job.Enabled {
		if err := s.registerEntry(job); err != nil {
			return models.JobDefinition{}, err
		}
	}
	s.logger.Info("job created", "job_id", job.ID, "type", job.Type, "schedule", job.Schedule, "enabled", job.Enabled)
	return job, nil
}

// GetJob returns a job definition by ID.
func (s *Scheduler) GetJob(ctx context.Context, id string) (models.JobDefinition, error) {
	return s.store.GetJob(ctx, id)
}

// GetJobStatus reports the job alongside its running state and last
// execution record.
func (s *Scheduler) GetJobStatus(ctx context.Context, id string) (JobStatus, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return JobStatus{}, err
	}

	s.mu.Lock()
	_, running := s.inFlight[id]
	s.mu.Unlock()

	status := JobStatus{Job: job, Running: running}
	history, err := s.store.ListExecutions(ctx, id, 1)
	if err == nil && len(history) > 0 {
		status.LastExecution = &history[0]
	}
	return status, nil
}

// ListJobs returns every persisted job definition.
func (s *Scheduler) ListJobs(ctx context.Context) ([]models.JobDefinition, error) {
	return s.store.ListJobs(ctx)
}

// EnableJob turns a job's schedule on.
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// DisableJob turns a job's schedule off; a running execution finishes.
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Enabled == enabled {
		return nil
	}
	job.Enabled = enabled
	job.UpdatedAt = s.now()
	if err := s.store.SaveJob(ctx, job); err != nil {
		return utils.NewAppError("scheduler.setEnabled", "persisting job", err)
	}

	if enabled {
		return s.registerEntry(job)
	}
	s.removeEntry(id)
	return nil
}

// DeleteJob removes the job, its cron entry and its execution history,
// cancelling any running execution.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.removeEntry(id)
	_ = s.CancelJob(id)
	return s.store.DeleteJob(ctx, id)
}

// CancelJob cancels the job's running execution, if any. The worker
// observes the cancelled context, records the execution as cancelled and
// releases the in-flight slot; calling this concurrently with completion
// is safe.
func (s *Scheduler) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.inFlight[id]
	if !ok {
		return utils.NewAppError("scheduler.CancelJob", fmt.Sprintf("job %s has no running execution", id), utils.ErrNotFound)
	}
	run.cancelled = true
	run.cancel()
	return nil
}

// RunNow enqueues an immediate firing through the same bounded queue the
// cron entries use.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return s.enqueue(job)
}

// History returns the job's most recent executions, newest first.
func (s *Scheduler) History(ctx context.Context, id string, limit int) ([]models.JobExecution, error) {
	if limit <= 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	return s.store.ListExecutions(ctx, id, limit)
}

// Metrics snapshots the scheduler's counters.
func (s *Scheduler) Metrics(ctx context.Context) (models.SchedulerMetrics, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return models.SchedulerMetrics{}, err
	}
	enabled := 0
	for _, job := range jobs {
		if job.Enabled {
			enabled++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SchedulerMetrics{
		JobsTotal:         len(jobs),
		JobsEnabled:       enabled,
		RunningExecutions: len(s.inFlight),
		QueuedFirings:     len(s.queue),
		DroppedFirings:    s.dropped,
		CompletedTotal:    s.done,
		FailedTotal:       s.failed,
		P95Latency:        s.latency.Percentile(95),
	}, nil
}

func (s *Scheduler) registerEntry(job models.JobDefinition) error {
	if _, err := scheduleParser.Parse(job.Schedule); err != nil {
		return utils.NewAppError("scheduler.registerEntry", fmt.Sprintf("schedule %q", job.Schedule), utils.ErrConfigurationInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.fire(jobID) })
	if err != nil {
		return utils.NewAppError("scheduler.registerEntry", fmt.Sprintf("schedule %q", job.Schedule), utils.ErrConfigurationInvalid)
	}
	s.entries[job.ID] = entryID
	return nil
}

func (s *Scheduler) removeEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire re-reads the definition at firing time so edits between firings
// take effect without re-registration.
func (s *Scheduler) fire(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Warn("firing skipped, job missing", "job_id", jobID, "error", err)
		return
	}
	if !job.Enabled {
		return
	}
	if err := s.enqueue(job); err != nil {
		s.logger.Warn("firing dropped", "job_id", jobID, "error", err)
	}
}

// enqueue claims the job's in-flight slot and queues the firing. A full
// queue or an already-running execution drops the firing without failing
// the scheduler.
func (s *Scheduler) enqueue(job models.JobDefinition) error {
	s.mu.Lock()
	if _, running := s.inFlight[job.ID]; running {
		s.mu.Unlock()
		return utils.NewAppError("scheduler.enqueue", fmt.Sprintf("job %s already running", job.ID), utils.ErrConcurrencyExceeded)
	}
	execCtx, cancel := context.WithCancel(s.baseCtx)
	s.inFlight[job.ID] = &runningExec{ctx: execCtx, cancel: cancel}
	s.mu.Unlock()

	select {
	case s.queue <- job:
		return nil
	default:
		s.release(job.ID)
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		metrics.ObserveQueueDrop()
		return utils.NewAppError("scheduler.enqueue", "firing queue full", utils.ErrConcurrencyExceeded)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case job := <-s.queue:
			s.execute(job)
		}
	}
}

func (s *Scheduler) execute(job models.JobDefinition) {
	s.mu.Lock()
	run, ok := s.inFlight[job.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	execID := uuid.NewString()
	run.execID = execID
	execCtx := run.ctx
	s.mu.Unlock()
	defer s.release(job.ID)

	started := s.now()
	exec := models.JobExecution{
		ID:        execID,
		JobID:     job.ID,
		StartedAt: started,
		Status:    models.ExecutionRunning,
	}
	if err := s.store.SaveExecution(execCtx, exec); err != nil {
		s.logger.Warn("persisting running execution failed", "job_id", job.ID, "error", err)
	}

	targets, runErr := s.runner.Run(execCtx, job)
	exec.Targets = targets
	exec.FinishedAt = s.now()
	exec.Status = s.finalStatus(job.ID, targets, runErr)
	if runErr != nil {
		exec.Error = runErr.Error()
	}

	duration := exec.FinishedAt.Sub(started)
	s.latency.Observe(duration)
	outcome := metrics.OutcomeSuccess
	s.mu.Lock()
	if exec.Status == models.ExecutionFailed {
		s.failed++
		outcome = metrics.OutcomeError
	} else {
		s.done++
	}
	s.mu.Unlock()
	metrics.ObserveJobRun(string(job.Type), duration, outcome)

	if err := s.store.SaveExecution(context.Background(), exec); err != nil {
		s.logger.Warn("persisting finished execution failed", "job_id", job.ID, "error", err)
	}
	s.logger.Info("job execution finished",
		"job_id", job.ID, "execution_id", execID, "status", exec.Status,
		"targets", len(targets), "duration", duration)
}

func (s *Scheduler) finalStatus(jobID string, targets []models.TargetOutcome, runErr error) models.ExecutionStatus {
	s.mu.Lock()
	cancelled := false
	if run, ok := s.inFlight[jobID]; ok {
		cancelled = run.cancelled
	}
	s.mu.Unlock()

	if cancelled {
		return models.ExecutionCancelled
	}
	if runErr != nil {
		return models.ExecutionFailed
	}
	for _, target := range targets {
		if !target.Success {
			return models.ExecutionFailed
		}
	}
	return models.ExecutionSucceeded
}

// release frees the job's in-flight slot; releasing an already-released
// slot is a no-op.
func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.inFlight[jobID]; ok {
		run.cancel()
		delete(s.inFlight, jobID)
	}
}

// validateJob checks the definition including its parameter union: the
// variant matching the job type must be populated and every other variant
// must be absent.
func validateJob(job models.JobDefinition) error {
	op := "scheduler.CreateJob"
	if strings.TrimSpace(job.Name) == "" {
		return utils.NewAppError(op, "job name is empty", utils.ErrConfigurationInvalid)
	}
	if _, err := scheduleParser.Parse(job.Schedule); err != nil {
		return utils.NewAppError(op, fmt.Sprintf("schedule %q: %v", job.Schedule, err), utils.ErrConfigurationInvalid)
	}

	p := job.Parameters
	variants := 0
	for _, set := range []bool{p.Anomaly != nil, p.Trend != nil, p.SLA != nil, p.Cost != nil, p.Full != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return utils.NewAppError(op, fmt.Sprintf("exactly one parameter variant required, got %d", variants), utils.ErrConfigurationInvalid)
	}

	switch job.Type {
	case models.JobAnomaly:
		if p.Anomaly == nil {
			return variantMismatch(op, job.Type)
		}
		if strings.TrimSpace(p.Anomaly.Metric) == "" {
			return utils.NewAppError(op, "anomaly metric is empty", utils.ErrConfigurationInvalid)
		}
	case models.JobTrend:
		if p.Trend == nil {
			return variantMismatch(op, job.Type)
		}
		if strings.TrimSpace(p.Trend.Metric) == "" {
			return utils.NewAppError(op, "trend metric is empty", utils.ErrConfigurationInvalid)
		}
	case models.JobSLA:
		if p.SLA == nil {
			return variantMismatch(op, job.Type)
		}
		if err := validateSLAParams(op, *p.SLA); err != nil {
			return err
		}
	case models.JobCost:
		if p.Cost == nil {
			return variantMismatch(op, job.Type)
		}
	case models.JobFull:
		if p.Full == nil {
			return variantMismatch(op, job.Type)
		}
		if strings.TrimSpace(p.Full.Anomaly.Metric) == "" {
			return utils.NewAppError(op, "full job anomaly metric is empty", utils.ErrConfigurationInvalid)
		}
		if p.Full.SLA != nil {
			if err := validateSLAParams(op, *p.Full.SLA); err != nil {
				return err
			}
		}
	default:
		return utils.NewAppError(op, fmt.Sprintf("unknown job type %q", job.Type), utils.ErrConfigurationInvalid)
	}
	return nil
}

func validateSLAParams(op string, params models.SLAParams) error {
	if strings.TrimSpace(params.Metric) == "" {
		return utils.NewAppError(op, "sla metric is empty", utils.ErrConfigurationInvalid)
	}
	if params.Direction != models.LowerIsViolation && params.Direction != models.HigherIsViolation {
		return utils.NewAppError(op, "sla direction must be explicit", utils.ErrConfigurationInvalid)
	}
	return nil
}

func variantMismatch(op string, jobType models.JobType) error {
	return utils.NewAppError(op, fmt.Sprintf("parameter variant does not match job type %q", jobType), utils.ErrConfigurationInvalid)
}
