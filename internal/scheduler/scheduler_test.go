package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/store"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

func newTestScheduler(t *testing.T, extractor *fakeExtractor, opts Options) (*Scheduler, *store.Memory, *recordingSink) {
	t.Helper()
	mem := store.NewMemory(0)
	sink := &recordingSink{}
	runner := newRunner(extractor, &fakeRunSource{}, &fakeLister{}, sink)
	return New(mem, runner, testLogger(), opts), mem, sink
}

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want models.ExecutionStatus) models.JobExecution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		history, err := s.History(context.Background(), jobID, 1)
		if err == nil && len(history) > 0 && history[0].Status == want {
			return history[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution of %s never reached %s", jobID, want)
	return models.JobExecution{}
}

func TestCreateJobValidatesParameterUnion(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeExtractor{}, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		job  models.JobDefinition
	}{
		{"no variant", models.JobDefinition{Name: "j", Type: models.JobTrend, Schedule: "* * * * *"}},
		{"wrong variant", models.JobDefinition{
			Name: "j", Type: models.JobTrend, Schedule: "* * * * *",
			Parameters: models.JobParameters{Anomaly: &models.AnomalyParams{Metric: "m"}},
		}},
		{"two variants", models.JobDefinition{
			Name: "j", Type: models.JobTrend, Schedule: "* * * * *",
			Parameters: models.JobParameters{
				Trend:   &models.TrendParams{Metric: "m"},
				Anomaly: &models.AnomalyParams{Metric: "m"},
			},
		}},
		{"bad schedule", models.JobDefinition{
			Name: "j", Type: models.JobTrend, Schedule: "not-cron",
			Parameters: models.JobParameters{Trend: &models.TrendParams{Metric: "m"}},
		}},
		{"sla without direction", models.JobDefinition{
			Name: "j", Type: models.JobSLA, Schedule: "* * * * *",
			Parameters: models.JobParameters{SLA: &models.SLAParams{Metric: "m", Target: 95}},
		}},
	}
	for _, tc := range cases {
		if _, err := s.CreateJob(ctx, tc.job); !errors.Is(err, utils.ErrConfigurationInvalid) {
			t.Fatalf("%s: expected ErrConfigurationInvalid, got %v", tc.name, err)
		}
	}
}

func TestCreateJobAssignsIDAndPersists(t *testing.T) {
	s, mem, _ := newTestScheduler(t, &fakeExtractor{}, Options{})
	ctx := context.Background()

	created, err := s.CreateJob(ctx, trendJobDef("", "pipe-1", false))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("missing generated fields: %+v", created)
	}
	if _, err := mem.GetJob(ctx, created.ID); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestCreateJobAcceptsSecondsField(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeExtractor{}, Options{})

	job := trendJobDef("", "pipe-1", false)
	job.Schedule = "*/30 * * * * *"
	if _, err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("six-field schedule rejected: %v", err)
	}

	job.Schedule = "@hourly"
	if _, err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("descriptor schedule rejected: %v", err)
	}
}

func trendJobDef(id, pipelineID string, enabled bool) models.JobDefinition {
	return models.JobDefinition{
		ID:         id,
		Name:       "trend watch",
		Type:       models.JobTrend,
		Schedule:   "*/5 * * * *",
		Enabled:    enabled,
		PipelineID: pipelineID,
		Parameters: models.JobParameters{Trend: &models.TrendParams{Metric: models.MetricDurationMinutes, PeriodDays: 7}},
	}
}

func TestRunNowExecutesAndRecordsHistory(t *testing.T) {
	extractor := &fakeExtractor{series: map[string]models.Series{"pipe-1": trendSeries(12)}}
	s, _, sink := newTestScheduler(t, extractor, Options{Workers: 1})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	created, err := s.CreateJob(ctx, trendJobDef("", "pipe-1", false))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.RunNow(ctx, created.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	exec := waitForStatus(t, s, created.ID, models.ExecutionSucceeded)
	if len(exec.Targets) != 1 || !exec.Targets[0].Success {
		t.Fatalf("unexpected targets: %+v", exec.Targets)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d results, want 1", sink.count())
	}

	m, err := s.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.CompletedTotal != 1 || m.RunningExecutions != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestSameJobNeverRunsConcurrently(t *testing.T) {
	block := make(chan struct{})
	extractor := &fakeExtractor{series: map[string]models.Series{"pipe-1": trendSeries(12)}, block: block}
	s, _, _ := newTestScheduler(t, extractor, Options{Workers: 2})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	created, err := s.CreateJob(ctx, trendJobDef("", "pipe-1", false))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.RunNow(ctx, created.ID); err != nil {
		t.Fatalf("first firing: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if err := s.RunNow(ctx, created.ID); errors.Is(err, utils.ErrConcurrencyExceeded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second firing of a running job was never rejected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(block)
	waitForStatus(t, s, created.ID, models.ExecutionSucceeded)
}

func TestQueueOverflowDropsFiring(t *testing.T) {
	extractor := &fakeExtractor{series: map[string]models.Series{"pipe-1": trendSeries(12)}}
	// No workers started: the queue fills and stays full.
	s, _, _ := newTestScheduler(t, extractor, Options{QueueSize: 1})
	ctx := context.Background()

	for i, id := range []string{"job-a", "job-b"} {
		job := trendJobDef(id, "pipe-1", false)
		if _, err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	if err := s.RunNow(ctx, "job-a"); err != nil {
		t.Fatalf("first firing should queue: %v", err)
	}
	if err := s.RunNow(ctx, "job-b"); !errors.Is(err, utils.ErrConcurrencyExceeded) {
		t.Fatalf("expected queue overflow drop, got %v", err)
	}

	m, err := s.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DroppedFirings != 1 || m.QueuedFirings != 1 {
		t.Fatalf("unexpected metrics after drop: %+v", m)
	}
}

func TestCancelJobMarksExecutionCancelled(t *testing.T) {
	block := make(chan struct{})
	extractor := &fakeExtractor{series: map[string]models.Series{"pipe-1": trendSeries(12)}, block: block}
	s, _, _ := newTestScheduler(t, extractor, Options{Workers: 1})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	defer close(block)

	created, err := s.CreateJob(ctx, trendJobDef("", "pipe-1", false))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.RunNow(ctx, created.ID); err != nil {
		t.Fatalf("run now: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if err := s.CancelJob(created.ID); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("running execution never became cancellable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitForStatus(t, s, created.ID, models.ExecutionCancelled)
	if err := s.CancelJob(created.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("cancelling a finished execution should be ErrNotFound, got %v", err)
	}
}

func TestEnableDisableLifecycle(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeExtractor{}, Options{})
	ctx := context.Background()

	created, err := s.CreateJob(ctx, trendJobDef("", "pipe-1", true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DisableJob(ctx, created.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	job, err := s.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Enabled {
		t.Fatalf("job should be disabled")
	}
	if err := s.EnableJob(ctx, created.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := s.DeleteJob(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, created.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("deleted job should be ErrNotFound, got %v", err)
	}
}
