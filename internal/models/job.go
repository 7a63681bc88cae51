package models

import "time"

// JobType selects which analysis a scheduled job performs.
type JobType string

const (
	JobAnomaly JobType = "anomaly"
	JobTrend   JobType = "trend"
	JobSLA     JobType = "sla"
	JobCost    JobType = "cost"
	JobFull    JobType = "full"
)

// AnomalyParams configures anomaly detection jobs.
type AnomalyParams struct {
	Metric          string        `json:"metric" yaml:"metric"`
	Method          AnomalyMethod `json:"method" yaml:"method"`
	ZScoreThreshold float64       `json:"zscore_threshold,omitempty" yaml:"zscoreThreshold"`
	LowPercentile   float64       `json:"low_percentile,omitempty" yaml:"lowPercentile"`
	HighPercentile  float64       `json:"high_percentile,omitempty" yaml:"highPercentile"`
	PeriodDays      int           `json:"period_days" yaml:"periodDays"`
}

// TrendParams configures trend analysis jobs.
type TrendParams struct {
	Metric     string `json:"metric" yaml:"metric"`
	PeriodDays int    `json:"period_days" yaml:"periodDays"`
}

// SLAParams configures SLA monitoring jobs.
type SLAParams struct {
	Metric        string       `json:"metric" yaml:"metric"`
	Target        float64      `json:"target" yaml:"target"`
	Direction     SLADirection `json:"direction" yaml:"direction"`
	ViolationType string       `json:"violation_type" yaml:"violationType"`
	PeriodDays    int          `json:"period_days" yaml:"periodDays"`
}

// CostParams configures cost analysis jobs.
type CostParams struct {
	PeriodDays int `json:"period_days" yaml:"periodDays"`
}

// FullParams configures combined jobs; the embedded sections mirror the
// individual job types.
type FullParams struct {
	Anomaly    AnomalyParams `json:"anomaly" yaml:"anomaly"`
	SLA        *SLAParams    `json:"sla,omitempty" yaml:"sla"`
	PeriodDays int           `json:"period_days" yaml:"periodDays"`
}

// JobParameters is a tagged union keyed by JobType: exactly the variant
// matching the job's type must be populated. Validated at creation time.
type JobParameters struct {
	Anomaly *AnomalyParams `json:"anomaly,omitempty" yaml:"anomaly"`
	Trend   *TrendParams   `json:"trend,omitempty" yaml:"trend"`
	SLA     *SLAParams     `json:"sla,omitempty" yaml:"sla"`
	Cost    *CostParams    `json:"cost,omitempty" yaml:"cost"`
	Full    *FullParams    `json:"full,omitempty" yaml:"full"`
}

// JobDefinition describes a recurring analysis job. An empty PipelineID makes
// the job global: it targets every active pipeline at firing time.
type JobDefinition struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       JobType       `json:"type"`
	Schedule   string        `json:"schedule"`
	Enabled    bool          `json:"enabled"`
	PipelineID string        `json:"pipeline_id,omitempty"`
	Parameters JobParameters `json:"parameters"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ExecutionStatus tracks a firing's lifecycle.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TargetOutcome records one pipeline's result within a firing.
type TargetOutcome struct {
	PipelineID string `json:"pipeline_id"`
	Success    bool   `json:"success"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JobExecution is one completed or in-flight firing of a job definition.
// Execution history is append-only with bounded retention per job.
type JobExecution struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Targets    []TargetOutcome `json:"targets,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// SchedulerMetrics is the inspection snapshot exposed upward.
type SchedulerMetrics struct {
	JobsTotal         int           `json:"jobs_total"`
	JobsEnabled       int           `json:"jobs_enabled"`
	RunningExecutions int           `json:"running_executions"`
	QueuedFirings     int           `json:"queued_firings"`
	DroppedFirings    int64         `json:"dropped_firings"`
	CompletedTotal    int64         `json:"completed_total"`
	FailedTotal       int64         `json:"failed_total"`
	P95Latency        time.Duration `json:"p95_latency"`
}
