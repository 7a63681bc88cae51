package models

import "time"

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Pipeline describes a CI/CD pipeline known to the run API.
type Pipeline struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// PipelineRun is a single completed execution of a pipeline, the raw
// record every metric series is derived from.
type PipelineRun struct {
	ID              string             `json:"id"`
	PipelineID      string             `json:"pipeline_id"`
	Branch          string             `json:"branch"`
	CommitSHA       string             `json:"commit_sha"`
	Status          RunStatus          `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	DurationMinutes float64            `json:"duration_minutes"`
	Resources       ResourceUsage      `json:"resources"`
	CustomMetrics   map[string]float64 `json:"custom_metrics,omitempty"`
}
