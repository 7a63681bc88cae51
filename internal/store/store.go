// Package store defines the persistence contracts for alert
// configurations, alerts, job definitions and execution records, with an
// in-memory implementation and a best-effort remote document binding.
package store

import (
	"context"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// ConfigurationStore persists alert configurations.
type ConfigurationStore interface {
	SaveConfiguration(ctx context.Context, cfg models.AlertConfiguration) error
	GetConfiguration(ctx context.Context, id string) (models.AlertConfiguration, error)
	ListConfigurations(ctx context.Context) ([]models.AlertConfiguration, error)
	DeleteConfiguration(ctx context.Context, id string) error
}

// AlertStore persists alerts and their lifecycle updates.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
}

// JobStore persists job definitions.
type JobStore interface {
	SaveJob(ctx context.Context, job models.JobDefinition) error
	GetJob(ctx context.Context, id string) (models.JobDefinition, error)
	ListJobs(ctx context.Context) ([]models.JobDefinition, error)
	DeleteJob(ctx context.Context, id string) error
}

// ExecutionStore persists job execution records with bounded per-job
// retention.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec models.JobExecution) error
	ListExecutions(ctx context.Context, jobID string, limit int) ([]models.JobExecution, error)
}

// Store aggregates every persistence contract the engine needs.
type Store interface {
	ConfigurationStore
	AlertStore
	JobStore
	ExecutionStore
}
