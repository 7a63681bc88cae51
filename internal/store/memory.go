package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

const defaultExecutionRetention = 50

// Memory implements every store contract with mutex-guarded maps. It is
// the fallback persistence layer and the authoritative copy underneath
// Remote.
type Memory struct {
	mu             sync.RWMutex
	configurations map[string]models.AlertConfiguration
	alerts         map[string]models.Alert
	alertOrder     []string
	jobs           map[string]models.JobDefinition
	executions     map[string][]models.JobExecution
	retention      int
}

// NewMemory creates an empty in-memory store. Retention bounds how many
// execution records are kept per job; zero or negative uses the default.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = defaultExecutionRetention
	}
	return &Memory{
		configurations: make(map[string]models.AlertConfiguration),
		alerts:         make(map[string]models.Alert),
		jobs:           make(map[string]models.JobDefinition),
		executions:     make(map[string][]models.JobExecution),
		retention:      retention,
	}
}

func (m *Memory) SaveConfiguration(_ context.Context, cfg models.AlertConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configurations[cfg.ID] = cfg
	return nil
}

func (m *Memory) GetConfiguration(_ context.Context, id string) (models.AlertConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configurations[id]
	if !ok {
		return models.AlertConfiguration{}, utils.NewAppError("store.GetConfiguration", fmt.Sprintf("configuration %s", id), utils.ErrNotFound)
	}
	return cfg, nil
}

func (m *Memory) ListConfigurations(_ context.Context) ([]models.AlertConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AlertConfiguration, 0, len(m.configurations))
	for _, cfg := range m.configurations {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteConfiguration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configurations[id]; !ok {
		return utils.NewAppError("store.DeleteConfiguration", fmt.Sprintf("configuration %s", id), utils.ErrNotFound)
	}
	delete(m.configurations, id)
	return nil
}

func (m *Memory) SaveAlert(_ context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.ID]; !ok {
		m.alertOrder = append(m.alertOrder, alert.ID)
	}
	m.alerts[alert.ID] = alert
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, utils.NewAppError("store.GetAlert", fmt.Sprintf("alert %s", id), utils.ErrNotFound)
	}
	return alert, nil
}

// ListAlerts returns matching alerts newest first.
func (m *Memory) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Alert, 0)
	for i := len(m.alertOrder) - 1; i >= 0; i-- {
		alert := m.alerts[m.alertOrder[i]]
		if !matchesFilter(alert, filter) {
			continue
		}
		out = append(out, alert)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(alert models.Alert, filter models.AlertFilter) bool {
	if filter.ConfigurationID != "" && alert.ConfigurationID != filter.ConfigurationID {
		return false
	}
	if filter.PipelineID != "" && alert.Details.PipelineID != filter.PipelineID {
		return false
	}
	if filter.Type != "" && alert.Type != filter.Type {
		return false
	}
	if filter.Status != "" && alert.Status != filter.Status {
		return false
	}
	if !filter.Since.IsZero() && alert.CreatedAt.Before(filter.Since) {
		return false
	}
	return true
}

func (m *Memory) SaveJob(_ context.Context, job models.JobDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.JobDefinition{}, utils.NewAppError("store.GetJob", fmt.Sprintf("job %s", id), utils.ErrNotFound)
	}
	return job, nil
}

func (m *Memory) ListJobs(_ context.Context) ([]models.JobDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.JobDefinition, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return utils.NewAppError("store.DeleteJob", fmt.Sprintf("job %s", id), utils.ErrNotFound)
	}
	delete(m.jobs, id)
	delete(m.executions, id)
	return nil
}

// SaveExecution appends or updates an execution record, evicting the
// oldest when the per-job retention bound is exceeded.
func (m *Memory) SaveExecution(_ context.Context, exec models.JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.executions[exec.JobID]
	for i := range history {
		if history[i].ID == exec.ID {
			history[i] = exec
			return nil
		}
	}
	history = append(history, exec)
	if len(history) > m.retention {
		history = history[len(history)-m.retention:]
	}
	m.executions[exec.JobID] = history
	return nil
}

// ListExecutions returns the job's most recent executions, newest first.
func (m *Memory) ListExecutions(_ context.Context, jobID string, limit int) ([]models.JobExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.executions[jobID]
	out := make([]models.JobExecution, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
