package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

func TestMemoryConfigurationRoundTrip(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	cfg := models.AlertConfiguration{ID: "cfg-1", Name: "slow builds", Type: models.AlertAnomaly, Enabled: true}
	if err := m.SaveConfiguration(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.GetConfiguration(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "slow builds" {
		t.Fatalf("unexpected configuration: %+v", got)
	}

	if _, err := m.GetConfiguration(ctx, "missing"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeleteConfiguration(ctx, "cfg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteConfiguration(ctx, "cfg-1"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestMemoryListAlertsFiltersAndOrders(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		alert := models.Alert{
			ID:              fmt.Sprintf("alert-%d", i),
			ConfigurationID: "cfg-1",
			Type:            models.AlertAnomaly,
			Status:          models.AlertTriggered,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			Details:         models.AlertDetails{PipelineID: "pipe-1"},
		}
		if i == 1 {
			alert.Status = models.AlertResolved
		}
		if err := m.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}

	open, err := m.ListAlerts(ctx, models.AlertFilter{PipelineID: "pipe-1", Status: models.AlertTriggered})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 triggered alerts, got %d", len(open))
	}
	if open[0].ID != "alert-2" {
		t.Fatalf("expected newest first, got %s", open[0].ID)
	}

	limited, err := m.ListAlerts(ctx, models.AlertFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "alert-2" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestMemoryExecutionRetentionBound(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		exec := models.JobExecution{
			ID:        fmt.Sprintf("exec-%d", i),
			JobID:     "job-1",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Status:    models.ExecutionSucceeded,
		}
		if err := m.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("save execution: %v", err)
		}
	}

	history, err := m.ListExecutions(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("retention not enforced: got %d records", len(history))
	}
	if history[0].ID != "exec-4" || history[2].ID != "exec-2" {
		t.Fatalf("unexpected retained window: %+v", history)
	}
}

func TestMemorySaveExecutionUpdatesInPlace(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	exec := models.JobExecution{ID: "exec-1", JobID: "job-1", Status: models.ExecutionRunning}
	if err := m.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("save: %v", err)
	}
	exec.Status = models.ExecutionSucceeded
	if err := m.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("update: %v", err)
	}

	history, err := m.ListExecutions(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.ExecutionSucceeded {
		t.Fatalf("update created a duplicate: %+v", history)
	}
}
