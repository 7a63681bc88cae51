package patterns

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

func alertAt(pipelineID, metric string, alertType models.AlertType, severity models.Severity, created time.Time) models.Alert {
	return models.Alert{
		ID:        pipelineID + "-" + metric + "-" + created.Format(time.RFC3339),
		Type:      alertType,
		Severity:  severity,
		CreatedAt: created,
		Details:   models.AlertDetails{PipelineID: pipelineID, Metric: metric},
	}
}

func TestMineGroupsRecurringAlerts(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts := []models.Alert{
		alertAt("pipe-1", "duration_minutes", models.AlertAnomaly, models.SeverityMedium, base),
		alertAt("pipe-1", "duration_minutes", models.AlertAnomaly, models.SeverityHigh, base.Add(2*time.Hour)),
		alertAt("pipe-1", "duration_minutes", models.AlertAnomaly, models.SeverityLow, base.Add(4*time.Hour)),
		alertAt("pipe-2", "success_rate", models.AlertSLA, models.SeverityCritical, base.Add(time.Hour)),
		alertAt("pipe-2", "success_rate", models.AlertSLA, models.SeverityMedium, base.Add(3*time.Hour)),
		// One-off, filtered by the occurrence floor.
		alertAt("pipe-3", "duration_minutes", models.AlertTrend, models.SeverityMedium, base),
	}

	m := NewMiner(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	patterns, err := m.Mine(context.Background(), alerts)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d: %+v", len(patterns), patterns)
	}

	first := patterns[0]
	if first.PipelineID != "pipe-1" || first.Occurrences != 3 {
		t.Fatalf("most frequent group should sort first: %+v", first)
	}
	if first.TopSeverity != models.SeverityHigh {
		t.Fatalf("top severity should be the group maximum, got %s", first.TopSeverity)
	}
	if !first.LastSeen.Equal(base.Add(4 * time.Hour)) {
		t.Fatalf("last seen should be the newest alert, got %v", first.LastSeen)
	}

	second := patterns[1]
	if second.PipelineID != "pipe-2" || second.TopSeverity != models.SeverityCritical {
		t.Fatalf("unexpected second pattern: %+v", second)
	}
}

func TestMineEmptyHistory(t *testing.T) {
	m := NewMiner(nil, nil)
	patterns, err := m.Mine(context.Background(), nil)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if patterns != nil {
		t.Fatalf("expected no patterns, got %+v", patterns)
	}
}

func TestMineForwardsToSink(t *testing.T) {
	var stored []models.AlertPattern
	sink := SinkFunc(func(_ context.Context, patterns []models.AlertPattern) error {
		stored = patterns
		return nil
	})

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts := []models.Alert{
		alertAt("pipe-1", "duration_minutes", models.AlertAnomaly, models.SeverityMedium, base),
		alertAt("pipe-1", "duration_minutes", models.AlertAnomaly, models.SeverityMedium, base.Add(time.Hour)),
	}
	m := NewMiner(slog.New(slog.NewTextHandler(io.Discard, nil)), sink)
	if _, err := m.Mine(context.Background(), alerts); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if len(stored) != 1 || stored[0].Occurrences != 2 {
		t.Fatalf("sink should receive the mined patterns: %+v", stored)
	}
}
