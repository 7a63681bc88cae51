package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// Sink abstracts persistence for mined patterns.
type Sink interface {
	StorePatterns(ctx context.Context, patterns []models.AlertPattern) error
}

// Miner aggregates alert history into recurring per-pipeline patterns.
type Miner struct {
	sink   Sink
	logger *slog.Logger

	// MinOccurrences filters out one-off alerts; defaults to 2.
	MinOccurrences int
}

// NewMiner constructs a Miner; sink may be nil for dry runs.
func NewMiner(logger *slog.Logger, sink Sink) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{sink: sink, logger: logger, MinOccurrences: 2}
}

// Mine groups alerts by pipeline, metric and type and returns the groups
// that recur, most frequent first.
func (m *Miner) Mine(ctx context.Context, alerts []models.Alert) ([]models.AlertPattern, error) {
	if len(alerts) == 0 {
		return nil, nil
	}
	min := m.MinOccurrences
	if min <= 0 {
		min = 2
	}

	groups := make(map[groupKey]*aggregate)
	for _, alert := range alerts {
		key := groupKey{
			pipelineID: alert.Details.PipelineID,
			metric:     alert.Details.Metric,
			alertType:  alert.Type,
		}
		agg, ok := groups[key]
		if !ok {
			agg = &aggregate{}
			groups[key] = agg
		}
		agg.count++
		if alert.Severity.Rank() > agg.topSeverity.Rank() {
			agg.topSeverity = alert.Severity
		}
		if alert.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = alert.CreatedAt
		}
	}

	patterns := make([]models.AlertPattern, 0, len(groups))
	for key, agg := range groups {
		if agg.count < min {
			continue
		}
		patterns = append(patterns, models.AlertPattern{
			PipelineID:  key.pipelineID,
			Metric:      key.metric,
			Type:        key.alertType,
			TopSeverity: agg.topSeverity,
			Occurrences: agg.count,
			LastSeen:    agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].LastSeen.After(patterns[j].LastSeen)
	})

	if m.sink != nil && len(patterns) > 0 {
		if err := m.sink.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern sink failed", "error", err)
		}
	}
	return patterns, nil
}

type groupKey struct {
	pipelineID string
	metric     string
	alertType  models.AlertType
}

type aggregate struct {
	count       int
	topSeverity models.Severity
	lastSeen    time.Time
}
