package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/alerting"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/patterns"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// AlertService fronts the alert engine for the external API layer: input
// validation, latency tracking and pattern mining over alert history.
type AlertService struct {
	logger    *slog.Logger
	engine    *alerting.Engine
	miner     *patterns.Miner
	latencies *utils.LatencyTracker
}

// NewAlertService constructs the facade; miner may be nil to disable
// pattern queries.
func NewAlertService(logger *slog.Logger, engine *alerting.Engine, miner *patterns.Miner) *AlertService {
	return &AlertService{
		logger:    utils.ComponentLogger(logger, "alert-service"),
		engine:    engine,
		miner:     miner,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// CreateConfiguration validates and registers an alert configuration.
func (s *AlertService) CreateConfiguration(ctx context.Context, cfg models.AlertConfiguration) (models.AlertConfiguration, error) {
	start := time.Now()
	created, err := s.engine.CreateConfiguration(ctx, cfg)
	s.observe(start)
	if err != nil {
		s.logger.Error("create configuration failed", slog.String("name", cfg.Name), slog.Any("error", err))
		return models.AlertConfiguration{}, err
	}
	s.logger.Info("alert configuration created",
		slog.String("configuration_id", created.ID), slog.String("type", string(created.Type)))
	return created, nil
}

// GetConfiguration returns one configuration.
func (s *AlertService) GetConfiguration(ctx context.Context, id string) (models.AlertConfiguration, error) {
	if id == "" {
		return models.AlertConfiguration{}, utils.NewAppError("services.GetConfiguration", "configuration id is empty", utils.ErrConfigurationInvalid)
	}
	return s.engine.GetConfiguration(ctx, id)
}

// ListConfigurations returns every registered configuration.
func (s *AlertService) ListConfigurations(ctx context.Context) ([]models.AlertConfiguration, error) {
	return s.engine.ListConfigurations(ctx)
}

// DeleteConfiguration removes a configuration from matching.
func (s *AlertService) DeleteConfiguration(ctx context.Context, id string) error {
	if id == "" {
		return utils.NewAppError("services.DeleteConfiguration", "configuration id is empty", utils.ErrConfigurationInvalid)
	}
	if err := s.engine.DeleteConfiguration(ctx, id); err != nil {
		return err
	}
	s.logger.Info("alert configuration deleted", slog.String("configuration_id", id))
	return nil
}

// TriggerAlert runs an externally supplied signal through matching and
// suppression. An empty id with a nil error means every matching
// configuration suppressed it.
func (s *AlertService) TriggerAlert(ctx context.Context, alertType models.AlertType, details models.AlertDetails, alertCtx models.AlertContext) (string, error) {
	start := time.Now()
	id, err := s.engine.TriggerAlert(ctx, alertType, details, alertCtx)
	s.observe(start)
	if err != nil {
		s.logger.Warn("trigger rejected", slog.String("type", string(alertType)), slog.Any("error", err))
		return "", err
	}
	return id, nil
}

// AcknowledgeAlert records an operator acknowledgment.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, id, actor, comment string) error {
	if id == "" || actor == "" {
		return utils.NewAppError("services.AcknowledgeAlert", "alert id and actor are required", utils.ErrConfigurationInvalid)
	}
	return s.engine.AcknowledgeAlert(ctx, id, actor, comment)
}

// ResolveAlert closes an alert; resolution is terminal.
func (s *AlertService) ResolveAlert(ctx context.Context, id, actor string, resolution models.Resolution, comment string) error {
	if id == "" || actor == "" {
		return utils.NewAppError("services.ResolveAlert", "alert id and actor are required", utils.ErrConfigurationInvalid)
	}
	return s.engine.ResolveAlert(ctx, id, actor, resolution, comment)
}

// GetActiveAlerts returns unresolved alerts matching the filter.
func (s *AlertService) GetActiveAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return s.engine.GetActiveAlerts(ctx, filter)
}

// GetAlertHistory returns alerts in any state matching the filter.
func (s *AlertService) GetAlertHistory(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return s.engine.GetAlertHistory(ctx, filter)
}

// GetPatterns mines recurring patterns from the alert history matching the
// filter.
func (s *AlertService) GetPatterns(ctx context.Context, filter models.AlertFilter) ([]models.AlertPattern, error) {
	if s.miner == nil {
		return nil, utils.NewAppError("services.GetPatterns", "pattern mining not configured", utils.ErrNotFound)
	}
	history, err := s.engine.GetAlertHistory(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.miner.Mine(ctx, history)
}

// Metrics returns the alert engine inspection snapshot.
func (s *AlertService) Metrics(ctx context.Context) (models.AlertMetrics, error) {
	return s.engine.Metrics(ctx)
}

func (s *AlertService) observe(start time.Time) {
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("alert request latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}
