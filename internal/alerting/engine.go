// Package alerting matches analysis results against operator-owned alert
// configurations and drives the alert lifecycle: suppression, dispatch,
// escalation and resolution.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsestack/pulse-analytics/internal/cache"
	"github.com/pulsestack/pulse-analytics/internal/metrics"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/store"
	"github.com/pulsestack/pulse-analytics/internal/utils"
	pkgcache "github.com/pulsestack/pulse-analytics/pkg/cache"
)

// Store is the persistence slice the alert engine needs.
type Store interface {
	store.ConfigurationStore
	store.AlertStore
}

// Options tunes the engine's background escalation sweep.
type Options struct {
	SweepInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
}

// Engine owns alert configurations and alerts. The configuration registry
// is read-mostly; creation and deletion are rare and serialized.
type Engine struct {
	logger     *slog.Logger
	store      Store
	dispatcher *Dispatcher
	cache      cache.Provider
	limiter    *rateLimiter
	triggerMu  *keyMutex
	dedup      *pkgcache.TTLMap
	cooldown   *pkgcache.TTLMap
	opts       Options

	mu      sync.RWMutex
	configs map[string]models.AlertConfiguration

	statsMu          sync.Mutex
	created          int64
	suppressed       int64
	suppressedBy     map[string]int64
	escalations      int64
	dispatchFailures int64

	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine constructs a stopped engine; call Start to load persisted
// configurations and begin the escalation sweep. The cache provider backs
// cross-instance deduplication claims; a nil provider keeps claims local.
func NewEngine(st Store, dispatcher *Dispatcher, provider cache.Provider, logger *slog.Logger, opts Options) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(logger)
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	e := &Engine{
		logger:       logger,
		store:        st,
		dispatcher:   dispatcher,
		cache:        provider,
		limiter:      newRateLimiter(),
		triggerMu:    newKeyMutex(),
		opts:         opts,
		configs:      make(map[string]models.AlertConfiguration),
		suppressedBy: make(map[string]int64),
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	clock := func() time.Time { return e.now() }
	e.dedup = pkgcache.NewTTLMapWithClock(clock)
	e.cooldown = pkgcache.NewTTLMapWithClock(clock)
	return e
}

// Start loads persisted configurations into the registry and launches the
// escalation sweep loop.
func (e *Engine) Start(ctx context.Context) error {
	configs, err := e.store.ListConfigurations(ctx)
	if err != nil {
		return utils.NewAppError("alerting.Start", "loading configurations", err)
	}
	e.mu.Lock()
	for _, cfg := range configs {
		e.configs[cfg.ID] = cfg
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.sweepLoop()
	e.logger.Info("alert engine started", "configurations", len(configs), "sweep_interval", e.opts.SweepInterval)
	return nil
}

// Stop halts the escalation sweep.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.wg.Wait()
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.opts.SweepInterval)
			e.sweep(ctx)
			cancel()
		}
	}
}

// CreateConfiguration validates and persists a configuration, adding it
// to the matching registry. A missing ID is generated.
func (e *Engine) CreateConfiguration(ctx context.Context, cfg models.AlertConfiguration) (models.AlertConfiguration, error) {
	if err := validateConfiguration(cfg); err != nil {
		return models.AlertConfiguration{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = e.now()

	if err := e.store.SaveConfiguration(ctx, cfg); err != nil {
		return models.AlertConfiguration{}, utils.NewAppError("alerting.CreateConfiguration", "persisting configuration", err)
	}
	e.mu.Lock()
	e.configs[cfg.ID] = cfg
	e.mu.Unlock()

	e.logger.Info("alert configuration created", "configuration_id", cfg.ID, "type", cfg.Type, "name", cfg.Name)
	return cfg, nil
}

// GetConfiguration returns a configuration from the registry.
func (e *Engine) GetConfiguration(_ context.Context, id string) (models.AlertConfiguration, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[id]
	if !ok {
		return models.AlertConfiguration{}, utils.NewAppError("alerting.GetConfiguration", fmt.Sprintf("configuration %s", id), utils.ErrNotFound)
	}
	return cfg, nil
}

// ListConfigurations returns every registered configuration.
func (e *Engine) ListConfigurations(ctx context.Context) ([]models.AlertConfiguration, error) {
	return e.store.ListConfigurations(ctx)
}

// DeleteConfiguration removes a configuration from the registry and store.
func (e *Engine) DeleteConfiguration(ctx context.Context, id string) error {
	if err := e.store.DeleteConfiguration(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.configs, id)
	e.mu.Unlock()
	return nil
}

// Evaluate derives signals from an analysis result and triggers alerts
// for every matching configuration. It implements the scheduler's sink.
func (e *Engine) Evaluate(ctx context.Context, result models.AnalysisResult, alertCtx models.AlertContext) error {
	var errs []error
	for _, sig := range signalsFromResult(result) {
		for _, cfg := range e.matchingConfigs(sig.Type, alertCtx) {
			if !thresholdsBreached(cfg, sig, result) {
				continue
			}
			if _, _, err := e.trigger(ctx, cfg, sig, alertCtx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// TriggerAlert creates an alert for an externally asserted condition. It
// matches enabled configurations of the type whose filters accept the
// context; threshold gates are the caller's responsibility here. An empty
// alert ID with a nil error means every match was suppressed.
func (e *Engine) TriggerAlert(ctx context.Context, alertType models.AlertType, details models.AlertDetails, alertCtx models.AlertContext) (string, error) {
	configs := e.matchingConfigs(alertType, alertCtx)
	if len(configs) == 0 {
		return "", utils.NewAppError("alerting.TriggerAlert", fmt.Sprintf("no enabled configuration matches type %s", alertType), utils.ErrNotFound)
	}

	firstID := ""
	var errs []error
	for _, cfg := range configs {
		sig := signal{Type: alertType, Severity: cfg.Severity, Details: details}
		id, created, err := e.trigger(ctx, cfg, sig, alertCtx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if created && firstID == "" {
			firstID = id
		}
	}
	return firstID, errors.Join(errs...)
}

func (e *Engine) matchingConfigs(alertType models.AlertType, alertCtx models.AlertContext) []models.AlertConfiguration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []models.AlertConfiguration
	for _, cfg := range e.configs {
		if !cfg.Enabled || cfg.Type != alertType {
			continue
		}
		if !matchesFilters(cfg.Filters, alertCtx) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// trigger applies the suppression gates in order (dedup, cooldown, shared
// claim, rate limit) and, when all pass, creates the alert and dispatches
// its stage-one channels.
func (e *Engine) trigger(ctx context.Context, cfg models.AlertConfiguration, sig signal, alertCtx models.AlertContext) (string, bool, error) {
	key := dedupKey(cfg.ID, sig.Details.Metric, sig.Details.PipelineID)

	// The gates and the creation they guard must be one critical section
	// per key, or concurrent firings of the same signal race past the dedup
	// check and each open an alert.
	lock := e.triggerMu.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()

	// Dedup: coalesce into the open alert instead of duplicating it.
	if openID, ok := e.dedup.Get(key); ok {
		if alert, err := e.store.GetAlert(ctx, openID); err == nil && alert.Status != models.AlertResolved {
			alert.History = append(alert.History, models.AlertEvent{
				Time:    now,
				Kind:    "coalesced",
				Comment: fmt.Sprintf("trigger value %.2f", sig.Details.TriggerValue),
			})
			if err := e.store.SaveAlert(ctx, alert); err != nil {
				return "", false, utils.NewAppError("alerting.trigger", "coalescing into open alert", err)
			}
			e.suppress(cfg.ID, "deduplicated")
			return "", false, nil
		}
	}

	if _, ok := e.cooldown.Get(key); ok {
		e.suppress(cfg.ID, "cooldown")
		return "", false, nil
	}

	// Claim the key in the shared cache before consuming a rate-limit slot.
	// A sibling engine instance that already holds the claim owns the open
	// alert for this key. The claim is released whenever creation does not
	// follow, so a failed trigger never leaves the key claimed.
	claimed := false
	if cfg.RateLimit.DeduplicationMinutes > 0 {
		acquired, err := e.cache.SetNX(ctx, claimKey(key), []byte("1"), minutes(cfg.RateLimit.DeduplicationMinutes))
		if err != nil {
			e.logger.Warn("deduplication claim unavailable, deciding locally", "error", err)
		} else if !acquired {
			e.suppress(cfg.ID, "deduplicated")
			return "", false, nil
		} else {
			claimed = true
		}
	}
	releaseClaim := func() {
		if claimed {
			if err := e.cache.Del(ctx, claimKey(key)); err != nil {
				e.logger.Warn("releasing deduplication claim failed", "error", err)
			}
		}
	}

	if !e.limiter.allowAndRecord(cfg.ID, cfg.RateLimit, now) {
		releaseClaim()
		e.suppress(cfg.ID, "rate_limit")
		return "", false, nil
	}

	severity := sig.Severity
	if severity == "" {
		severity = cfg.Severity
	}
	details := sig.Details
	if details.Environment == "" {
		details.Environment = alertCtx.Environment
	}

	alert := models.Alert{
		ID:              uuid.NewString(),
		ConfigurationID: cfg.ID,
		Type:            cfg.Type,
		Severity:        severity,
		Status:          models.AlertTriggered,
		CreatedAt:       now,
		Details:         details,
		History: []models.AlertEvent{{
			Time: now,
			Kind: "triggered",
			Comment: fmt.Sprintf("%s on %s: value %.2f",
				cfg.Type, details.Metric, details.TriggerValue),
		}},
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		releaseClaim()
		return "", false, utils.NewAppError("alerting.trigger", "persisting alert", err)
	}

	if cfg.RateLimit.DeduplicationMinutes > 0 {
		e.dedup.Set(key, alert.ID, minutes(cfg.RateLimit.DeduplicationMinutes))
	}
	if cfg.RateLimit.CooldownMinutes > 0 {
		e.cooldown.SetNX(key, "created", minutes(cfg.RateLimit.CooldownMinutes))
	}

	e.statsMu.Lock()
	e.created++
	e.statsMu.Unlock()
	metrics.ObserveAlertCreated(string(alert.Type), string(alert.Severity))

	if failed := e.dispatcher.Dispatch(ctx, cfg.Channels, alert, alertCtx); failed > 0 {
		e.statsMu.Lock()
		e.dispatchFailures += int64(failed)
		e.statsMu.Unlock()
	}

	e.logger.Info("alert created",
		"alert_id", alert.ID, "configuration_id", cfg.ID, "type", alert.Type,
		"severity", alert.Severity, "metric", details.Metric, "pipeline_id", details.PipelineID)
	return alert.ID, true, nil
}

func (e *Engine) suppress(configID, reason string) {
	e.statsMu.Lock()
	e.suppressed++
	e.suppressedBy[reason]++
	e.statsMu.Unlock()
	metrics.ObserveAlertSuppressed(reason)
	e.logger.Debug("alert suppressed", "configuration_id", configID, "reason", reason)
}

// AcknowledgeAlert records the acknowledgment. The status moves to
// acknowledged unless the alert's current escalation stage does not
// require acknowledgment, in which case escalation continues until the
// alert is resolved.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id, actor, comment string) error {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert.Status == models.AlertResolved {
		return utils.NewAppError("alerting.AcknowledgeAlert", fmt.Sprintf("alert %s already resolved", id), utils.ErrNotFound)
	}

	now := e.now()
	alert.AcknowledgedAt = now
	alert.AcknowledgedBy = actor
	alert.History = append(alert.History, models.AlertEvent{Time: now, Kind: "acknowledged", Actor: actor, Comment: comment})

	if e.ackHaltsEscalation(ctx, alert) {
		alert.Status = models.AlertAcknowledged
	}
	return e.store.SaveAlert(ctx, alert)
}

func (e *Engine) ackHaltsEscalation(ctx context.Context, alert models.Alert) bool {
	cfg, err := e.GetConfiguration(ctx, alert.ConfigurationID)
	if err != nil || !cfg.Escalation.Enabled {
		return true
	}
	if alert.EscalationStage == 0 {
		return true
	}
	stageIdx := alert.EscalationStage - 1
	if stageIdx >= len(cfg.Escalation.Stages) {
		return true
	}
	return cfg.Escalation.Stages[stageIdx].RequiresAck
}

// ResolveAlert closes an alert. Resolution is terminal; a later trigger
// opens a new alert id, subject to the cooldown started here.
func (e *Engine) ResolveAlert(ctx context.Context, id, actor string, resolution models.Resolution, comment string) error {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert.Status == models.AlertResolved {
		return utils.NewAppError("alerting.ResolveAlert", fmt.Sprintf("alert %s already resolved", id), utils.ErrNotFound)
	}

	now := e.now()
	alert.Status = models.AlertResolved
	alert.ResolvedAt = now
	alert.Resolution = &resolution
	alert.History = append(alert.History, models.AlertEvent{Time: now, Kind: "resolved", Actor: actor, Comment: comment})
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return err
	}

	key := dedupKey(alert.ConfigurationID, alert.Details.Metric, alert.Details.PipelineID)
	e.dedup.Delete(key)
	if err := e.cache.Del(ctx, claimKey(key)); err != nil {
		e.logger.Warn("releasing deduplication claim failed", "alert_id", id, "error", err)
	}
	if cfg, err := e.GetConfiguration(ctx, alert.ConfigurationID); err == nil && cfg.RateLimit.CooldownMinutes > 0 {
		e.cooldown.Set(key, "resolved", minutes(cfg.RateLimit.CooldownMinutes))
	}
	e.logger.Info("alert resolved", "alert_id", id, "actor", actor, "resolution_type", resolution.Type)
	return nil
}

// GetActiveAlerts returns unresolved alerts matching the filter.
func (e *Engine) GetActiveAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	alerts, err := e.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	active := make([]models.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if alert.Status != models.AlertResolved {
			active = append(active, alert)
		}
	}
	return active, nil
}

// GetAlertHistory returns alerts matching the filter regardless of status.
func (e *Engine) GetAlertHistory(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	return e.store.ListAlerts(ctx, filter)
}

// Metrics snapshots the engine's counters.
func (e *Engine) Metrics(ctx context.Context) (models.AlertMetrics, error) {
	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{})
	if err != nil {
		return models.AlertMetrics{}, err
	}

	e.mu.RLock()
	configurations := len(e.configs)
	e.mu.RUnlock()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	byReason := make(map[string]int64, len(e.suppressedBy))
	for reason, n := range e.suppressedBy {
		byReason[reason] = n
	}
	return models.AlertMetrics{
		ConfigurationsTotal: configurations,
		ActiveAlerts:        len(active),
		CreatedTotal:        e.created,
		SuppressedTotal:     e.suppressed,
		SuppressedByReason:  byReason,
		EscalationsTotal:    e.escalations,
		DispatchFailures:    e.dispatchFailures,
	}, nil
}

// sweep advances escalation and auto-resolution for open alerts. Each
// alert's timers are independent; a sweep advances an alert at most one
// stage, keeping its stage sequence monotonic.
func (e *Engine) sweep(ctx context.Context) {
	alerts, err := e.GetActiveAlerts(ctx, models.AlertFilter{})
	if err != nil {
		e.logger.Warn("escalation sweep could not list alerts", "error", err)
		return
	}
	now := e.now()

	for _, alert := range alerts {
		cfg, err := e.GetConfiguration(ctx, alert.ConfigurationID)
		if err != nil {
			continue
		}
		policy := cfg.Escalation
		if !policy.Enabled {
			continue
		}

		if policy.AutoResolve && policy.AutoResolveTimeoutMinutes > 0 &&
			alert.AcknowledgedAt.IsZero() &&
			now.Sub(alert.CreatedAt) >= minutes(policy.AutoResolveTimeoutMinutes) {
			if err := e.ResolveAlert(ctx, alert.ID, "system", models.Resolution{Type: "auto"}, "auto-resolved after timeout"); err != nil {
				e.logger.Warn("auto-resolve failed", "alert_id", alert.ID, "error", err)
			}
			continue
		}

		if alert.Status == models.AlertAcknowledged {
			continue
		}
		e.escalate(ctx, cfg, alert, now)
	}
}

func (e *Engine) escalate(ctx context.Context, cfg models.AlertConfiguration, alert models.Alert, now time.Time) {
	policy := cfg.Escalation
	maxStages := len(policy.Stages)
	if policy.MaxEscalations > 0 && policy.MaxEscalations < maxStages {
		maxStages = policy.MaxEscalations
	}
	next := alert.EscalationStage
	if next >= maxStages {
		return
	}

	due := alert.CreatedAt
	for i := 0; i <= next; i++ {
		due = due.Add(minutes(policy.Stages[i].DelayMinutes))
	}
	if now.Before(due) {
		return
	}

	stage := policy.Stages[next]
	alert.EscalationStage = next + 1
	alert.Status = models.AlertEscalating
	alert.History = append(alert.History, models.AlertEvent{
		Time:    now,
		Kind:    "escalated",
		Comment: fmt.Sprintf("stage %d", alert.EscalationStage),
	})
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		e.logger.Warn("persisting escalation failed", "alert_id", alert.ID, "error", err)
		return
	}

	e.statsMu.Lock()
	e.escalations++
	e.statsMu.Unlock()
	metrics.ObserveEscalation()

	alertCtx := models.AlertContext{PipelineID: alert.Details.PipelineID, Environment: alert.Details.Environment}
	if failed := e.dispatcher.Dispatch(ctx, stage.Channels, alert, alertCtx); failed > 0 {
		e.statsMu.Lock()
		e.dispatchFailures += int64(failed)
		e.statsMu.Unlock()
	}
	if len(stage.NotifyRoles) > 0 || len(stage.NotifyUsers) > 0 {
		e.logger.Info("escalation notification",
			"alert_id", alert.ID, "stage", alert.EscalationStage,
			"roles", strings.Join(stage.NotifyRoles, ","), "users", strings.Join(stage.NotifyUsers, ","))
	}
	e.logger.Info("alert escalated", "alert_id", alert.ID, "stage", alert.EscalationStage)
}

func dedupKey(configID, metric, pipelineID string) string {
	return configID + "|" + metric + "|" + pipelineID
}

// claimKey namespaces a dedup key for the shared cache.
func claimKey(key string) string {
	return "alerts:dedup:" + key
}

func minutes(m int) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m) * time.Minute
}

// validateConfiguration rejects malformed configurations before they can
// enter the matching registry.
func validateConfiguration(cfg models.AlertConfiguration) error {
	op := "alerting.CreateConfiguration"
	if strings.TrimSpace(cfg.Name) == "" {
		return utils.NewAppError(op, "configuration name is empty", utils.ErrConfigurationInvalid)
	}
	switch cfg.Type {
	case models.AlertAnomaly, models.AlertTrend, models.AlertSLA, models.AlertCost:
	default:
		return utils.NewAppError(op, fmt.Sprintf("unknown alert type %q", cfg.Type), utils.ErrConfigurationInvalid)
	}
	if len(cfg.Channels) == 0 {
		return utils.NewAppError(op, "at least one channel is required", utils.ErrConfigurationInvalid)
	}
	for _, channel := range cfg.Channels {
		switch channel.Type {
		case models.ChannelEmail, models.ChannelChat, models.ChannelWebhook, models.ChannelSMS, models.ChannelInApp:
		default:
			return utils.NewAppError(op, fmt.Sprintf("channel %s has unknown type %q", channel.ID, channel.Type), utils.ErrConfigurationInvalid)
		}
	}
	if cfg.Type == models.AlertSLA &&
		cfg.Thresholds.SLADirection != models.LowerIsViolation &&
		cfg.Thresholds.SLADirection != models.HigherIsViolation {
		return utils.NewAppError(op, "sla configurations must state the violation direction", utils.ErrConfigurationInvalid)
	}
	if cfg.Escalation.Enabled {
		if len(cfg.Escalation.Stages) == 0 {
			return utils.NewAppError(op, "enabled escalation requires at least one stage", utils.ErrConfigurationInvalid)
		}
		for i, stage := range cfg.Escalation.Stages {
			if stage.DelayMinutes <= 0 {
				return utils.NewAppError(op, fmt.Sprintf("escalation stage %d delay must be positive", i), utils.ErrConfigurationInvalid)
			}
		}
	}
	if cfg.RateLimit.MaxAlertsPerHour < 0 || cfg.RateLimit.MaxAlertsPerDay < 0 ||
		cfg.RateLimit.DeduplicationMinutes < 0 || cfg.RateLimit.CooldownMinutes < 0 {
		return utils.NewAppError(op, "rate limit values must be non-negative", utils.ErrConfigurationInvalid)
	}
	return nil
}
