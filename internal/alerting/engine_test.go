package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/cache"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/store"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *time.Time) {
	t.Helper()
	mem := store.NewMemory(0)
	e := NewEngine(mem, NewDispatcher(testLogger()), nil, testLogger(), Options{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	e.now = func() time.Time { return *clock }
	return e, mem, clock
}

func anomalyConfig(rate models.RateLimit) models.AlertConfiguration {
	return models.AlertConfiguration{
		Name:     "slow builds",
		Type:     models.AlertAnomaly,
		Severity: models.SeverityHigh,
		Enabled:  true,
		Thresholds: models.AlertThresholds{
			MinSeverity: models.SeverityMedium,
		},
		Channels: []models.ChannelConfig{{
			ID:      "chat-1",
			Type:    models.ChannelChat,
			Enabled: true,
		}},
		RateLimit: rate,
	}
}

func anomalyResult(severity models.Severity, value float64) models.AnalysisResult {
	return models.AnalysisResult{
		PipelineID: "pipe-1",
		Metric:     models.MetricDurationMinutes,
		Anomalies: []models.AnomalyResult{{
			Timestamp:    time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
			ActualValue:  value,
			ExpectedLow:  10,
			ExpectedHigh: 14,
			Method:       models.MethodZScore,
			Severity:     severity,
			Confidence:   0.9,
		}},
	}
}

func TestCreateConfigurationValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  models.AlertConfiguration
	}{
		{"empty name", models.AlertConfiguration{Type: models.AlertAnomaly, Channels: []models.ChannelConfig{{Type: models.ChannelChat}}}},
		{"no channels", models.AlertConfiguration{Name: "c", Type: models.AlertAnomaly}},
		{"bad channel type", models.AlertConfiguration{Name: "c", Type: models.AlertAnomaly, Channels: []models.ChannelConfig{{Type: "pager"}}}},
		{"sla missing direction", models.AlertConfiguration{Name: "c", Type: models.AlertSLA, Channels: []models.ChannelConfig{{Type: models.ChannelChat}}}},
		{"escalation without stages", models.AlertConfiguration{
			Name: "c", Type: models.AlertAnomaly,
			Channels:   []models.ChannelConfig{{Type: models.ChannelChat}},
			Escalation: models.EscalationPolicy{Enabled: true},
		}},
	}
	for _, tc := range cases {
		if _, err := e.CreateConfiguration(ctx, tc.cfg); !errors.Is(err, utils.ErrConfigurationInvalid) {
			t.Fatalf("%s: expected ErrConfigurationInvalid, got %v", tc.name, err)
		}
	}
}

func TestRateLimitSuppressesSecondTriggerWithinHour(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	cfg, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{MaxAlertsPerHour: 1}))
	if err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	alertCtx := models.AlertContext{PipelineID: "pipe-1"}
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), alertCtx); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	*clock = clock.Add(10 * time.Minute)
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 55), alertCtx); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{ConfigurationID: cfg.ID})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("rate limit produced %d alerts, want exactly 1", len(active))
	}

	m, err := e.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.CreatedTotal != 1 || m.SuppressedTotal != 1 || m.SuppressedByReason["rate_limit"] != 1 {
		t.Fatalf("suppression not reflected in metrics: %+v", m)
	}
}

func TestDeduplicationCoalescesIntoOpenAlert(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{DeduplicationMinutes: 30})); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	alertCtx := models.AlertContext{PipelineID: "pipe-1"}
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), alertCtx); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	*clock = clock.Add(5 * time.Minute)
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 60), alertCtx); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("dedup produced %d alerts, want 1", len(active))
	}
	var coalesced bool
	for _, event := range active[0].History {
		if event.Kind == "coalesced" {
			coalesced = true
		}
	}
	if !coalesced {
		t.Fatalf("open alert history missing coalesced event: %+v", active[0].History)
	}
}

func TestCooldownAfterResolveSuppressesRetrigger(t *testing.T) {
	e, _, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{CooldownMinutes: 15})); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	alertCtx := models.AlertContext{PipelineID: "pipe-1"}
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), alertCtx); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	active, _ := e.GetActiveAlerts(ctx, models.AlertFilter{})
	if len(active) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(active))
	}
	firstID := active[0].ID

	*clock = clock.Add(20 * time.Minute)
	if err := e.ResolveAlert(ctx, firstID, "oncall", models.Resolution{Type: "fixed"}, "root cause found"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Within the post-resolve cooldown: suppressed.
	*clock = clock.Add(5 * time.Minute)
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 52), alertCtx); err != nil {
		t.Fatalf("evaluate during cooldown: %v", err)
	}
	if active, _ = e.GetActiveAlerts(ctx, models.AlertFilter{}); len(active) != 0 {
		t.Fatalf("cooldown should suppress re-trigger, got %d active alerts", len(active))
	}

	// After the cooldown: a new alert with a new id.
	*clock = clock.Add(15 * time.Minute)
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 52), alertCtx); err != nil {
		t.Fatalf("evaluate after cooldown: %v", err)
	}
	active, _ = e.GetActiveAlerts(ctx, models.AlertFilter{})
	if len(active) != 1 || active[0].ID == firstID {
		t.Fatalf("expected a fresh alert after cooldown: %+v", active)
	}
}

func TestEvaluateRespectsThresholdGate(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{})); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	// Low severity is below the configured medium minimum.
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityLow, 16), models.AlertContext{PipelineID: "pipe-1"}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	active, _ := e.GetActiveAlerts(ctx, models.AlertFilter{})
	if len(active) != 0 {
		t.Fatalf("below-threshold signal should not alert, got %d", len(active))
	}
}

func TestEvaluateRespectsConfigFilters(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	cfg := anomalyConfig(models.RateLimit{})
	cfg.Filters = models.AlertFilters{Environments: []string{"production"}}
	if _, err := e.CreateConfiguration(ctx, cfg); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	staging := models.AlertContext{PipelineID: "pipe-1", Environment: "staging"}
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), staging); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if active, _ := e.GetActiveAlerts(ctx, models.AlertFilter{}); len(active) != 0 {
		t.Fatalf("staging context should not match a production-only filter")
	}

	production := models.AlertContext{PipelineID: "pipe-1", Environment: "production"}
	if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), production); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if active, _ := e.GetActiveAlerts(ctx, models.AlertFilter{}); len(active) != 1 {
		t.Fatalf("production context should match")
	}
}

func TestTriggerAlertSurface(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{CooldownMinutes: 10})); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	details := models.AlertDetails{TriggerValue: 120, Metric: models.MetricDurationMinutes, PipelineID: "pipe-1", Message: "manual trigger"}
	id, err := e.TriggerAlert(ctx, models.AlertAnomaly, details, models.AlertContext{PipelineID: "pipe-1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a created alert id")
	}

	// Same key inside the cooldown: suppressed, empty id, nil error.
	suppressedID, err := e.TriggerAlert(ctx, models.AlertAnomaly, details, models.AlertContext{PipelineID: "pipe-1"})
	if err != nil {
		t.Fatalf("suppressed trigger should not error: %v", err)
	}
	if suppressedID != "" {
		t.Fatalf("suppressed trigger returned id %q", suppressedID)
	}

	if _, err := e.TriggerAlert(ctx, models.AlertCost, details, models.AlertContext{}); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("no matching configuration should be ErrNotFound, got %v", err)
	}
}

// slowSaveStore widens the window between the dedup check and the alert
// write so concurrent triggers overlap.
type slowSaveStore struct {
	*store.Memory
	delay time.Duration
}

func (s *slowSaveStore) SaveAlert(ctx context.Context, alert models.Alert) error {
	time.Sleep(s.delay)
	return s.Memory.SaveAlert(ctx, alert)
}

func TestConcurrentTriggersCoalesceIntoOneAlert(t *testing.T) {
	st := &slowSaveStore{Memory: store.NewMemory(0), delay: 20 * time.Millisecond}
	e := NewEngine(st, NewDispatcher(testLogger()), nil, testLogger(), Options{})
	ctx := context.Background()

	cfg, err := e.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{DeduplicationMinutes: 30}))
	if err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), models.AlertContext{PipelineID: "pipe-1"}); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	wg.Wait()

	active, err := e.GetActiveAlerts(ctx, models.AlertFilter{ConfigurationID: cfg.ID})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("concurrent triggers opened %d alerts, want exactly 1", len(active))
	}
	// One creation plus three coalesced events on the surviving alert.
	if len(active[0].History) != 4 {
		t.Fatalf("expected 1 trigger + 3 coalesce events, got history %+v", active[0].History)
	}

	m, err := e.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.CreatedTotal != 1 || m.SuppressedByReason["deduplicated"] != 3 {
		t.Fatalf("suppression accounting wrong: %+v", m)
	}
}

// fakeClaims is a shared claim table standing in for the cache two engine
// instances would both talk to.
type fakeClaims struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeClaims() *fakeClaims { return &fakeClaims{held: make(map[string]bool)} }

func (f *fakeClaims) Get(context.Context, string) ([]byte, error) {
	return nil, cache.ErrCacheMiss
}

func (f *fakeClaims) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (f *fakeClaims) SetNX(_ context.Context, key string, _ []byte, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeClaims) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func (f *fakeClaims) Close() error { return nil }

func TestSharedClaimSuppressesSiblingInstance(t *testing.T) {
	mem := store.NewMemory(0)
	claims := newFakeClaims()
	a := NewEngine(mem, NewDispatcher(testLogger()), claims, testLogger(), Options{})
	b := NewEngine(mem, NewDispatcher(testLogger()), claims, testLogger(), Options{})
	ctx := context.Background()

	cfg, err := a.CreateConfiguration(ctx, anomalyConfig(models.RateLimit{DeduplicationMinutes: 30}))
	if err != nil {
		t.Fatalf("create configuration: %v", err)
	}
	if _, err := b.CreateConfiguration(ctx, cfg); err != nil {
		t.Fatalf("register configuration on sibling: %v", err)
	}

	alertCtx := models.AlertContext{PipelineID: "pipe-1"}
	if err := a.Evaluate(ctx, anomalyResult(models.SeverityHigh, 50), alertCtx); err != nil {
		t.Fatalf("first instance evaluate: %v", err)
	}
	if err := b.Evaluate(ctx, anomalyResult(models.SeverityHigh, 55), alertCtx); err != nil {
		t.Fatalf("second instance evaluate: %v", err)
	}

	active, err := a.GetActiveAlerts(ctx, models.AlertFilter{ConfigurationID: cfg.ID})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("sibling instances opened %d alerts, want exactly 1", len(active))
	}
	mb, err := b.Metrics(ctx)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if mb.SuppressedByReason["deduplicated"] != 1 {
		t.Fatalf("sibling suppression missing: %+v", mb)
	}

	// Resolution releases the claim so a later trigger can open a new alert.
	if err := a.ResolveAlert(ctx, active[0].ID, "oncall", models.Resolution{Type: "fixed"}, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := b.Evaluate(ctx, anomalyResult(models.SeverityHigh, 60), alertCtx); err != nil {
		t.Fatalf("post-resolve evaluate: %v", err)
	}
	active, err = b.GetActiveAlerts(ctx, models.AlertFilter{ConfigurationID: cfg.ID})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("released claim should allow a new alert, got %d active", len(active))
	}
}
