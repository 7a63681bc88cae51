package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/metrics"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

// Sender delivers an alert through one channel type. Implementations for
// real transports are provided by the embedding service; the engine ships
// a slog-backed default.
type Sender interface {
	Send(ctx context.Context, channel models.ChannelConfig, alert models.Alert) error
}

// LogSender writes deliveries to the structured log. It is the default
// binding for every channel type until a real transport is registered.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, channel models.ChannelConfig, alert models.Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("alert notification",
		"channel_id", channel.ID, "channel_type", channel.Type,
		"alert_id", alert.ID, "severity", alert.Severity, "status", alert.Status,
		"metric", alert.Details.Metric, "pipeline_id", alert.Details.PipelineID,
		"message", alert.Details.Message)
	return nil
}

// Dispatcher fans an alert out to its channels with bounded per-channel
// retries. One channel failing never blocks the others.
type Dispatcher struct {
	senders  map[models.ChannelType]Sender
	fallback Sender
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher with the slog sender as fallback for
// unregistered channel types.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders:  make(map[models.ChannelType]Sender),
		fallback: LogSender{Logger: logger},
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RegisterSender binds a sender to a channel type, replacing the default.
func (d *Dispatcher) RegisterSender(channelType models.ChannelType, sender Sender) {
	d.senders[channelType] = sender
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch delivers the alert to every enabled channel whose filters
// accept the context. It returns the number of channels that exhausted
// their retries.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []models.ChannelConfig, alert models.Alert, alertCtx models.AlertContext) int {
	failed := 0
	for _, channel := range channels {
		if !channel.Enabled {
			continue
		}
		if !matchesFilters(channel.Filters, alertCtx) {
			continue
		}
		if err := d.deliver(ctx, channel, alert); err != nil {
			failed++
			d.logger.Error("channel delivery exhausted retries",
				"channel_id", channel.ID, "channel_type", channel.Type,
				"alert_id", alert.ID, "error", err)
		}
	}
	return failed
}

// deliver runs the channel's retry policy: bounded attempts, exponential
// backoff capped at the policy maximum and a per-attempt timeout.
func (d *Dispatcher) deliver(ctx context.Context, channel models.ChannelConfig, alert models.Alert) error {
	policy := normalizeRetryPolicy(channel.Retry)
	sender, ok := d.senders[channel.Type]
	if !ok {
		sender = d.fallback
	}

	var lastErr error
	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		started := time.Now()
		err := d.attempt(ctx, sender, channel, alert, policy.AttemptTimeout)
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.ObserveDispatch(string(channel.Type), time.Since(started), outcome)

		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < policy.MaxAttempts {
			if d.sleep(ctx, backoff) != nil {
				break
			}
			backoff *= 2
			if backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}
	return utils.NewAppError("alerting.Dispatch",
		fmt.Sprintf("channel %s (%s): %v", channel.ID, channel.Type, lastErr), utils.ErrDeliveryFailed)
}

func (d *Dispatcher) attempt(ctx context.Context, sender Sender, channel models.ChannelConfig, alert models.Alert, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sender.Send(attemptCtx, channel, alert)
}

func normalizeRetryPolicy(policy models.RetryPolicy) models.RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 500 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 30 * time.Second
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = 10 * time.Second
	}
	return policy
}
