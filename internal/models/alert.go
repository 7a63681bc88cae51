package models

import "time"

// AlertType mirrors the analysis that produced the triggering signal.
type AlertType string

const (
	AlertAnomaly AlertType = "anomaly"
	AlertTrend   AlertType = "trend"
	AlertSLA     AlertType = "sla"
	AlertCost    AlertType = "cost"
)

// ChannelType enumerates supported notification channels.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelChat    ChannelType = "chat"
	ChannelWebhook ChannelType = "webhook"
	ChannelSMS     ChannelType = "sms"
	ChannelInApp   ChannelType = "inapp"
)

// RetryPolicy bounds channel delivery retries.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"maxAttempts"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initialBackoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"maxBackoff"`
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attemptTimeout"`
}

// ChannelConfig describes one delivery target attached to a configuration.
type ChannelConfig struct {
	ID       string            `json:"id"`
	Type     ChannelType       `json:"type"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings,omitempty"`
	Filters  AlertFilters      `json:"filters"`
	Retry    RetryPolicy       `json:"retry"`
}

// AlertFilters scope a configuration or channel to matching contexts. Empty
// fields match everything.
type AlertFilters struct {
	PipelineIDs  []string          `json:"pipeline_ids,omitempty"`
	Environments []string          `json:"environments,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// EscalationStage widens notification after a cumulative delay from creation.
type EscalationStage struct {
	DelayMinutes int             `json:"delay_minutes" yaml:"delayMinutes"`
	Channels     []ChannelConfig `json:"channels,omitempty"`
	NotifyRoles  []string        `json:"notify_roles,omitempty"`
	NotifyUsers  []string        `json:"notify_users,omitempty"`
	RequiresAck  bool            `json:"requires_ack"`
}

// EscalationPolicy drives time-based widening for unacknowledged alerts.
type EscalationPolicy struct {
	Enabled                   bool              `json:"enabled"`
	Stages                    []EscalationStage `json:"stages,omitempty"`
	MaxEscalations            int               `json:"max_escalations"`
	AutoResolve               bool              `json:"auto_resolve"`
	AutoResolveTimeoutMinutes int               `json:"auto_resolve_timeout_minutes"`
}

// AlertThresholds gate matching per alert type. Only the fields relevant to
// the configuration's type are consulted.
type AlertThresholds struct {
	// Anomaly: minimum severity that triggers.
	MinSeverity Severity `json:"min_severity,omitempty"`
	// Trend: direction that triggers and minimum absolute change rate.
	TrendDirection TrendDirection `json:"trend_direction,omitempty"`
	MinChangeRate  float64        `json:"min_change_rate,omitempty"`
	// SLA: direction must be stated explicitly alongside the job target.
	SLADirection SLADirection `json:"sla_direction,omitempty"`
	// Cost: efficiency floor and absolute budget ceiling.
	MinEfficiencyScore float64 `json:"min_efficiency_score,omitempty"`
	MaxTotalCost       float64 `json:"max_total_cost,omitempty"`
}

// RateLimit caps alert creation per configuration.
type RateLimit struct {
	MaxAlertsPerHour     int `json:"max_alerts_per_hour" yaml:"maxAlertsPerHour"`
	MaxAlertsPerDay      int `json:"max_alerts_per_day" yaml:"maxAlertsPerDay"`
	DeduplicationMinutes int `json:"deduplication_minutes" yaml:"deduplicationMinutes"`
	CooldownMinutes      int `json:"cooldown_minutes" yaml:"cooldownMinutes"`
}

// AlertConfiguration is an operator-owned matching rule. Read-only during
// matching; create/update is rare and serialized by the registry.
type AlertConfiguration struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       AlertType        `json:"type"`
	Severity   Severity         `json:"severity"`
	Enabled    bool             `json:"enabled"`
	Thresholds AlertThresholds  `json:"thresholds"`
	Channels   []ChannelConfig  `json:"channels"`
	Escalation EscalationPolicy `json:"escalation"`
	Filters    AlertFilters     `json:"filters"`
	RateLimit  RateLimit        `json:"rate_limit"`
	CreatedAt  time.Time        `json:"created_at"`
}

// AlertStatus tracks the alert lifecycle; resolved is terminal.
type AlertStatus string

const (
	AlertTriggered    AlertStatus = "triggered"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertEscalating   AlertStatus = "escalating"
	AlertResolved     AlertStatus = "resolved"
)

// AlertDetails captures the triggering measurement.
type AlertDetails struct {
	TriggerValue float64 `json:"trigger_value"`
	Threshold    float64 `json:"threshold"`
	Metric       string  `json:"metric"`
	PipelineID   string  `json:"pipeline_id,omitempty"`
	Environment  string  `json:"environment,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// AlertEvent is one history entry on an alert.
type AlertEvent struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor,omitempty"`
	Comment string    `json:"comment,omitempty"`
}

// Resolution records how an alert was closed.
type Resolution struct {
	Type         string   `json:"type"`
	RootCause    string   `json:"root_cause,omitempty"`
	ActionsTaken []string `json:"actions_taken,omitempty"`
}

// Alert is a stateful record owned by the alert engine. Re-opening a resolved
// alert is not supported; a later trigger creates a new id.
type Alert struct {
	ID              string       `json:"id"`
	ConfigurationID string       `json:"configuration_id"`
	Type            AlertType    `json:"type"`
	Severity        Severity     `json:"severity"`
	Status          AlertStatus  `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	AcknowledgedAt  time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string       `json:"acknowledged_by,omitempty"`
	ResolvedAt      time.Time    `json:"resolved_at,omitempty"`
	Resolution      *Resolution  `json:"resolution,omitempty"`
	EscalationStage int          `json:"escalation_stage"`
	Details         AlertDetails `json:"details"`
	History         []AlertEvent `json:"history,omitempty"`
}

// AlertContext describes the environment a signal originated from; matched
// against configuration and channel filters.
type AlertContext struct {
	PipelineID  string            `json:"pipeline_id,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// AlertFilter narrows active/history queries.
type AlertFilter struct {
	ConfigurationID string      `json:"configuration_id,omitempty"`
	PipelineID      string      `json:"pipeline_id,omitempty"`
	Type            AlertType   `json:"type,omitempty"`
	Status          AlertStatus `json:"status,omitempty"`
	Since           time.Time   `json:"since,omitempty"`
	Limit           int         `json:"limit,omitempty"`
}

// AlertMetrics is the inspection snapshot exposed upward.
type AlertMetrics struct {
	ConfigurationsTotal int              `json:"configurations_total"`
	ActiveAlerts        int              `json:"active_alerts"`
	CreatedTotal        int64            `json:"created_total"`
	SuppressedTotal     int64            `json:"suppressed_total"`
	SuppressedByReason  map[string]int64 `json:"suppressed_by_reason,omitempty"`
	EscalationsTotal    int64            `json:"escalations_total"`
	DispatchFailures    int64            `json:"dispatch_failures"`
}

// AlertPattern summarises recurring alerts for one pipeline/metric pair.
type AlertPattern struct {
	PipelineID  string    `json:"pipeline_id"`
	Metric      string    `json:"metric"`
	Type        AlertType `json:"type"`
	TopSeverity Severity  `json:"top_severity"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"last_seen"`
}
