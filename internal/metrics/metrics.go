package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels firings where every target completed.
	OutcomeSuccess = "success"
	// OutcomeError labels firings that failed or exhausted retries.
	OutcomeError = "error"
)

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job firings, partitioned by job type and outcome.",
		},
		[]string{"job_type", "outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulse_analytics",
			Name:      "job_seconds",
			Help:      "Job firing latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_type"},
	)

	queueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "queue_drops_total",
			Help:      "Firings dropped because the scheduler queue was full.",
		},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "alerts_created_total",
			Help:      "Alerts created, partitioned by alert type and severity.",
		},
		[]string{"type", "severity"},
	)

	alertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "alerts_suppressed_total",
			Help:      "Alert signals suppressed before creation, partitioned by reason.",
		},
		[]string{"reason"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "escalations_total",
			Help:      "Escalation stage advances across all alerts.",
		},
	)

	dispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_analytics",
			Name:      "dispatch_attempts_total",
			Help:      "Channel delivery attempts, partitioned by channel type and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	dispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulse_analytics",
			Name:      "dispatch_seconds",
			Help:      "Channel delivery latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		jobRunsTotal,
		jobDurationSeconds,
		queueDropsTotal,
		alertsCreatedTotal,
		alertsSuppressedTotal,
		escalationsTotal,
		dispatchAttemptsTotal,
		dispatchDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveJobRun records a firing duration and outcome.
func ObserveJobRun(jobType string, duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	jobRunsTotal.WithLabelValues(jobType, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveQueueDrop counts a firing dropped at the queue.
func ObserveQueueDrop() {
	queueDropsTotal.Inc()
}

// ObserveAlertCreated counts a newly created alert.
func ObserveAlertCreated(alertType, severity string) {
	alertsCreatedTotal.WithLabelValues(alertType, severity).Inc()
}

// ObserveAlertSuppressed counts a signal suppressed before alert creation.
func ObserveAlertSuppressed(reason string) {
	alertsSuppressedTotal.WithLabelValues(reason).Inc()
}

// ObserveEscalation counts an escalation stage advance.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveDispatch records one delivery attempt against a channel.
func ObserveDispatch(channel string, duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	dispatchAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	dispatchDurationSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}
