package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AnomalyMethod enumerates detection strategies.
type AnomalyMethod string

const (
	MethodZScore     AnomalyMethod = "zscore"
	MethodPercentile AnomalyMethod = "percentile"
	MethodIQR        AnomalyMethod = "iqr"
	MethodAll        AnomalyMethod = "all"
)

// AnomalyResult describes one flagged data point.
type AnomalyResult struct {
	Timestamp     time.Time     `json:"timestamp"`
	ActualValue   float64       `json:"actual_value"`
	ExpectedValue float64       `json:"expected_value"`
	ExpectedLow   float64       `json:"expected_low"`
	ExpectedHigh  float64       `json:"expected_high"`
	Method        AnomalyMethod `json:"method"`
	Severity      Severity      `json:"severity"`
	Confidence    float64       `json:"confidence"`
}

// TrendDirection classifies a regression slope.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// TrendPrediction holds forecast values for the fixed horizons.
type TrendPrediction struct {
	Next24h float64 `json:"next_24h"`
	Next7d  float64 `json:"next_7d"`
	Next30d float64 `json:"next_30d"`
}

// TrendResult summarises a least-squares fit over a series.
type TrendResult struct {
	Slope       float64         `json:"slope"`
	Intercept   float64         `json:"intercept"`
	Correlation float64         `json:"correlation"`
	RSquared    float64         `json:"r_squared"`
	Trend       TrendDirection  `json:"trend"`
	ChangeRate  float64         `json:"change_rate"`
	Volatility  float64         `json:"volatility"`
	Prediction  TrendPrediction `json:"prediction"`
}

// PerformanceBand labels a benchmark percentile.
type PerformanceBand string

const (
	PerformanceExcellent    PerformanceBand = "excellent"
	PerformanceGood         PerformanceBand = "good"
	PerformanceAverage      PerformanceBand = "average"
	PerformanceBelowAverage PerformanceBand = "below-average"
	PerformancePoor         PerformanceBand = "poor"
)

// HistoricalContext carries reference points from the benchmark history.
type HistoricalContext struct {
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
	Median float64 `json:"median"`
}

// BenchmarkResult compares a current value against history.
type BenchmarkResult struct {
	CurrentValue      float64           `json:"current_value"`
	Benchmark         float64           `json:"benchmark"`
	Percentile        float64           `json:"percentile"`
	Performance       PerformanceBand   `json:"performance"`
	HistoricalContext HistoricalContext `json:"historical_context"`
	DeviationPercent  float64           `json:"deviation_percent"`
}

// SLADirection states which side of the target counts as a breach. The
// direction is always explicit configuration, never inferred from metric names.
type SLADirection string

const (
	// LowerIsViolation: values below target breach (availability, success rate).
	LowerIsViolation SLADirection = "lower-is-violation"
	// HigherIsViolation: values above target breach (duration, error rate).
	HigherIsViolation SLADirection = "higher-is-violation"
)

// SLASeverity grades a breach by magnitude.
type SLASeverity string

const (
	SLAMinor    SLASeverity = "minor"
	SLAMajor    SLASeverity = "major"
	SLACritical SLASeverity = "critical"
)

// Remediation lists deterministic follow-up actions for an SLA breach.
type Remediation struct {
	ImmediateActions []string `json:"immediate_actions"`
	LongTermActions  []string `json:"long_term_actions"`
}

// SLAResult reports compliance of a current value against its target.
type SLAResult struct {
	Violated         bool        `json:"violated"`
	SLATarget        float64     `json:"sla_target"`
	ActualValue      float64     `json:"actual_value"`
	ViolationPercent float64     `json:"violation_percent"`
	Severity         SLASeverity `json:"severity,omitempty"`
	Remediation      Remediation `json:"remediation"`
}

// ResourceUsage carries utilization percentages per resource class.
type ResourceUsage struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Storage float64 `json:"storage"`
	Network float64 `json:"network"`
}

// OpportunityPriority orders cost optimizations.
type OpportunityPriority string

const (
	PriorityLow    OpportunityPriority = "low"
	PriorityMedium OpportunityPriority = "medium"
	PriorityHigh   OpportunityPriority = "high"
)

// CostOpportunity describes one optimization candidate.
type CostOpportunity struct {
	Type             string              `json:"type"`
	Description      string              `json:"description"`
	PotentialSavings float64             `json:"potential_savings"`
	Priority         OpportunityPriority `json:"priority"`
}

// CostEfficiency scores utilization against the target band.
type CostEfficiency struct {
	Score float64 `json:"score"`
}

// CostAnalysisResult reports execution cost and optimization opportunities.
// CostTrend is nil when no historical cost data was supplied.
type CostAnalysisResult struct {
	TotalCost           float64           `json:"total_cost"`
	CostPerMinute       float64           `json:"cost_per_minute"`
	ResourceUtilization ResourceUsage     `json:"resource_utilization"`
	Opportunities       []CostOpportunity `json:"optimization_opportunities"`
	Efficiency          CostEfficiency    `json:"efficiency"`
	CostTrend           *TrendResult      `json:"cost_trend,omitempty"`
}

// AnalysisResult aggregates the outputs of one job firing for a single target.
// Only the fields matching the job type are populated.
type AnalysisResult struct {
	PipelineID  string              `json:"pipeline_id"`
	Metric      string              `json:"metric"`
	Anomalies   []AnomalyResult     `json:"anomalies,omitempty"`
	Trend       *TrendResult        `json:"trend,omitempty"`
	Benchmark   *BenchmarkResult    `json:"benchmark,omitempty"`
	SLA         *SLAResult          `json:"sla,omitempty"`
	Cost        *CostAnalysisResult `json:"cost,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}
