package models

import (
	"sort"
	"time"
)

// DataPoint is a single immutable metric observation.
type DataPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Series is an ordered, time-ascending sequence of DataPoints. Ordering is an
// invariant consumers rely on; construct through NewSeries.
type Series []DataPoint

// NewSeries copies the provided points and sorts them time-ascending.
func NewSeries(points []DataPoint) Series {
	series := make(Series, len(points))
	copy(series, points)
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	return series
}

// Values extracts the raw values in series order.
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// Metric names produced by the run extractor.
const (
	MetricDurationMinutes = "duration_minutes"
	MetricSuccessRate     = "success_rate"
	MetricCPUPercent      = "cpu_percent"
	MetricMemoryPercent   = "memory_percent"
)
