// Package engine implements the statistical analysis operations over pipeline
// metric series. Every operation is pure with respect to its inputs; results
// are memoizable by a content hash of the arguments.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/cache"
)

// Options carries the tunable cut points for all five operations. Zero values
// fall back to the documented defaults.
type Options struct {
	ZScoreThreshold     float64
	LowPercentile       float64
	HighPercentile      float64
	MinAnomalyPoints    int
	MinTrendPoints      int
	MinBenchmarkHistory int
	StableSlopeEpsilon  float64

	SLAMinorPercent float64
	SLAMajorPercent float64

	BaseRatePerMinute float64
	CPURate           float64
	MemoryRate        float64
	StorageRate       float64
	NetworkRate       float64
	UtilizationLow    float64
	UtilizationHigh   float64

	MemoTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.ZScoreThreshold <= 0 {
		o.ZScoreThreshold = 2.5
	}
	if o.LowPercentile <= 0 {
		o.LowPercentile = 5
	}
	if o.HighPercentile <= 0 {
		o.HighPercentile = 95
	}
	if o.MinAnomalyPoints <= 0 {
		o.MinAnomalyPoints = 10
	}
	if o.MinTrendPoints <= 0 {
		o.MinTrendPoints = 5
	}
	if o.MinBenchmarkHistory <= 0 {
		o.MinBenchmarkHistory = 5
	}
	if o.StableSlopeEpsilon <= 0 {
		o.StableSlopeEpsilon = 0.01
	}
	if o.SLAMinorPercent <= 0 {
		o.SLAMinorPercent = 10
	}
	if o.SLAMajorPercent <= 0 {
		o.SLAMajorPercent = 25
	}
	if o.BaseRatePerMinute <= 0 {
		o.BaseRatePerMinute = 0.008
	}
	if o.CPURate <= 0 {
		o.CPURate = 0.012
	}
	if o.MemoryRate <= 0 {
		o.MemoryRate = 0.006
	}
	if o.StorageRate <= 0 {
		o.StorageRate = 0.002
	}
	if o.NetworkRate <= 0 {
		o.NetworkRate = 0.004
	}
	if o.UtilizationLow <= 0 {
		o.UtilizationLow = 60
	}
	if o.UtilizationHigh <= 0 {
		o.UtilizationHigh = 85
	}
	if o.MemoTTL <= 0 {
		o.MemoTTL = 2 * time.Minute
	}
}

// Engine orchestrates the statistics library into typed analysis results.
type Engine struct {
	logger      *slog.Logger
	opts        Options
	cache       cache.Provider
	remediation *RemediationPack
}

// New constructs an Engine. cacheProvider may be a NoopProvider to disable
// memoization; remediation may be nil to use the built-in rule tables.
func New(logger *slog.Logger, opts Options, cacheProvider cache.Provider, remediation *RemediationPack) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	opts.applyDefaults()
	return &Engine{
		logger:      logger,
		opts:        opts,
		cache:       cacheProvider,
		remediation: remediation,
	}
}

// memoKey derives a stable content hash for an operation and its inputs.
func memoKey(op string, inputs ...any) (string, error) {
	payload, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("hash inputs: %w", err)
	}
	sum := sha256.Sum256(append([]byte(op+"\x00"), payload...))
	return "pulse:memo:" + op + ":" + hex.EncodeToString(sum[:16]), nil
}

// memoized runs compute unless an identical invocation is cached. Results are
// stored as JSON; cache failures degrade to recomputation, never to errors.
func memoized[T any](ctx context.Context, e *Engine, op string, inputs []any, compute func() (T, error)) (T, error) {
	var zero T

	key, err := memoKey(op, inputs...)
	if err == nil {
		if data, cacheErr := e.cache.Get(ctx, key); cacheErr == nil {
			var cached T
			if unmarshalErr := json.Unmarshal(data, &cached); unmarshalErr == nil {
				return cached, nil
			}
		}
	}

	result, err := compute()
	if err != nil {
		return zero, err
	}

	if key != "" {
		if data, marshalErr := json.Marshal(result); marshalErr == nil {
			if setErr := e.cache.Set(ctx, key, data, e.opts.MemoTTL); setErr != nil {
				e.logger.Debug("memoization store failed", slog.String("op", op), slog.Any("error", setErr))
			}
		}
	}

	return result, nil
}
