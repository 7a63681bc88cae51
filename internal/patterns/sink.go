package patterns

import (
	"context"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, patterns []models.AlertPattern) error

// StorePatterns implements Sink.
func (f SinkFunc) StorePatterns(ctx context.Context, patterns []models.AlertPattern) error {
	return f(ctx, patterns)
}
