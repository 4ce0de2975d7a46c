package tokenizer

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Counter counts the tokens of a text.
type Counter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// FallbackCounter uses primary until it fails once, then the estimator.
type FallbackCounter struct {
	primary  Counter
	fallback Counter
	failed   atomic.Bool
	logger   *zap.Logger
}

// NewCounter returns a tiktoken counter for model that falls back to the
// estimator when the encoding cannot be loaded. An empty model uses the estimator.
func NewCounter(model string, logger *zap.Logger) Counter {
	if model == "" {
		return Estimator{}
	}
	return NewFallbackCounter(NewTiktokenCounter(model), Estimator{}, logger)
}

// NewFallbackCounter creates a FallbackCounter.
func NewFallbackCounter(primary, fallback Counter, logger *zap.Logger) *FallbackCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCounter{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// CountTokens implements Counter.
func (c *FallbackCounter) CountTokens(text string) (int, error) {
	if !c.failed.Load() {
		n, err := c.primary.CountTokens(text)
		if err == nil {
			return n, nil
		}
		if c.failed.CompareAndSwap(false, true) {
			c.logger.Warn("token counter unavailable, using estimator",
				zap.String("counter", c.primary.Name()), zap.Error(err))
		}
	}
	return c.fallback.CountTokens(text)
}

// Name implements Counter.
func (c *FallbackCounter) Name() string {
	if c.failed.Load() {
		return c.fallback.Name()
	}
	return c.primary.Name()
}
