package ai

import (
	"context"
	"errors"
	"fmt"

	"resumealign/internal/config"
	apperrors "resumealign/internal/errors"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards calls to a generation service. A nil breaker
// passes calls straight through.
type CircuitBreaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// NewGenerationBreaker creates the breaker for Generate calls. It returns
// nil when disabled.
func NewGenerationBreaker(provider string, cfg config.CircuitBreakerConfig, logger *apperrors.Logger) *CircuitBreaker[*Generation] {
	if !cfg.Enabled {
		return nil
	}
	return newCircuitBreaker[*Generation](fmt.Sprintf("AI-%s", provider), cfg, logger,
		func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureThreshold
		})
}

// NewModelBreaker creates the breaker for model lookups used by health
// checks. Lookups are less critical, so it trips later.
func NewModelBreaker(provider string, cfg config.CircuitBreakerConfig, logger *apperrors.Logger) *CircuitBreaker[*ModelInfo] {
	if !cfg.Enabled {
		return nil
	}
	return newCircuitBreaker[*ModelInfo](fmt.Sprintf("AI-Model-%s", provider), cfg, logger,
		func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.8
		})
}

func newCircuitBreaker[T any](name string, cfg config.CircuitBreakerConfig, logger *apperrors.Logger, readyToTrip func(gobreaker.Counts) bool) *CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: readyToTrip,
		// A caller giving up is not a service failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger == nil {
				return
			}
			logger.Info("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
				"max_requests", cfg.MaxRequests,
				"failure_threshold", cfg.FailureThreshold)
		},
	}

	return &CircuitBreaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn with circuit breaker protection
func (b *CircuitBreaker[T]) Execute(fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

// GetStats returns circuit breaker statistics
func (b *CircuitBreaker[T]) GetStats() map[string]any {
	if b == nil || b.cb == nil {
		return map[string]any{
			"enabled": false,
		}
	}

	return map[string]any{
		"name":    b.cb.Name(),
		"state":   b.cb.State().String(),
		"counts":  b.cb.Counts(),
		"enabled": true,
	}
}

// IsHealthy returns true if the breaker is closed or absent
func (b *CircuitBreaker[T]) IsHealthy() bool {
	if b == nil || b.cb == nil {
		return true
	}
	return b.cb.State() == gobreaker.StateClosed
}

// isBreakerRejection reports whether err came from the breaker rather than the service
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
