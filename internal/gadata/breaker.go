package gadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"visitorlens/internal/metrics"
)

// BreakerSettings configures the circuit breaker around the analytics source.
type BreakerSettings struct {
	Name         string
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// BreakerRunner wraps a Runner with a circuit breaker. While the circuit is
// open every query fails fast with ErrAdapterUnavailable.
type BreakerRunner struct {
	next   Runner
	cb     *gobreaker.CircuitBreaker[[]Row]
	name   string
	logger *slog.Logger
}

func NewBreakerRunner(next Runner, settings BreakerSettings, logger *slog.Logger) *BreakerRunner {
	if settings.Name == "" {
		settings.Name = "analytics-source"
	}
	name := settings.Name

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]Row](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     settings.OpenTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= settings.FailureRatio
			if shouldTrip {
				logger.Warn("Opening circuit to analytics source",
					slog.Uint64("failures", uint64(counts.TotalFailures)),
					slog.Float64("failure_rate", failureRatio*100))
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state transition",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},

		// Contract violations and caller cancellations say nothing about source health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrQueryTooWide) ||
				errors.Is(err, ErrSchemaMismatch) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &BreakerRunner{next: next, cb: cb, name: name, logger: logger}
}

// RunQuery implements Runner.
func (b *BreakerRunner) RunQuery(ctx context.Context, q Query) ([]Row, error) {
	start := time.Now()
	rows, err := b.cb.Execute(func() ([]Row, error) {
		return b.next.RunQuery(ctx, q)
	})
	metrics.SourceQueryDuration.WithLabelValues(q.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SourceQueries.WithLabelValues(q.Name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
		}
		metrics.SourceQueries.WithLabelValues(q.Name, "failure").Inc()
		return nil, err
	}

	metrics.SourceQueries.WithLabelValues(q.Name, "success").Inc()
	metrics.SourceRows.WithLabelValues(q.Name).Add(float64(len(rows)))
	return rows, nil
}

// State returns the current breaker state name.
func (b *BreakerRunner) State() string {
	return b.cb.State().String()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
