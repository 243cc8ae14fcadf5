package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/roach88/scratchpad/internal/ir"
	"github.com/roach88/scratchpad/internal/metrics"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// MaxRequests allowed through in the half-open state.
	MaxRequests uint32

	// Interval is the cyclic period after which failure counts reset while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
}

// DefaultBreakerSettings returns production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker wraps a Connector with a circuit breaker so a failing remote
// service fails fast instead of stalling every sync job.
//
// An open circuit surfaces as a connector Error, which sync jobs record as a
// failed table like any other pull failure.
type Breaker struct {
	name  string
	inner Connector
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreaker decorates inner with a circuit breaker named after its service.
func NewBreaker(name string, inner Connector, s BreakerSettings) *Breaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation does not count against the remote.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("connector circuit breaker state change",
				"connector", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &Breaker{name: name, inner: inner, cb: cb}
}

// State returns the current breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// PullRecords implements Connector.
func (b *Breaker) PullRecords(ctx context.Context, table ir.TableSpec) ([]RemoteRecord, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.PullRecords(ctx, table)
	})
	if err != nil {
		return nil, b.wrap(table, "pull", err)
	}
	records, _ := out.([]RemoteRecord)
	return records, nil
}

// PushRecords implements Connector. Per-op failures do not count against the
// breaker; only a failed push call does.
func (b *Breaker) PushRecords(ctx context.Context, table ir.TableSpec, ops []Op) ([]OpResult, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.PushRecords(ctx, table, ops)
	})
	if err != nil {
		return nil, b.wrap(table, "push", err)
	}
	results, _ := out.([]OpResult)
	return results, nil
}

func (b *Breaker) wrap(table ir.TableSpec, op string, err error) error {
	if IsConnectorError(err) {
		return err
	}
	return &Error{Service: b.name, Table: table.ID, Op: op, Err: err}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
