package extern

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds a circuit breaker for one external dependency. After
// maxFailures consecutive failures the circuit opens and calls fail fast
// with ErrUnavailable until the timeout elapses and a half-open probe
// succeeds. This keeps a dead embedder or judge from adding its connect
// timeout to every retrieval.
func newBreaker(name string, maxFailures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 3
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2, // probes allowed in half-open state
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("extern: %s circuit %s -> %s", name, from, to)
		},
	})
}

// execute runs fn through the breaker, mapping open-circuit errors onto
// ErrUnavailable so callers have a single sentinel to degrade on.
func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrUnavailable
		}
		return zero, err
	}
	return res.(T), nil
}
