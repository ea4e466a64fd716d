package base

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// NewBreaker builds the circuit breaker wrapped around a connector's
// transport exchanges. It opens after five consecutive failures and
// half-opens after thirty seconds, with state changes logged.
func NewBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}
