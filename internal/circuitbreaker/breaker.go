// Package circuitbreaker builds the breakers guarding outbound calls.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings tunes when a breaker trips and how long it stays open.
type Settings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// Defaults mirrors the values used when nothing is configured.
func Defaults() Settings {
	return Settings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      60 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  3,
	}
}

// New returns a breaker that opens once at least MinRequests calls were seen
// in the current interval and the failure ratio reaches FailureRatio.
func New(name string, s Settings, log *zap.Logger) *gobreaker.CircuitBreaker {
	def := Defaults()
	if s.MaxRequests == 0 {
		s.MaxRequests = def.MaxRequests
	}
	if s.Interval <= 0 {
		s.Interval = def.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = def.Timeout
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = def.FailureRatio
	}
	if s.MinRequests == 0 {
		s.MinRequests = def.MinRequests
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("breaker")

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}
