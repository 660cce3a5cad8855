package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/parley-chat/parley/pkg/utils"
)

const breakerInterval = 60 * time.Second

// BreakerGenerator fails fast while the wrapped generator keeps failing.
type BreakerGenerator struct {
	name    string
	inner   Generator
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewBreakerGenerator opens after maxFailures consecutive errors and probes
// again after cooldown.
func NewBreakerGenerator(name string, inner Generator, maxFailures uint32, cooldown time.Duration) *BreakerGenerator {
	logger := utils.GetLogger()
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerGenerator{name: name, inner: inner, breaker: cb, logger: logger}
}

func (g *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := g.breaker.Execute(func() (string, error) {
		return g.inner.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("provider %q circuit open: %w", g.name, err)
	}
	return out, err
}

// State returns the current circuit breaker state.
func (g *BreakerGenerator) State() gobreaker.State {
	return g.breaker.State()
}
