package transport

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"trainingportal/pkg/circuitbreaker"
)

// BreakerTransport rejects sends while the downstream keeps failing.
type BreakerTransport struct {
	next    Transport
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreakerTransport(next Transport, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerTransport {
	return &BreakerTransport{
		next:    next,
		breaker: circuitbreaker.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

func (t *BreakerTransport) Name() string { return t.next.Name() }

func (t *BreakerTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	err := t.breaker.Execute(func() error {
		return t.next.Send(ctx, to, subject, htmlBody)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.logger.Warn("Transport circuit open, send rejected",
			zap.String("transport", t.next.Name()),
			zap.String("to", to),
		)
	}
	return err
}

// State returns the breaker state.
func (t *BreakerTransport) State() circuitbreaker.State {
	return t.breaker.GetState()
}
