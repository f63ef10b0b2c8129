package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/notify"
)

// ProtectedNotifier fails fast with ErrCircuitOpen while its breaker is open.
type ProtectedNotifier struct {
	notifier notify.Notifier
	breaker  *Breaker
	logger   *zap.Logger
}

func NewProtectedNotifier(n notify.Notifier, b *Breaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{notifier: n, breaker: b, logger: logger}
}

func (p *ProtectedNotifier) Send(ctx context.Context, email notify.Email) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected email",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.State().String()),
		)
		return fmt.Errorf("%w: %s notifier unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	err := p.notifier.Send(ctx, email)
	switch {
	case err == nil, errors.Is(err, notify.ErrInvalidEmail):
		// A rejected address says nothing about the transport's health.
		p.breaker.RecordSuccess()
	default:
		p.breaker.RecordFailure()
	}
	return err
}

func (p *ProtectedNotifier) Breaker() *Breaker {
	return p.breaker
}
