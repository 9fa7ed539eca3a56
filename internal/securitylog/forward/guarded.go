package forward

import (
	"context"
	"log/slog"
	"time"

	"throttleguard/internal/securitylog/models"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/circuit"
)

const defaultForwardTimeout = 2 * time.Second

// Guarded wraps a Forwarder with a circuit breaker and a per-call timeout so
// an unavailable sink is skipped instead of stalling the log writer.
type Guarded struct {
	next    Forwarder
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

type GuardOption func(*Guarded)

func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

func NewGuarded(next Forwarder, breaker *circuit.Breaker, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:    next,
		breaker: breaker,
		timeout: defaultForwardTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Forward(ctx context.Context, event models.Event) error {
	if !g.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, g.next.Name()+" forwarder circuit open")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.next.Forward(ctx, event); err != nil {
		if change := g.breaker.RecordFailure(); change.Opened {
			g.logger.Warn("security_forwarder_circuit_opened",
				"forwarder", g.next.Name(),
				"error", err,
			)
		}
		return err
	}
	if change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.Info("security_forwarder_circuit_closed", "forwarder", g.next.Name())
	}
	return nil
}
