package cleanup

import (
	"context"
	"log/slog"
	"time"

	"throttleguard/internal/throttle/metrics"
	"throttleguard/internal/throttle/models"
)

// Result contains the results of a sweep.
type Result struct {
	FingerprintsEvicted int
	SessionsEvicted     int
	Duration            time.Duration
}

// Evictor removes idle tracker entries. Implemented by the throttle engine,
// which owns the maps and their idle limits.
type Evictor interface {
	EvictIdle(ctx context.Context) (models.EvictionResult, error)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithInitialDelay sets how long after Start the first sweep runs.
func WithInitialDelay(delay time.Duration) Option {
	return func(s *Sweeper) {
		if delay >= 0 {
			s.initialDelay = delay
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// Sweeper periodically evicts idle fingerprints and sessions off the request path.
type Sweeper struct {
	evictor      Evictor
	logger       *slog.Logger
	interval     time.Duration
	initialDelay time.Duration
	metrics      *metrics.Metrics
}

func New(evictor Evictor, opts ...Option) *Sweeper {
	s := &Sweeper{
		evictor:      evictor,
		logger:       slog.Default(),
		interval:     30 * time.Minute,
		initialDelay: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the first sweep after the initial delay and then every interval
// until ctx is cancelled. A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.sweep(ctx)
	case <-ctx.Done():
		s.logger.Info("throttle cleanup worker stopping", "reason", ctx.Err())
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("throttle cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("throttle_cleanup_failed",
			"error", err,
			"duration_ms", res.Duration.Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.IncrementCleanupRuns("error")
			s.metrics.ObserveCleanupDuration(res.Duration.Seconds())
		}
		return
	}

	s.logger.Info("throttle_cleanup_completed",
		"fingerprints_evicted", res.FingerprintsEvicted,
		"sessions_evicted", res.SessionsEvicted,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.AddEvicted("fingerprint", res.FingerprintsEvicted)
		s.metrics.AddEvicted("session", res.SessionsEvicted)
		s.metrics.IncrementCleanupRuns("success")
		s.metrics.ObserveCleanupDuration(res.Duration.Seconds())
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	evicted, err := s.evictor.EvictIdle(ctx)
	res := Result{
		FingerprintsEvicted: evicted.FingerprintsEvicted,
		SessionsEvicted:     evicted.SessionsEvicted,
		Duration:            time.Since(start),
	}
	return res, err
}
