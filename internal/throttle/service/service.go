// Package service is the throttle decision engine.
//
// Every inbound request is evaluated once:
//
//	decision := engine.Evaluate(ctx, req)
//	if !decision.Allow {
//	    // respond 429 with decision.RetryAfterSeconds
//	}
//
// The engine owns the fingerprint and session trackers. Nothing outside this
// package reads or writes them; admin and maintenance access goes through
// Stats, ResetClient and EvictIdle.
package service

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"throttleguard/internal/throttle/config"
	"throttleguard/internal/throttle/detector"
	"throttleguard/internal/throttle/metrics"
	"throttleguard/internal/throttle/models"
	"throttleguard/internal/throttle/observability"
	"throttleguard/internal/throttle/store/fingerprint"
	"throttleguard/internal/throttle/store/session"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/clock"
	"throttleguard/pkg/platform/tracing"
)

// Engine decides whether a request may proceed. Safe for concurrent use.
type Engine struct {
	config       *config.Config
	fingerprints *fingerprint.Store
	sessions     *session.Store
	detector     *detector.Detector
	allowlist    []netip.Prefix

	sink    observability.EventSink
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	tracer  tracing.Tracer
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEventSink sets where security events go. Defaults to discarding them.
func WithEventSink(sink observability.EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock injects the time source; tests use clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New builds an engine from a validated policy. Any policy problem is a
// configuration error and must stop startup.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	det, err := detector.New(cfg.SuspiciousActivity)
	if err != nil {
		return nil, err
	}
	allowlist, err := parseAllowlist(cfg.Allowlist)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:       cfg,
		fingerprints: fingerprint.New(),
		sessions: session.New(
			cfg.Session.Window(),
			cfg.Session.GracePeriod(),
			cfg.SuspiciousActivity.Thresholds.RecoveryFloor,
		),
		detector:  det,
		allowlist: allowlist,
		sink:      observability.NopSink{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = clock.OrSystem(e.clock)
	if e.tracer == nil {
		e.tracer = tracing.New("throttleguard/throttle")
	}
	return e, nil
}

func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid allowlist CIDR "+entry)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid allowlist address "+entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (e *Engine) allowlisted(ip string) bool {
	if len(e.allowlist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.allowlist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Stats reports tracker sizes and refreshes the tracked gauges.
func (e *Engine) Stats(_ context.Context) models.Stats {
	tracked, blocked := e.fingerprints.Stats(e.clock.Now())
	sessions, suspicious := e.sessions.Stats()
	if e.metrics != nil {
		e.metrics.SetTracked(tracked, blocked, sessions, suspicious)
	}
	return models.Stats{
		TrackedFingerprints: tracked,
		BlockedFingerprints: blocked,
		TrackedSessions:     sessions,
		SuspiciousSessions:  suspicious,
	}
}

// ResetClient forgets every fingerprint and session of clientIP, lifting any
// active block.
func (e *Engine) ResetClient(ctx context.Context, clientIP string) models.ResetResult {
	result := models.ResetResult{
		ClientIP:            clientIP,
		FingerprintsRemoved: e.fingerprints.ResetClient(clientIP),
		SessionsRemoved:     e.sessions.ResetClient(clientIP),
	}
	e.logger.InfoContext(ctx, "throttle_client_reset",
		"fingerprints_removed", result.FingerprintsRemoved,
		"sessions_removed", result.SessionsRemoved,
	)
	return result
}

// EvictIdle removes fingerprints and sessions idle past the configured limits.
func (e *Engine) EvictIdle(ctx context.Context) (models.EvictionResult, error) {
	if err := ctx.Err(); err != nil {
		return models.EvictionResult{}, err
	}
	now := e.clock.Now()
	result := models.EvictionResult{
		FingerprintsEvicted: e.fingerprints.EvictIdle(now, e.config.Eviction.FingerprintMaxIdle()),
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.SessionsEvicted = e.sessions.EvictIdle(now, e.config.Eviction.SessionMaxIdle())
	e.Stats(ctx)
	return result, nil
}

func retryAfterSeconds(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}
