// Package securitylog is the append-only security event sink and its reporting surface.
package securitylog

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"throttleguard/internal/securitylog/forward"
	"throttleguard/internal/securitylog/models"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/clock"
	"throttleguard/pkg/platform/privacy"
	"throttleguard/pkg/platform/tracing"
	"throttleguard/pkg/requestcontext"
)

const (
	DefaultReportWindow = 24 * time.Hour
	DefaultTopN         = 10

	defaultBufferSize    = 1024
	defaultEchoPerSec    = 5
	defaultEchoBurst     = 20
	defaultDropWarnRate  = 1
	defaultDropWarnBurst = 1
	forwardWriteTimeout  = 5 * time.Second
)

// Store is the durable sink behind the logger.
type Store interface {
	Append(ctx context.Context, event models.Event) error
	ReadSince(ctx context.Context, since time.Time) ([]models.Event, error)
	Prune(ctx context.Context, cutoff time.Time) (models.PruneResult, error)
}

// Logger queues events for a single background writer so callers on the
// request path never wait on disk or network. Write and forward failures are
// logged and counted, never returned.
type Logger struct {
	store      Store
	forwarders []forward.Forwarder
	logger     *slog.Logger
	metrics    *Metrics
	clock      clock.Clock
	tracer     tracing.Tracer
	echo       *rate.Limiter
	dropWarn   *rate.Limiter
	bufferSize int

	// drops since the last security_event_dropped warning
	unreported atomic.Int64

	mu     sync.RWMutex
	closed bool
	events chan models.Event
	wg     sync.WaitGroup
}

type Option func(*Logger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Logger) {
		l.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Logger) {
		l.clock = c
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(l *Logger) {
		l.tracer = t
	}
}

// WithBufferSize sets the write queue capacity. Events beyond it are dropped.
func WithBufferSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

// WithForwarders adds external sinks that receive every persisted event.
func WithForwarders(f ...forward.Forwarder) Option {
	return func(l *Logger) {
		l.forwarders = append(l.forwarders, f...)
	}
}

// WithEchoLimit caps console echo lines per second; an attack must not flood stdout.
func WithEchoLimit(perSecond float64, burst int) Option {
	return func(l *Logger) {
		l.echo = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithDropWarnLimit caps security_event_dropped warnings per second. Every
// drop is still counted in metrics.
func WithDropWarnLimit(perSecond float64, burst int) Option {
	return func(l *Logger) {
		l.dropWarn = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func New(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:      store,
		logger:     slog.Default(),
		bufferSize: defaultBufferSize,
		echo:       rate.NewLimiter(defaultEchoPerSec, defaultEchoBurst),
		dropWarn:   rate.NewLimiter(defaultDropWarnRate, defaultDropWarnBurst),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.clock = clock.OrSystem(l.clock)
	if l.tracer == nil {
		l.tracer = tracing.New("throttleguard/securitylog")
	}

	l.events = make(chan models.Event, l.bufferSize)
	l.wg.Go(l.run)
	return l
}

// Log queues event. It never blocks and never fails the caller.
func (l *Logger) Log(ctx context.Context, event models.Event) {
	event.Complete(l.clock.Now())
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		details := make(map[string]any, len(event.Details)+1)
		maps.Copy(details, event.Details)
		details["requestId"] = requestID
		event.Details = details
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(event, "logger closed")
		return
	}
	select {
	case l.events <- event:
		if l.metrics != nil {
			l.metrics.SetQueueDepth(len(l.events))
		}
	default:
		l.drop(event, "queue full")
	}
}

func (l *Logger) drop(event models.Event, why string) {
	if l.metrics != nil {
		l.metrics.IncDropped()
	}
	l.unreported.Add(1)
	if !l.dropWarn.Allow() {
		return
	}
	l.logger.Warn("security_event_dropped",
		"reason", why,
		"dropped", l.unreported.Swap(0),
		"event_type", event.EventType,
		"ip", privacy.AnonymizeIP(event.ClientInfo.IP),
	)
}

func (l *Logger) run() {
	for event := range l.events {
		l.write(event)
		if l.metrics != nil {
			l.metrics.SetQueueDepth(len(l.events))
		}
	}
}

func (l *Logger) write(event models.Event) {
	ctx := context.Background()

	if err := l.store.Append(ctx, event); err != nil {
		if l.metrics != nil {
			l.metrics.IncPersistFailures()
		}
		l.logger.Error("security_event_persist_failed",
			"event_type", event.EventType,
			"event_id", event.ID,
			"error", err,
		)
	} else if l.metrics != nil {
		l.metrics.IncLogged(string(event.EventType))
	}

	l.echoLine(ctx, event)

	for _, f := range l.forwarders {
		fctx, cancel := context.WithTimeout(ctx, forwardWriteTimeout)
		err := f.Forward(fctx, event)
		cancel()
		if err == nil {
			continue
		}
		if l.metrics != nil {
			l.metrics.IncForwardFailures(f.Name())
		}
		l.logger.Debug("security_event_forward_failed",
			"forwarder", f.Name(),
			"event_id", event.ID,
			"error", err,
		)
	}
}

func (l *Logger) echoLine(ctx context.Context, event models.Event) {
	if !l.echo.Allow() {
		if l.metrics != nil {
			l.metrics.IncEchoSuppressed()
		}
		return
	}
	level := slog.LevelInfo
	if event.Severity == models.SeverityHigh {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "security_event",
		"event_type", event.EventType,
		"severity", event.Severity,
		"ip", privacy.AnonymizeIP(event.ClientInfo.IP),
		"method", event.ClientInfo.Method,
		"url", event.ClientInfo.URL,
		"patterns", event.MatchedPatterns,
	)
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to expire.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "security log drain interrupted")
	}
}

// Report aggregates events from the last window. Zero or negative values fall
// back to DefaultReportWindow and DefaultTopN.
func (l *Logger) Report(ctx context.Context, window time.Duration, topN int) (report models.Report, err error) {
	if window <= 0 {
		window = DefaultReportWindow
	}
	if topN <= 0 {
		topN = DefaultTopN
	}

	ctx, span := l.tracer.Start(ctx, "securitylog.Report",
		attribute.String("window", window.String()),
		attribute.Int("top_n", topN),
	)
	defer func() { span.End(err) }()

	now := l.clock.Now()
	since := now.Add(-window)
	events, err := l.store.ReadSince(ctx, since)
	if err != nil {
		return models.Report{}, dErrors.Wrap(err, dErrors.CodeLoggingFailure, "read security log")
	}
	report = aggregate(events, since, now, topN)
	span.SetAttributes(attribute.Int("events", report.TotalEvents))
	return report, nil
}

// Prune drops events older than olderThanDays days. Zero days clears everything
// recorded before now.
func (l *Logger) Prune(ctx context.Context, olderThanDays int) (result models.PruneResult, err error) {
	if olderThanDays < 0 {
		return models.PruneResult{}, dErrors.New(dErrors.CodeValidation, "olderThanDays must not be negative")
	}

	ctx, span := l.tracer.Start(ctx, "securitylog.Prune", attribute.Int("older_than_days", olderThanDays))
	defer func() { span.End(err) }()

	cutoff := l.clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	result, err = l.store.Prune(ctx, cutoff)
	if err != nil {
		return models.PruneResult{}, dErrors.Wrap(err, dErrors.CodeLoggingFailure, "prune security log")
	}
	l.logger.InfoContext(ctx, "security_log_pruned",
		"older_than_days", olderThanDays,
		"removed", result.RemovedCount,
		"remaining", result.RemainingCount,
	)
	return result, nil
}
