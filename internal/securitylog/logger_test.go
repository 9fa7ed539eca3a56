package securitylog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"throttleguard/internal/securitylog/models"
	"throttleguard/internal/securitylog/store"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/clock"
	"throttleguard/pkg/requestcontext"
	"throttleguard/pkg/testutil"
)

type gatedStore struct {
	mu      sync.Mutex
	events  []models.Event
	entered chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedStore) Append(_ context.Context, ev models.Event) error {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.events = append(g.events, ev)
	return nil
}

func (g *gatedStore) ReadSince(context.Context, time.Time) ([]models.Event, error) {
	return nil, g.err
}

func (g *gatedStore) Prune(context.Context, time.Time) (models.PruneResult, error) {
	return models.PruneResult{}, g.err
}

func (g *gatedStore) appended() []models.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Event(nil), g.events...)
}

type recordingForwarder struct {
	mu     sync.Mutex
	name   string
	err    error
	events []models.Event
}

func (f *recordingForwarder) Name() string { return f.name }

func (f *recordingForwarder) Forward(_ context.Context, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

// Justification: logging sits on the request path, so it must never block or
// fail the caller. Reports and prunes are checked against a real file sink.
type LoggerSuite struct {
	suite.Suite
	clk    *clock.Fake
	store  *store.FileStore
	logger *Logger
	ctx    context.Context
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *LoggerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clk = clock.NewFake(testutil.Epoch)
	fs, err := store.NewFileStore(filepath.Join(s.T().TempDir(), "security.jsonl"))
	s.Require().NoError(err)
	s.store = fs
	s.logger = New(fs, WithClock(s.clk), WithLogger(discard()), WithMetrics(NewMetrics()))
}

func (s *LoggerSuite) TearDownTest() {
	s.NoError(s.logger.Close(s.ctx))
	s.NoError(s.store.Close())
}

func (s *LoggerSuite) event(ip string, typ models.EventType, severity string) models.Event {
	return models.Event{
		EventType:  typ,
		Severity:   severity,
		ClientInfo: models.ClientInfo{IP: ip, Method: "POST", URL: "/api/auth/login", UserAgent: "curl/8.4.0"},
	}
}

func (s *LoggerSuite) flush() {
	s.Require().NoError(s.logger.Close(s.ctx))
}

func (s *LoggerSuite) TestLogCompletesEvent() {
	ctx := requestcontext.WithRequestID(s.ctx, "req-42")
	s.logger.Log(ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	s.flush()

	events, err := s.store.ReadSince(s.ctx, time.Time{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	ev := events[0]
	s.NotEmpty(ev.ID)
	s.True(ev.Timestamp.Equal(testutil.Epoch))
	s.NotEmpty(ev.ClientInfo.Device)
	s.Equal("req-42", ev.Details["requestId"])
}

func (s *LoggerSuite) TestReportAggregates() {
	s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	s.clk.Advance(time.Minute)
	s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventSuspiciousActivity, models.SeverityHigh))
	s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventActiveBlock, models.SeverityMedium))
	s.logger.Log(s.ctx, s.event("198.51.100.2", models.EventRateLimitExceeded, models.SeverityLow))
	s.logger.Log(s.ctx, s.event("198.51.100.3", models.EventRateLimitExceeded, models.SeverityLow))
	s.flush()

	report, err := s.logger.Report(s.ctx, 0, 2)
	s.Require().NoError(err)

	s.Equal(5, report.TotalEvents)
	s.Equal(3, report.UniqueClients)
	s.Equal(3, report.EventTypes[models.EventRateLimitExceeded])
	s.Equal(testutil.Epoch.Add(time.Minute-DefaultReportWindow), report.Since)

	s.Require().Len(report.TopOffenders, 2)
	top := report.TopOffenders[0]
	s.Equal("198.51.100.1", top.IP)
	s.Equal(3, top.EventCount)
	s.Equal(models.SeverityHigh, top.WorstSeverity)
	s.Equal(1, top.EventTypes[models.EventActiveBlock])
	s.True(top.FirstSeen.Equal(testutil.Epoch))
	s.True(top.LastSeen.Equal(testutil.Epoch.Add(time.Minute)))
	s.Equal("198.51.100.2", report.TopOffenders[1].IP, "ties break by IP")
}

func (s *LoggerSuite) TestReportWindowExcludesOlderEvents() {
	s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	s.clk.Advance(3 * time.Hour)
	s.logger.Log(s.ctx, s.event("198.51.100.2", models.EventRateLimitExceeded, models.SeverityLow))
	s.flush()

	report, err := s.logger.Report(s.ctx, time.Hour, 0)
	s.Require().NoError(err)
	s.Equal(1, report.TotalEvents)
	s.Equal("198.51.100.2", report.TopOffenders[0].IP)
}

func (s *LoggerSuite) TestEmptyReport() {
	report, err := s.logger.Report(s.ctx, time.Hour, 5)
	s.Require().NoError(err)
	s.Zero(report.TotalEvents)
	s.NotNil(report.TopOffenders)
}

func (s *LoggerSuite) TestPrune() {
	s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	s.clk.Advance(10 * 24 * time.Hour)
	s.logger.Log(s.ctx, s.event("198.51.100.2", models.EventRateLimitExceeded, models.SeverityLow))
	s.flush()

	res, err := s.logger.Prune(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal(models.PruneResult{RemovedCount: 1, RemainingCount: 1}, res)

	_, err = s.logger.Prune(s.ctx, -1)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LoggerSuite) TestLogAfterCloseIsDropped() {
	s.flush()
	s.NotPanics(func() {
		s.logger.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	})
}

func (s *LoggerSuite) TestStoreFailureIsSwallowed() {
	failing := &gatedStore{err: errors.New("disk full")}
	fwd := &recordingForwarder{name: "rec"}
	l := New(failing, WithLogger(discard()), WithForwarders(fwd))

	s.NotPanics(func() {
		l.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	})
	s.Require().NoError(l.Close(s.ctx))
	s.Len(fwd.events, 1, "forwarders still receive events the sink rejected")

	_, err := l.Report(s.ctx, time.Hour, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeLoggingFailure))
}

func (s *LoggerSuite) TestFullQueueDropsInsteadOfBlocking() {
	gated := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	l := New(gated, WithLogger(discard()), WithBufferSize(1))

	l.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	<-gated.entered // writer holds the first event

	l.Log(s.ctx, s.event("198.51.100.2", models.EventRateLimitExceeded, models.SeverityLow))
	done := make(chan struct{})
	go func() {
		l.Log(s.ctx, s.event("198.51.100.3", models.EventRateLimitExceeded, models.SeverityLow))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("Log blocked on a full queue")
	}

	go func() {
		for range gated.entered {
			gated.release <- struct{}{}
		}
	}()
	gated.release <- struct{}{}
	s.Require().NoError(l.Close(s.ctx))
	close(gated.entered)

	appended := gated.appended()
	s.Require().Len(appended, 2)
	s.Equal("198.51.100.2", appended[1].ClientInfo.IP)
}

func (s *LoggerSuite) TestDropWarningsStayBoundedUnderFlood() {
	gated := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	var out bytes.Buffer
	l := New(gated,
		WithLogger(slog.New(slog.NewTextHandler(&out, nil))),
		WithBufferSize(1),
		WithDropWarnLimit(0, 3),
		WithEchoLimit(0, 0),
	)

	l.Log(s.ctx, s.event("198.51.100.1", models.EventRateLimitExceeded, models.SeverityLow))
	<-gated.entered
	for range 10_000 {
		l.Log(s.ctx, s.event("198.51.100.2", models.EventRateLimitExceeded, models.SeverityLow))
	}
	warnings := strings.Count(out.String(), "security_event_dropped")

	go func() {
		for range gated.entered {
			gated.release <- struct{}{}
		}
	}()
	gated.release <- struct{}{}
	s.Require().NoError(l.Close(s.ctx))
	close(gated.entered)

	s.Equal(3, warnings, "9,999 drops must not produce 9,999 log lines")
	s.Len(gated.appended(), 2, "only the held event and one queued event are written")
	s.Equal(int64(9_999-3), l.unreported.Load(), "suppressed drops carry over to the next warning")
}

func (s *LoggerSuite) TestForwardFailureDoesNotStopOtherForwarders() {
	broken := &recordingForwarder{name: "broken", err: errors.New("down")}
	ok := &recordingForwarder{name: "ok"}
	gated := &gatedStore{}
	l := New(gated, WithLogger(discard()), WithForwarders(broken, ok))

	for range 3 {
		l.Log(s.ctx, s.event("198.51.100.1", models.EventSuspiciousActivity, models.SeverityMedium))
	}
	s.Require().NoError(l.Close(s.ctx))

	s.Len(gated.appended(), 3)
	s.Len(broken.events, 3)
	s.Len(ok.events, 3)
}
