package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	slmodels "throttleguard/internal/securitylog/models"
	"throttleguard/internal/throttle/config"
	"throttleguard/internal/throttle/metrics"
	"throttleguard/internal/throttle/models"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/platform/clock"
	"throttleguard/pkg/testutil"
)

type recordingSink struct {
	mu     sync.Mutex
	events []slmodels.Event
}

func (r *recordingSink) Log(_ context.Context, ev slmodels.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(t slmodels.EventType) []slmodels.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []slmodels.Event
	for _, ev := range r.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

const (
	browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15"
	clientIP  = "198.51.100.23"
)

// Justification: the engine combines the trackers and the detector into the
// block state machine. Time is driven by a fake clock so cooldowns and window
// resets can be asserted exactly.
type EngineSuite struct {
	suite.Suite
	cfg    *config.Config
	clk    *clock.Fake
	sink   *recordingSink
	engine *Engine
	ctx    context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clk = clock.NewFake(testutil.Epoch)
	s.sink = &recordingSink{}

	s.cfg = config.DefaultConfig()
	s.cfg.Routes[models.ClassCommentsCreate] = config.Policy{
		MaxRepeatedRequests: 5,
		BurstLimit:          5,
		WindowMs:            60_000,
		BlockTimeMs:         60_000,
		GracePeriodMs:       1_000,
	}
	// only the last 10s of behaviour classify the session, so a client
	// re-posting every 5s stays legitimate while its fingerprint keeps counting
	s.cfg.Session.WindowMs = 10_000
	s.engine = s.newEngine(s.cfg)
}

func (s *EngineSuite) newEngine(cfg *config.Config) *Engine {
	e, err := New(cfg,
		WithClock(s.clk),
		WithEventSink(s.sink),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New()),
	)
	s.Require().NoError(err)
	return e
}

func (s *EngineSuite) comment(body string) models.Request {
	return models.Request{
		ClientIP:  clientIP,
		Method:    "POST",
		Path:      "/api/barbershops/fade-factory/comments",
		Body:      []byte(body),
		UserAgent: browserUA,
		Class:     models.ClassCommentsCreate,
	}
}

func (s *EngineSuite) login(ua string) models.Request {
	return models.Request{
		ClientIP:  clientIP,
		Method:    "POST",
		Path:      "/api/auth/login",
		Body:      []byte(`{"email":"a@b.example","password":"x"}`),
		UserAgent: ua,
		Class:     models.ClassAuthLogin,
	}
}

func (s *EngineSuite) TestLegitimateRepeatLimit() {
	req := s.comment(`{"text":"great cut"}`)
	for i := range 5 {
		d := s.engine.Evaluate(s.ctx, req)
		s.Require().True(d.Allow, "request %d", i+1)
		s.clk.Advance(5 * time.Second)
	}

	d := s.engine.Evaluate(s.ctx, req)
	s.False(d.Allow)
	s.Equal(models.ReasonRequestLimit, d.Reason)
	s.Equal(60, d.RetryAfterSeconds)
	s.Empty(d.MatchedPatterns)

	s.Len(s.sink.ofType(slmodels.EventRateLimitExceeded), 1)
	s.Empty(s.sink.ofType(slmodels.EventSuspiciousActivity))
}

func (s *EngineSuite) TestCooldownAndWindowResetAfterExpiry() {
	req := s.comment(`{"text":"great cut"}`)
	for range 5 {
		s.engine.Evaluate(s.ctx, req)
		s.clk.Advance(5 * time.Second)
	}
	blockedAt := s.clk.Now()
	s.Require().False(s.engine.Evaluate(s.ctx, req).Allow)

	s.clk.Set(blockedAt.Add(30 * time.Second))
	d := s.engine.Evaluate(s.ctx, req)
	s.False(d.Allow)
	s.Equal(30, d.RetryAfterSeconds)
	s.Equal(models.ReasonRequestLimit, d.Reason, "active block replays the original decision")

	active := s.sink.ofType(slmodels.EventActiveBlock)
	s.Require().Len(active, 1)
	s.Equal(int64(30_000), active[0].Details["remainingMs"])

	s.clk.Set(blockedAt.Add(60*time.Second + time.Millisecond))
	s.True(s.engine.Evaluate(s.ctx, req).Allow)

	// the window restarted: four more fit before the ceiling
	for i := range 4 {
		s.clk.Advance(5 * time.Second)
		s.True(s.engine.Evaluate(s.ctx, req).Allow, "request %d after reset", i+2)
	}
	s.clk.Advance(5 * time.Second)
	s.False(s.engine.Evaluate(s.ctx, req).Allow)
}

func (s *EngineSuite) TestRetryAfterNeverIncreasesWhileBlocked() {
	req := s.comment(`{"text":"spam"}`)
	for range 6 {
		s.engine.Evaluate(s.ctx, req)
		s.clk.Advance(5 * time.Second)
	}

	last := 1 << 30
	for range 12 {
		d := s.engine.Evaluate(s.ctx, req)
		if d.Allow {
			break
		}
		s.LessOrEqual(d.RetryAfterSeconds, last)
		last = d.RetryAfterSeconds
		s.clk.Advance(4 * time.Second)
	}
}

func (s *EngineSuite) TestDistinctBodiesAreDistinctFingerprints() {
	for i := range 8 {
		d := s.engine.Evaluate(s.ctx, s.comment(fmt.Sprintf(`{"text":"comment %d"}`, i)))
		s.True(d.Allow)
		s.clk.Advance(5 * time.Second)
	}
}

func (s *EngineSuite) TestLargeBodiesSharingAPrefixAreDistinct() {
	large := func(size int64) models.Request {
		req := s.comment(`{"text":"spam spam spam`)
		req.BodyTruncated = true
		req.BodySize = size
		return req
	}
	for i := range 8 {
		d := s.engine.Evaluate(s.ctx, large(int64(70_000+i)))
		s.True(d.Allow, "request %d", i+1)
		s.clk.Advance(5 * time.Second)
	}

	for i := range 5 {
		s.True(s.engine.Evaluate(s.ctx, large(90_000)).Allow, "repeat %d", i+1)
		s.clk.Advance(5 * time.Second)
	}
	s.False(s.engine.Evaluate(s.ctx, large(90_000)).Allow, "identical large bodies still count as repeats")
}

func (s *EngineSuite) TestSuspiciousClientHitsGracePeriod() {
	d := s.engine.Evaluate(s.ctx, s.login("curl/8.4.0"))
	s.True(d.Allow)
	s.Equal([]models.Pattern{models.PatternSuspiciousUserAgent}, d.MatchedPatterns)
	s.Equal(models.SeverityHigh, d.Severity)

	s.clk.Advance(time.Second)
	d = s.engine.Evaluate(s.ctx, s.login("curl/8.4.0"))
	s.False(d.Allow)
	s.Equal(models.ReasonSuspiciousActivity, d.Reason)
	s.Equal(300, d.RetryAfterSeconds)
	s.Contains(d.MatchedPatterns, models.PatternSuspiciousUserAgent)

	limit := s.sink.ofType(slmodels.EventRateLimitExceeded)
	s.Require().Len(limit, 1)
	s.Equal(ruleGrace, limit[0].Details["rule"])

	suspicious := s.sink.ofType(slmodels.EventSuspiciousActivity)
	s.Require().Len(suspicious, 1)
	s.Equal(slmodels.SeverityHigh, suspicious[0].Severity)
	s.Contains(suspicious[0].MatchedPatterns, string(models.PatternSuspiciousUserAgent))
	s.Equal(clientIP, suspicious[0].ClientInfo.IP)
}

func (s *EngineSuite) TestSuspiciousClientHitsBurstLimit() {
	for i := range 3 {
		s.True(s.engine.Evaluate(s.ctx, s.login("python-requests/2.31")).Allow, "request %d", i+1)
		s.clk.Advance(3 * time.Second)
	}

	d := s.engine.Evaluate(s.ctx, s.login("python-requests/2.31"))
	s.False(d.Allow)
	limit := s.sink.ofType(slmodels.EventRateLimitExceeded)
	s.Require().Len(limit, 1)
	s.Equal(ruleBurst, limit[0].Details["rule"])
}

func (s *EngineSuite) TestSameLimitsDoNotApplyToLegitimateLogin() {
	// a flagged client is blocked past burstLimit (3); a browser gets maxRepeatedRequests (5)
	for i := range 5 {
		d := s.engine.Evaluate(s.ctx, s.login(browserUA))
		s.True(d.Allow, "request %d", i+1)
		s.Empty(d.MatchedPatterns, "request %d", i+1)
		s.clk.Advance(4 * time.Second)
	}

	d := s.engine.Evaluate(s.ctx, s.login(browserUA))
	s.False(d.Allow)
	s.Equal(models.ReasonRequestLimit, d.Reason)
}

func (s *EngineSuite) TestReferencePolicyFlaggingOnlyTightensLimits() {
	cfg := config.DefaultConfig()
	policy := cfg.PolicyFor(models.ClassCommentsCreate)
	e := s.newEngine(cfg)
	req := s.comment(`{"text":"buy followers at example.test"}`)

	firstRejected := 0
	var rejected models.Decision
	for i := 1; i <= policy.MaxRepeatedRequests+1; i++ {
		d := e.Evaluate(s.ctx, req)
		if !d.Allow {
			firstRejected, rejected = i, d
			break
		}
		s.clk.Advance(5 * time.Second)
	}

	s.Require().NotZero(firstRejected, "identical comments must be blocked by the legitimate ceiling at the latest")
	s.Equal(policy.BurstLimit+1, firstRejected, "repetition flags the session and the tighter burst limit applies")
	s.Equal(models.ReasonSuspiciousActivity, rejected.Reason)
	s.Contains(rejected.MatchedPatterns, models.PatternRepetitive)
	s.Equal(int(policy.BlockTimeMs/1000), rejected.RetryAfterSeconds)
}

func (s *EngineSuite) TestAllowlistBypassesEvaluation() {
	cfg := config.DefaultConfig()
	cfg.Allowlist = []string{"10.0.0.0/8", "2001:db8::1"}
	e := s.newEngine(cfg)

	for _, ip := range []string{"10.1.2.3", "2001:db8::1"} {
		for range 100 {
			req := s.login("curl/8.4.0")
			req.ClientIP = ip
			s.True(e.Evaluate(s.ctx, req).Allow)
		}
	}
	stats := e.Stats(s.ctx)
	s.Zero(stats.TrackedFingerprints)
	s.Zero(stats.TrackedSessions)
}

func (s *EngineSuite) TestStatsAndReset() {
	req := s.comment(`{"text":"x"}`)
	for range 6 {
		s.engine.Evaluate(s.ctx, req)
		s.clk.Advance(5 * time.Second)
	}
	other := s.comment(`{"text":"x"}`)
	other.ClientIP = "198.51.100.24"
	s.engine.Evaluate(s.ctx, other)

	stats := s.engine.Stats(s.ctx)
	s.Equal(models.Stats{TrackedFingerprints: 2, BlockedFingerprints: 1, TrackedSessions: 2}, stats)

	res := s.engine.ResetClient(s.ctx, clientIP)
	s.Equal(models.ResetResult{ClientIP: clientIP, FingerprintsRemoved: 1, SessionsRemoved: 1}, res)
	s.True(s.engine.Evaluate(s.ctx, req).Allow, "reset lifts the block")
}

func (s *EngineSuite) TestEvictIdle() {
	s.engine.Evaluate(s.ctx, s.comment(`{"text":"x"}`))

	s.clk.Advance(time.Hour)
	res, err := s.engine.EvictIdle(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.EvictionResult{}, res, "nothing is idle past its limit yet")

	s.clk.Advance(time.Millisecond)
	res, err = s.engine.EvictIdle(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.EvictionResult{FingerprintsEvicted: 1}, res)

	s.clk.Advance(time.Hour)
	res, err = s.engine.EvictIdle(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.EvictionResult{SessionsEvicted: 1}, res)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err = s.engine.EvictIdle(ctx)
	s.Error(err)
}

func (s *EngineSuite) TestConcurrentHammeringBlocksOnce() {
	req := s.comment(`{"text":"same"}`)
	var allowed atomic.Int32
	res := testutil.RunConcurrent(200, func(int) error {
		if s.engine.Evaluate(s.ctx, req).Allow {
			allowed.Add(1)
		}
		return nil
	})
	s.Equal(int32(200), res.Successes)

	s.GreaterOrEqual(allowed.Load(), int32(1))
	s.LessOrEqual(allowed.Load(), int32(s.cfg.Routes[models.ClassCommentsCreate].MaxRepeatedRequests))
	s.Len(s.sink.ofType(slmodels.EventRateLimitExceeded), 1, "only the transitioning request reports the block")
}

func (s *EngineSuite) TestConfigurationErrors() {
	cases := map[string]func(*config.Config){
		"bad allowlist": func(c *config.Config) { c.Allowlist = []string{"10.0.0.0/33"} },
		"bad pattern":   func(c *config.Config) { c.SuspiciousActivity.UserAgentPatterns = []string{"[z-a]"} },
		"zero burst":    func(c *config.Config) { c.Global.BurstLimit = 0 },
		"loose burst":   func(c *config.Config) { c.Global.BurstLimit = c.Global.MaxRepeatedRequests + 1 },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			cfg := config.DefaultConfig()
			mutate(cfg)
			_, err := New(cfg)
			s.Require().Error(err)
			s.True(dErrors.IsFatal(err))
		})
	}

	_, err := New(nil)
	s.True(dErrors.IsFatal(err))
}
