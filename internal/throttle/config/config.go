package config

import (
	"time"

	"throttleguard/internal/throttle/models"
	dErrors "throttleguard/pkg/domain-errors"
	"throttleguard/pkg/validation"
)

// Config is the throttling policy. It is loaded once at startup and never mutated.
// Durations are expressed in milliseconds to match the policy file format.
type Config struct {
	Global             Policy                       `yaml:"global"`
	Routes             map[models.RouteClass]Policy `yaml:"routes" validate:"dive"`
	SuspiciousActivity SuspiciousActivity           `yaml:"suspiciousActivity"`
	Session            Session                      `yaml:"session"`
	Eviction           Eviction                     `yaml:"eviction"`
	// Allowlist holds IPs or CIDRs that bypass evaluation (health checkers, internal jobs).
	Allowlist []string `yaml:"allowlist" validate:"dive,ip|cidr"`
}

// Policy is one row of the per-route-class table.
type Policy struct {
	// MaxRepeatedRequests is the generous ceiling applied while a session is legitimate.
	MaxRepeatedRequests int `yaml:"maxRepeatedRequests" validate:"min=1"`
	// BurstLimit is the ceiling applied once a session looks suspicious. It
	// also bounds the session's request count for the highFrequency signal.
	// Never above MaxRepeatedRequests: being flagged only tightens limits.
	BurstLimit    int   `yaml:"burstLimit" validate:"min=1,ltefield=MaxRepeatedRequests"`
	WindowMs      int64 `yaml:"windowMs" validate:"min=1"`
	BlockTimeMs   int64 `yaml:"blockTimeMs" validate:"min=1"`
	GracePeriodMs int64 `yaml:"gracePeriodMs" validate:"min=1"`
}

func (p Policy) Window() time.Duration      { return ms(p.WindowMs) }
func (p Policy) BlockTime() time.Duration   { return ms(p.BlockTimeMs) }
func (p Policy) GracePeriod() time.Duration { return ms(p.GracePeriodMs) }

// SuspiciousActivity configures the anomaly detector.
type SuspiciousActivity struct {
	Thresholds Thresholds `yaml:"thresholds"`
	// UserAgentPatterns are case-insensitive regular expressions.
	UserAgentPatterns []string `yaml:"userAgentPatterns" validate:"min=1,dive,notblank"`
	// RefererKeywords are case-insensitive substrings.
	RefererKeywords []string `yaml:"refererKeywords" validate:"min=1,dive,notblank"`
}

type Thresholds struct {
	RapidFireIntervalMs int64   `yaml:"rapidFireIntervalMs" validate:"min=1"`
	RepetitionRatio     float64 `yaml:"repetitionRatio" validate:"gt=0,lte=1"`
	// RecoveryFloor is the recent-request count a suspicious session must drop below to recover.
	RecoveryFloor int `yaml:"recoveryFloor" validate:"min=1"`
}

func (t Thresholds) RapidFireInterval() time.Duration { return ms(t.RapidFireIntervalMs) }

// Session configures the per-client behaviour window.
type Session struct {
	WindowMs int64 `yaml:"windowMs" validate:"min=1"`
	// GracePeriodMs is reported as the average interval until two samples exist.
	GracePeriodMs    int64 `yaml:"gracePeriodMs" validate:"min=1"`
	IncludeUserAgent bool  `yaml:"includeUserAgent"`
}

func (s Session) Window() time.Duration      { return ms(s.WindowMs) }
func (s Session) GracePeriod() time.Duration { return ms(s.GracePeriodMs) }

// Eviction configures the background sweeper.
type Eviction struct {
	FingerprintMaxIdleMs int64 `yaml:"fingerprintMaxIdleMs" validate:"min=1"`
	SessionMaxIdleMs     int64 `yaml:"sessionMaxIdleMs" validate:"min=1"`
	IntervalMs           int64 `yaml:"intervalMs" validate:"min=1"`
	InitialDelayMs       int64 `yaml:"initialDelayMs" validate:"min=0"`
}

func (e Eviction) FingerprintMaxIdle() time.Duration { return ms(e.FingerprintMaxIdleMs) }
func (e Eviction) SessionMaxIdle() time.Duration     { return ms(e.SessionMaxIdleMs) }
func (e Eviction) Interval() time.Duration           { return ms(e.IntervalMs) }
func (e Eviction) InitialDelay() time.Duration       { return ms(e.InitialDelayMs) }

// DefaultConfig returns the reference policy.
func DefaultConfig() *Config {
	return &Config{
		Global: Policy{MaxRepeatedRequests: 100, BurstLimit: 50, WindowMs: 60_000, BlockTimeMs: 60_000, GracePeriodMs: 500},
		Routes: map[models.RouteClass]Policy{
			models.ClassAuthLogin:          {MaxRepeatedRequests: 5, BurstLimit: 3, WindowMs: 60_000, BlockTimeMs: 300_000, GracePeriodMs: 2_000},
			models.ClassAuthRegister:       {MaxRepeatedRequests: 3, BurstLimit: 3, WindowMs: 300_000, BlockTimeMs: 600_000, GracePeriodMs: 5_000},
			models.ClassAuthPasswordReset:  {MaxRepeatedRequests: 3, BurstLimit: 3, WindowMs: 300_000, BlockTimeMs: 900_000, GracePeriodMs: 5_000},
			models.ClassCommentsCreate:     {MaxRepeatedRequests: 10, BurstLimit: 5, WindowMs: 60_000, BlockTimeMs: 120_000, GracePeriodMs: 3_000},
			models.ClassAppointmentsCreate: {MaxRepeatedRequests: 10, BurstLimit: 5, WindowMs: 60_000, BlockTimeMs: 120_000, GracePeriodMs: 1_000},
			models.ClassAppointmentsRead:   {MaxRepeatedRequests: 60, BurstLimit: 30, WindowMs: 60_000, BlockTimeMs: 30_000, GracePeriodMs: 100},
			models.ClassPublicRead:         {MaxRepeatedRequests: 100, BurstLimit: 50, WindowMs: 60_000, BlockTimeMs: 30_000, GracePeriodMs: 100},
		},
		SuspiciousActivity: SuspiciousActivity{
			Thresholds: Thresholds{
				RapidFireIntervalMs: 100,
				RepetitionRatio:     0.7,
				RecoveryFloor:       5,
			},
			UserAgentPatterns: []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python", "java"},
			RefererKeywords:   []string{"suspicious", "attack", "hack", "exploit", "malware", "virus"},
		},
		Session: Session{
			WindowMs:      60_000,
			GracePeriodMs: 500,
		},
		Eviction: Eviction{
			FingerprintMaxIdleMs: int64(time.Hour / time.Millisecond),
			SessionMaxIdleMs:     int64(2 * time.Hour / time.Millisecond),
			IntervalMs:           int64(30 * time.Minute / time.Millisecond),
			InitialDelayMs:       int64(5 * time.Minute / time.Millisecond),
		},
	}
}

// PolicyFor returns the policy for class, falling back to the global row.
func (c *Config) PolicyFor(class models.RouteClass) Policy {
	if p, ok := c.Routes[class]; ok {
		return p
	}
	return c.Global
}

// Validate reports missing or malformed values as a configuration error.
func (c *Config) Validate() error {
	if c == nil {
		return dErrors.New(dErrors.CodeConfiguration, "throttle config is required")
	}
	return validation.ValidateAs(c, dErrors.CodeConfiguration)
}

// inheritGlobal fills zero-valued route fields from the global row so
// policy files only need to state what differs.
func (c *Config) inheritGlobal() {
	for class, p := range c.Routes {
		if p.MaxRepeatedRequests == 0 {
			p.MaxRepeatedRequests = c.Global.MaxRepeatedRequests
		}
		if p.BurstLimit == 0 {
			p.BurstLimit = c.Global.BurstLimit
		}
		if p.WindowMs == 0 {
			p.WindowMs = c.Global.WindowMs
		}
		if p.BlockTimeMs == 0 {
			p.BlockTimeMs = c.Global.BlockTimeMs
		}
		if p.GracePeriodMs == 0 {
			p.GracePeriodMs = c.Global.GracePeriodMs
		}
		c.Routes[class] = p
	}
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
