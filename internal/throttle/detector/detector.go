// Package detector scores a client session against the configured suspicious-activity heuristics.
package detector

import (
	"regexp"
	"strings"
	"time"

	"throttleguard/internal/throttle/config"
	"throttleguard/internal/throttle/models"
	dErrors "throttleguard/pkg/domain-errors"
)

// Meta is the per-request input the detector needs besides the session.
type Meta struct {
	UserAgent string
	Referer   string
	// BurstLimit comes from the route class policy.
	BurstLimit int
}

// Result lists matched patterns in detection order and their combined severity.
type Result struct {
	Patterns []models.Pattern
	Severity models.Severity
}

func (r Result) Suspicious() bool {
	return len(r.Patterns) > 0
}

// Has reports whether p matched.
func (r Result) Has(p models.Pattern) bool {
	for _, m := range r.Patterns {
		if m == p {
			return true
		}
	}
	return false
}

// Detector holds the compiled heuristics. It has no mutable state and is safe
// for concurrent use.
type Detector struct {
	rapidFire       time.Duration
	repetition      float64
	userAgents      []*regexp.Regexp
	refererKeywords []string
}

// New compiles the heuristic tables. An invalid user-agent pattern is a
// configuration error.
func New(cfg config.SuspiciousActivity) (*Detector, error) {
	d := &Detector{
		rapidFire:  cfg.Thresholds.RapidFireInterval(),
		repetition: cfg.Thresholds.RepetitionRatio,
	}
	for _, p := range cfg.UserAgentPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid user agent pattern "+p)
		}
		d.userAgents = append(d.userAgents, re)
	}
	for _, k := range cfg.RefererKeywords {
		d.refererKeywords = append(d.refererKeywords, strings.ToLower(k))
	}
	return d, nil
}

// Detect evaluates snap and meta. It has no side effects.
func (d *Detector) Detect(snap models.SessionSnapshot, meta Meta) Result {
	var patterns []models.Pattern
	if snap.RecentCount > meta.BurstLimit {
		patterns = append(patterns, models.PatternHighFrequency)
	}
	if snap.AvgInterval < d.rapidFire {
		patterns = append(patterns, models.PatternRapidFire)
	}
	if snap.RepetitionRatio > d.repetition {
		patterns = append(patterns, models.PatternRepetitive)
	}
	if d.matchUserAgent(meta.UserAgent) {
		patterns = append(patterns, models.PatternSuspiciousUserAgent)
	}
	if d.matchReferer(meta.Referer) {
		patterns = append(patterns, models.PatternSuspiciousReferer)
	}

	r := Result{Patterns: patterns}
	r.Severity = severity(r)
	return r
}

// severity applies the combination rule in order: a rapid-fire burst or a
// tooling user agent is HIGH, any other match is MEDIUM.
func severity(r Result) models.Severity {
	switch {
	case r.Has(models.PatternRapidFire) && r.Has(models.PatternHighFrequency):
		return models.SeverityHigh
	case r.Has(models.PatternSuspiciousUserAgent):
		return models.SeverityHigh
	case r.Suspicious():
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (d *Detector) matchUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	for _, re := range d.userAgents {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

func (d *Detector) matchReferer(referer string) bool {
	if referer == "" {
		return false
	}
	referer = strings.ToLower(referer)
	for _, k := range d.refererKeywords {
		if strings.Contains(referer, k) {
			return true
		}
	}
	return false
}
