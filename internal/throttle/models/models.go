package models

import (
	"time"
)

// RouteClass names the policy row applied to a route.
type RouteClass string

const (
	ClassGlobal             RouteClass = "global"
	ClassAuthLogin          RouteClass = "auth.login"
	ClassAuthRegister       RouteClass = "auth.register"
	ClassAuthPasswordReset  RouteClass = "auth.passwordReset"
	ClassCommentsCreate     RouteClass = "comments.create"
	ClassAppointmentsCreate RouteClass = "appointments.create"
	ClassAppointmentsRead   RouteClass = "appointments.read"
	ClassPublicRead         RouteClass = "public.read"
)

// Severity grades how alarming a request looks.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities so the worst can be picked.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Pattern is the name of a suspicious behaviour signal.
type Pattern string

const (
	PatternHighFrequency       Pattern = "highFrequency"
	PatternRapidFire           Pattern = "rapidFire"
	PatternRepetitive          Pattern = "repetitive"
	PatternSuspiciousUserAgent Pattern = "suspiciousUserAgent"
	PatternSuspiciousReferer   Pattern = "suspiciousReferer"
)

// PatternStrings converts patterns for JSON and log output.
func PatternStrings(patterns []Pattern) []string {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = string(p)
	}
	return out
}

// Human-readable rejection reasons returned to clients.
const (
	ReasonRequestLimit       = "Request limit reached for this action. Please wait before trying again."
	ReasonSuspiciousActivity = "Suspicious activity detected. Please slow down."
	ReasonActiveBlock        = "Too many repeated requests. This action is temporarily blocked."
)

// Request is everything the engine needs to know about an inbound call.
type Request struct {
	ClientIP  string
	Method    string
	Path      string
	URL       string
	Body      []byte
	UserAgent string
	Referer   string
	Class     RouteClass

	// BodyTruncated marks Body as a prefix of the full body. BodySize is then
	// the declared length, or -1 when the client sent none.
	BodyTruncated bool
	BodySize      int64
}

// Decision is the engine's verdict for one request.
type Decision struct {
	Allow             bool
	Reason            string
	MatchedPatterns   []Pattern
	Severity          Severity
	RetryAfterSeconds int
}

// SessionSnapshot exposes the derived metrics of a client session at one instant.
type SessionSnapshot struct {
	ClientKey             string
	RecentCount           int
	UniqueCount           int
	RepetitionRatio       float64
	AvgInterval           time.Duration
	TotalRequestsEverSeen int64
	FirstSeenAt           time.Time
	LastActivityAt        time.Time
	Legitimate            bool
}

// BlockInfo describes an active fingerprint block so repeated rejections can replay it.
type BlockInfo struct {
	ExpiresAt time.Time
	Reason    string
	Patterns  []Pattern
	Severity  Severity
}

// Stats is a point-in-time view of tracker sizes.
type Stats struct {
	TrackedFingerprints int `json:"trackedFingerprints"`
	BlockedFingerprints int `json:"blockedFingerprints"`
	TrackedSessions     int `json:"trackedSessions"`
	SuspiciousSessions  int `json:"suspiciousSessions"`
}

// ResetResult reports what an admin reset removed.
type ResetResult struct {
	ClientIP            string `json:"clientIp"`
	FingerprintsRemoved int    `json:"fingerprintsRemoved"`
	SessionsRemoved     int    `json:"sessionsRemoved"`
}

// EvictionResult reports what one sweep removed.
type EvictionResult struct {
	FingerprintsEvicted int
	SessionsEvicted     int
}
