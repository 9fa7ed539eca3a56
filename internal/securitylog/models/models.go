// Package models defines the security event log records and reports.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// EventType classifies a security event.
type EventType string

const (
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventActiveBlock        EventType = "ACTIVE_BLOCK"
)

// Severity levels, kept as plain strings so the log stays readable on its own.
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// SeverityRank orders severities; unknown values rank lowest.
func SeverityRank(s string) int {
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

// ClientInfo identifies the caller that triggered an event.
type ClientInfo struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent,omitempty"`
	Referer   string `json:"referer,omitempty"`
	Method    string `json:"method,omitempty"`
	URL       string `json:"url,omitempty"`
	// Device is a "Browser on OS" label derived from UserAgent.
	Device string `json:"device,omitempty"`
}

// Event is one append-only record in the security log.
type Event struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	EventType       EventType      `json:"eventType"`
	Severity        string         `json:"severity"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
	MatchedPatterns []string       `json:"matchedPatterns,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Complete fills the identity, timestamp and device label if the caller left them empty.
func (e *Event) Complete(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ClientInfo.Device == "" && e.ClientInfo.UserAgent != "" {
		e.ClientInfo.Device = DeviceLabel(e.ClientInfo.UserAgent)
	}
}

// DeviceLabel renders a user agent as "Browser on OS" (e.g. "Chrome on Windows 10").
func DeviceLabel(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		if name == "" {
			return "Bot"
		}
		return "Bot (" + name + ")"
	}

	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// Offender aggregates the events of one client inside a report window.
type Offender struct {
	IP            string            `json:"ip"`
	EventCount    int               `json:"eventCount"`
	EventTypes    map[EventType]int `json:"eventTypes"`
	WorstSeverity string            `json:"worstSeverity"`
	FirstSeen     time.Time         `json:"firstSeen"`
	LastSeen      time.Time         `json:"lastSeen"`
}

// Report summarises the security log over a window.
type Report struct {
	Since         time.Time         `json:"since"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	TotalEvents   int               `json:"totalEvents"`
	UniqueClients int               `json:"uniqueClients"`
	TopOffenders  []Offender        `json:"topOffenders"`
	EventTypes    map[EventType]int `json:"eventTypes"`
}

// PruneResult reports the outcome of a log rewrite.
type PruneResult struct {
	RemovedCount   int `json:"removedCount"`
	RemainingCount int `json:"remainingCount"`
}
