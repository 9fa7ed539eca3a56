// Package observability turns throttle outcomes into security events and log lines.
package observability

import (
	"context"
	"log/slog"

	slmodels "throttleguard/internal/securitylog/models"
	"throttleguard/internal/throttle/models"
	"throttleguard/pkg/platform/privacy"
	"throttleguard/pkg/requestcontext"
)

// EventSink receives security events. Implementations must not block.
type EventSink interface {
	Log(ctx context.Context, event slmodels.Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Log(context.Context, slmodels.Event) {}

// NewEvent builds a security event for req.
func NewEvent(req models.Request, eventType slmodels.EventType, severity models.Severity, patterns []models.Pattern, details map[string]any) slmodels.Event {
	url := req.URL
	if url == "" {
		url = req.Path
	}
	return slmodels.Event{
		EventType: eventType,
		Severity:  string(severity),
		ClientInfo: slmodels.ClientInfo{
			IP:        req.ClientIP,
			UserAgent: req.UserAgent,
			Referer:   req.Referer,
			Method:    req.Method,
			URL:       url,
		},
		MatchedPatterns: models.PatternStrings(patterns),
		Details:         details,
	}
}

// Emit writes a structured log line for event and hands it to sink.
// The log line carries the anonymised IP; the sink gets the full record.
func Emit(ctx context.Context, logger *slog.Logger, sink EventSink, event slmodels.Event) {
	if logger != nil {
		args := []any{
			"event_type", event.EventType,
			"severity", event.Severity,
			"ip", privacy.AnonymizeIP(event.ClientInfo.IP),
			"log_type", "security",
		}
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			args = append(args, "request_id", requestID)
		}
		if len(event.MatchedPatterns) > 0 {
			args = append(args, "patterns", event.MatchedPatterns)
		}
		logger.DebugContext(ctx, "throttle_security_event", args...)
	}
	if sink != nil {
		sink.Log(ctx, event)
	}
}
