package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	slmodels "throttleguard/internal/securitylog/models"
	"throttleguard/internal/throttle/config"
	"throttleguard/internal/throttle/detector"
	"throttleguard/internal/throttle/models"
	"throttleguard/internal/throttle/observability"
	"throttleguard/internal/throttle/store/fingerprint"
	"throttleguard/pkg/platform/privacy"
)

// Block rules, used as metric labels and event details.
const (
	ruleMaxRepeated = "maxRepeatedRequests"
	ruleBurst       = "burstLimit"
	ruleGrace       = "gracePeriod"
)

const (
	outcomeAllow       = "allow"
	outcomeBlock       = "block"
	outcomeActiveBlock = "active_block"
	outcomeBypass      = "bypass"
)

// Evaluate decides one request. It never fails: tracker races fail open and
// rejection is reported through Decision.Allow.
func (e *Engine) Evaluate(ctx context.Context, req models.Request) models.Decision {
	start := time.Now()
	if req.Class == "" {
		req.Class = models.ClassGlobal
	}

	ctx, span := e.tracer.Start(ctx, "throttle.Evaluate", attribute.String("route_class", string(req.Class)))
	decision, outcome := e.evaluate(ctx, req)
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("allow", decision.Allow),
	)
	span.End(nil)

	if e.metrics != nil {
		e.metrics.IncrementDecision(string(req.Class), outcome)
		e.metrics.ObserveEvaluateDuration(time.Since(start).Seconds())
	}
	return decision
}

func (e *Engine) evaluate(ctx context.Context, req models.Request) (models.Decision, string) {
	if e.allowlisted(req.ClientIP) {
		return models.Decision{Allow: true, Severity: models.SeverityLow}, outcomeBypass
	}

	now := e.clock.Now()
	policy := e.config.PolicyFor(req.Class)
	fp := req.Fingerprint()

	obs := e.fingerprints.Observe(fp.Key, policy.Window(), now)
	if obs.Blocked {
		return e.rejectActiveBlock(ctx, req, fp, obs.Block, now), outcomeActiveBlock
	}

	var detection detector.Result
	sessionKey := models.SessionKey(req.ClientIP, req.UserAgent, e.config.Session.IncludeUserAgent)
	snap := e.sessions.Record(sessionKey, fp.Hash, now, func(s models.SessionSnapshot) bool {
		detection = e.detector.Detect(s, detector.Meta{
			UserAgent:  req.UserAgent,
			Referer:    req.Referer,
			BurstLimit: policy.BurstLimit,
		})
		return detection.Suspicious()
	})
	if e.metrics != nil {
		for _, p := range detection.Patterns {
			e.metrics.IncrementPattern(string(p))
		}
	}

	rule := blockRule(policy, snap.Legitimate, obs, now)
	if rule == "" {
		return models.Decision{
			Allow:           true,
			MatchedPatterns: detection.Patterns,
			Severity:        detection.Severity,
		}, outcomeAllow
	}

	block := models.BlockInfo{
		ExpiresAt: now.Add(policy.BlockTime()),
		Reason:    models.ReasonRequestLimit,
		Severity:  detection.Severity,
	}
	if !snap.Legitimate {
		block.Reason = models.ReasonSuspiciousActivity
		block.Patterns = detection.Patterns
		// suspicion is sticky, so a quiet request from a flagged client still rates MEDIUM
		if block.Severity.Rank() < models.SeverityMedium.Rank() {
			block.Severity = models.SeverityMedium
		}
	}

	transitioned, err := e.fingerprints.SetBlocked(fp.Key, block, now)
	if err != nil {
		// the entry was evicted between observe and block; treat it as new
		if e.metrics != nil {
			e.metrics.IncrementTransientErrors()
		}
		e.logger.DebugContext(ctx, "throttle_transient_state",
			"ip", privacy.AnonymizeIP(req.ClientIP),
			"route_class", req.Class,
			"error", err,
		)
		return models.Decision{Allow: true, MatchedPatterns: detection.Patterns, Severity: detection.Severity}, outcomeAllow
	}

	if transitioned {
		if e.metrics != nil {
			e.metrics.IncrementBlock(string(req.Class), rule)
		}
		e.emitBlock(ctx, req, fp, policy, rule, obs, snap, block)
	}

	return models.Decision{
		Allow:             false,
		Reason:            block.Reason,
		MatchedPatterns:   block.Patterns,
		Severity:          block.Severity,
		RetryAfterSeconds: retryAfterSeconds(block.ExpiresAt.Sub(now)),
	}, outcomeBlock
}

// blockRule returns the rule that moves the fingerprint to BLOCKED, or "".
// Legitimate sessions get the generous ceiling. Suspicious sessions get the
// burst limit and must also respect the grace period between repeats.
func blockRule(policy config.Policy, legitimate bool, obs fingerprint.Observation, now time.Time) string {
	if legitimate {
		if obs.Count > policy.MaxRepeatedRequests {
			return ruleMaxRepeated
		}
		return ""
	}
	if obs.Count > policy.BurstLimit {
		return ruleBurst
	}
	if !obs.PreviousAt.IsZero() && now.Sub(obs.PreviousAt) < policy.GracePeriod() {
		return ruleGrace
	}
	return ""
}

func (e *Engine) rejectActiveBlock(ctx context.Context, req models.Request, fp models.Fingerprint, block models.BlockInfo, now time.Time) models.Decision {
	remaining := block.ExpiresAt.Sub(now)
	reason := block.Reason
	if reason == "" {
		reason = models.ReasonActiveBlock
	}
	decision := models.Decision{
		Allow:             false,
		Reason:            reason,
		MatchedPatterns:   block.Patterns,
		Severity:          block.Severity,
		RetryAfterSeconds: retryAfterSeconds(remaining),
	}

	observability.Emit(ctx, e.logger, e.sink, observability.NewEvent(req, slmodels.EventActiveBlock, block.Severity, block.Patterns, map[string]any{
		"routeClass":        string(req.Class),
		"fingerprint":       fp.Hash,
		"remainingMs":       remaining.Milliseconds(),
		"retryAfterSeconds": decision.RetryAfterSeconds,
		"blockExpiresAt":    block.ExpiresAt,
	}))
	return decision
}

func (e *Engine) emitBlock(
	ctx context.Context,
	req models.Request,
	fp models.Fingerprint,
	policy config.Policy,
	rule string,
	obs fingerprint.Observation,
	snap models.SessionSnapshot,
	block models.BlockInfo,
) {
	observability.Emit(ctx, e.logger, e.sink, observability.NewEvent(req, slmodels.EventRateLimitExceeded, block.Severity, nil, map[string]any{
		"routeClass":     string(req.Class),
		"fingerprint":    fp.Hash,
		"rule":           rule,
		"count":          obs.Count,
		"maxRepeated":    policy.MaxRepeatedRequests,
		"burstLimit":     policy.BurstLimit,
		"windowMs":       policy.WindowMs,
		"blockTimeMs":    policy.BlockTimeMs,
		"blockExpiresAt": block.ExpiresAt,
		"legitimate":     snap.Legitimate,
	}))
	if snap.Legitimate {
		return
	}
	observability.Emit(ctx, e.logger, e.sink, observability.NewEvent(req, slmodels.EventSuspiciousActivity, block.Severity, block.Patterns, map[string]any{
		"routeClass":            string(req.Class),
		"recentCount":           snap.RecentCount,
		"uniqueCount":           snap.UniqueCount,
		"repetitionRatio":       snap.RepetitionRatio,
		"avgIntervalMs":         snap.AvgInterval.Milliseconds(),
		"totalRequestsEverSeen": snap.TotalRequestsEverSeen,
	}))
}
