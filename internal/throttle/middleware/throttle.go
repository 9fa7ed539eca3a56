package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"throttleguard/internal/throttle/models"
	"throttleguard/pkg/platform/httputil"
	"throttleguard/pkg/platform/privacy"
	"throttleguard/pkg/requestcontext"
)

// DefaultMaxBodyBytes bounds how much of a request body is read for
// fingerprinting. Longer bodies are fingerprinted by prefix and declared length.
const DefaultMaxBodyBytes = 64 << 10

type Evaluator interface {
	Evaluate(ctx context.Context, req models.Request) models.Decision
}

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	RetryAfter int      `json:"retryAfter"`
	Reason     string   `json:"reason,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`
}

type Middleware struct {
	evaluator    Evaluator
	logger       *slog.Logger
	maxBodyBytes int64
}

type Option func(*Middleware)

// WithMaxBodyBytes caps the body prefix hashed into the fingerprint.
func WithMaxBodyBytes(n int64) Option {
	return func(m *Middleware) {
		if n > 0 {
			m.maxBodyBytes = n
		}
	}
}

func New(evaluator Evaluator, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		evaluator:    evaluator,
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Throttle evaluates every request against the policy row for class and
// answers 429 when the engine rejects it.
func (m *Middleware) Throttle(class models.RouteClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, truncated, err := m.peekBody(r)
			if err != nil {
				// fingerprint without the body rather than fail the request
				m.logger.WarnContext(ctx, "throttle_body_read_failed", "error", err)
			}

			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = r.RemoteAddr
			}
			ua := requestcontext.UserAgent(ctx)
			if ua == "" {
				ua = r.UserAgent()
			}

			decision := m.evaluator.Evaluate(ctx, models.Request{
				ClientIP:  ip,
				Method:    r.Method,
				Path:      r.URL.Path,
				URL:       r.URL.RequestURI(),
				Body:      body,
				UserAgent: ua,
				Referer:   r.Referer(),
				Class:     class,

				BodyTruncated: truncated,
				BodySize:      bodySize(r, body, truncated),
			})
			if decision.Allow {
				next.ServeHTTP(w, r)
				return
			}

			m.logger.InfoContext(ctx, "request_throttled",
				"ip", privacy.AnonymizeIP(ip),
				"route_class", class,
				"severity", decision.Severity,
				"retry_after", decision.RetryAfterSeconds,
			)
			writeRateLimited(w, decision)
		})
	}
}

// peekBody reads up to maxBodyBytes of a mutating request's body and puts it
// back so the next handler sees the full stream. truncated reports that the
// body continues past the returned prefix.
func (m *Middleware) peekBody(r *http.Request) (prefix []byte, truncated bool, err error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, false, nil
	}

	peek, err := io.ReadAll(io.LimitReader(r.Body, m.maxBodyBytes+1))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(peek), r.Body), Closer: r.Body}
	if int64(len(peek)) > m.maxBodyBytes {
		return peek[:m.maxBodyBytes], true, err
	}
	return peek, false, err
}

func bodySize(r *http.Request, body []byte, truncated bool) int64 {
	if !truncated {
		return int64(len(body))
	}
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	return -1
}

type replayBody struct {
	io.Reader
	io.Closer
}

func writeRateLimited(w http.ResponseWriter, decision models.Decision) {
	resp := RateLimitedResponse{
		Success:    false,
		Message:    decision.Reason,
		RetryAfter: decision.RetryAfterSeconds,
	}
	if len(decision.MatchedPatterns) > 0 {
		resp.Reason = "suspicious_activity"
		resp.Patterns = models.PatternStrings(decision.MatchedPatterns)
	}
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
	httputil.WriteJSON(w, http.StatusTooManyRequests, resp)
}
