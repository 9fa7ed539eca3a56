// Package requestcontext carries per-request metadata set by the platform middleware.
package requestcontext

import "context"

type (
	contextKeyClientIP  struct{}
	contextKeyUserAgent struct{}
	contextKeyRequestID struct{}
	contextKeyAdmin     struct{}
)

// WithClientMetadata stores the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, contextKeyClientIP{}, ip)
	return context.WithValue(ctx, contextKeyUserAgent{}, userAgent)
}

// ClientIP returns the client IP or "" when the metadata middleware did not run.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(contextKeyClientIP{}).(string)
	return ip
}

// UserAgent returns the client User-Agent or "".
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(contextKeyUserAgent{}).(string)
	return ua
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID{}).(string)
	return id
}

// WithAdminSubject records the authenticated admin principal for audit attribution.
func WithAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKeyAdmin{}, subject)
}

// AdminSubject returns the admin principal or "" for non-admin requests.
func AdminSubject(ctx context.Context) string {
	s, _ := ctx.Value(contextKeyAdmin{}).(string)
	return s
}
