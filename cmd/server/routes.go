package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"

	"throttleguard/internal/throttle/models"
)

// throttledRoute maps a public route to the policy row that guards it.
type throttledRoute struct {
	method  string
	pattern string
	class   models.RouteClass
}

var throttledRoutes = []throttledRoute{
	{http.MethodPost, "/api/auth/login", models.ClassAuthLogin},
	{http.MethodPost, "/api/auth/register", models.ClassAuthRegister},
	{http.MethodPost, "/api/auth/password-reset", models.ClassAuthPasswordReset},
	{http.MethodPost, "/api/barbers/{barberID}/comments", models.ClassCommentsCreate},
	{http.MethodPost, "/api/appointments", models.ClassAppointmentsCreate},
	{http.MethodGet, "/api/appointments", models.ClassAppointmentsRead},
	{http.MethodGet, "/api/appointments/{appointmentID}", models.ClassAppointmentsRead},
	{http.MethodGet, "/api/barbers", models.ClassPublicRead},
	{http.MethodGet, "/api/barbers/{barberID}", models.ClassPublicRead},
	{http.MethodGet, "/api/services", models.ClassPublicRead},
}

type throttler interface {
	Throttle(class models.RouteClass) func(http.Handler) http.Handler
}

// registerThrottled mounts every known route, plus a global catch-all, in
// front of upstream.
func registerThrottled(r chi.Router, t throttler, upstream http.Handler) {
	for _, route := range throttledRoutes {
		r.With(t.Throttle(route.class)).Method(route.method, route.pattern, upstream)
	}
	r.With(t.Throttle(models.ClassGlobal)).Handle("/api/*", upstream)
}

func newUpstream(raw string) (http.Handler, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
