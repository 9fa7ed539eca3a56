package admin

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"

	"throttleguard/pkg/requestcontext"
)

// AdminMiddlewareSuite tests the admin bearer guard.
//
// Justification: the report and prune endpoints expose full client IPs.
// The invariant "a request without a valid admin token never reaches the handler" must hold.
type AdminMiddlewareSuite struct {
	suite.Suite
	secret []byte
	logger *slog.Logger
}

func TestAdminMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AdminMiddlewareSuite))
}

func (s *AdminMiddlewareSuite) SetupTest() {
	s.secret = []byte("test-admin-secret")
	s.logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func (s *AdminMiddlewareSuite) sign(method jwt.SigningMethod, key any, role string, exp time.Time) string {
	token := jwt.NewWithClaims(method, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@barbershop.test",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(key)
	s.Require().NoError(err)
	return signed
}

func (s *AdminMiddlewareSuite) serve(authHeader string) (*httptest.ResponseRecorder, bool, string) {
	called := false
	subject := ""
	handler := RequireAdmin(s.secret, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		subject = requestcontext.AdminSubject(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/security/report", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, called, subject
}

func (s *AdminMiddlewareSuite) TestValidAdminToken() {
	token := s.sign(jwt.SigningMethodHS256, s.secret, RoleAdmin, time.Now().Add(time.Hour))

	rec, called, subject := s.serve("Bearer " + token)

	s.True(called)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ops@barbershop.test", subject)
}

func (s *AdminMiddlewareSuite) TestRejections() {
	s.Run("missing header", func() {
		rec, called, _ := s.serve("")
		s.False(called)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("wrong secret", func() {
		token := s.sign(jwt.SigningMethodHS256, []byte("other"), RoleAdmin, time.Now().Add(time.Hour))
		rec, called, _ := s.serve("Bearer " + token)
		s.False(called)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("expired", func() {
		token := s.sign(jwt.SigningMethodHS256, s.secret, RoleAdmin, time.Now().Add(-time.Hour))
		rec, called, _ := s.serve("Bearer " + token)
		s.False(called)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Contains(rec.Body.String(), "token expired")
	})

	s.Run("alg none", func() {
		token := s.sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, RoleAdmin, time.Now().Add(time.Hour))
		rec, called, _ := s.serve("Bearer " + token)
		s.False(called)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("non admin role", func() {
		token := s.sign(jwt.SigningMethodHS256, s.secret, "barber", time.Now().Add(time.Hour))
		rec, called, _ := s.serve("Bearer " + token)
		s.False(called)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}
