package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/proctor/internal/hub"
	"github.com/raysh454/proctor/internal/ledger"
	"github.com/raysh454/proctor/internal/policy"
	"github.com/raysh454/proctor/internal/testutil"
)

func newAuthServer(t *testing.T) *Server {
	t.Helper()
	logger := &testutil.DummyLogger{}
	l := ledger.New(ledger.NewMemoryStore(), policy.New(policy.DefaultConfig()), ledger.DefaultConfig(), nil, logger)
	cfg := DefaultConfig()
	cfg.JWTSecret = "secret"
	cfg.Logger = logger
	s := NewServer(cfg, l, hub.New(hub.DefaultConfig(), logger))
	t.Cleanup(func() {
		s.Close()
		l.Shutdown()
	})
	return s
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	_, ok := bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer abc")
	tok, ok := bearerToken(r)
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	ws := httptest.NewRequest("GET", "/ws/exams/e1/monitor?access_token=xyz", nil)
	tok, ok = bearerToken(ws)
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)
}

func TestRequireModerator_RoleAndExpiry(t *testing.T) {
	t.Parallel()
	s := newAuthServer(t)

	sign := func(claims ModeratorClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return tok
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := []struct {
		name   string
		claims ModeratorClaims
		want   int
	}{
		{"student role", ModeratorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: future}, Roles: []string{"student"}}, 403},
		{"no subject", ModeratorClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}, Roles: []string{RoleModerator}}, 403},
		{"expired", ModeratorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}, Roles: []string{RoleModerator}}, 401},
		{"no expiry", ModeratorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, Roles: []string{RoleModerator}}, 401},
		{"valid", ModeratorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: future}, Roles: []string{RoleModerator}}, 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/sessions/ghost/stats", nil)
			req.Header.Set("Authorization", "Bearer "+sign(tc.claims))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestIssueModeratorToken_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := IssueModeratorToken("", "mod", time.Hour)
	assert.Error(t, err)
}

func TestSessionLimiter(t *testing.T) {
	t.Parallel()
	l := newSessionLimiter(0.001, 2)
	defer l.close()

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "sessions have independent buckets")
}
