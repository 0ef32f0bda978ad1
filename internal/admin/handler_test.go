package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret"

func newHandler(t *testing.T) *Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewHandler("ops", string(hash), secret, time.Hour, nil)
}

func login(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/login", strings.NewReader(body)))
	return rec
}

func protected() http.Handler {
	return AdminAuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := Username(r.Context())
		_, _ = w.Write([]byte(name))
	}))
}

func TestLoginIssuesUsableToken(t *testing.T) {
	h := newHandler(t)
	rec := login(t, h, `{"username":"ops","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/me", nil)
	req.Header.Set("Authorization", "Bearer "+body["token"])
	out := httptest.NewRecorder()
	protected().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "ops", out.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newHandler(t)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"ops","password":"nope"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(t, h, `{"username":"root","password":"s3cret"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(t, h, `{`).Code)
}

func TestLoginNotConfigured(t *testing.T) {
	h := NewHandler("ops", "", secret, time.Hour, nil)
	assert.Equal(t, http.StatusServiceUnavailable, login(t, h, `{"username":"ops","password":"x"}`).Code)
}

func TestMiddlewareRejects(t *testing.T) {
	sign := func(claims jwt.MapClaims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign(jwt.MapClaims{"role": "admin", "exp": exp}, "other"), http.StatusForbidden},
		{"expired", "Bearer " + sign(jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}, secret), http.StatusForbidden},
		{"no exp", "Bearer " + sign(jwt.MapClaims{"role": "admin"}, secret), http.StatusForbidden},
		{"wrong role", "Bearer " + sign(jwt.MapClaims{"role": "user", "exp": exp}, secret), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protected().ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
