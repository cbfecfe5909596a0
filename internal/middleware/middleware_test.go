package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pirwatch/internal/auth"
)

func protected(t *testing.T, a *auth.Authenticator) http.Handler {
	t.Helper()
	return AuthMiddleware(a, "/api/v1/auth/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			w.Write([]byte(claims.Username))
			return
		}
		w.Write([]byte("anonymous"))
	}))
}

func serve(h http.Handler, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{Enabled: true, Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)
	h := protected(t, a)

	rec := serve(h, "/api/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error": "missing authorization header"}`, rec.Body.String())

	rec = serve(h, "/api/v1/status", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid authorization header format")

	rec = serve(h, "/api/v1/status", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")

	rec = serve(h, "/api/v1/status", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())

	rec = serve(h, "/ws?token="+token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, "/api/v1/auth/login", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = serve(h, "/api/v1/auth/login", "Bearer "+token)
	assert.Equal(t, "admin", rec.Body.String())
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	a, err := auth.NewAuthenticator(auth.Config{})
	require.NoError(t, err)

	rec := serve(protected(t, a), "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = RequireAuth(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(log.New(&buf, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/system/start", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	assert.Contains(t, buf.String(), "POST /api/v1/system/start 418")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}
