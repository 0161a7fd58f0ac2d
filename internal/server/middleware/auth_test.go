package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func authedHandler(apiKey, adminKey string) http.Handler {
	return Auth(apiKey, adminKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doRequest(t *testing.T, h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledWhenNoAPIKey(t *testing.T) {
	h := authedHandler("", "admin-key")
	rec := doRequest(t, h, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthBearerAndHeaderTokens(t *testing.T) {
	h := authedHandler("public-key", "admin-key")

	rec := doRequest(t, h, "/api/positions", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, "/api/positions", map[string]string{"Authorization": "Bearer public-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "/api/positions", map[string]string{"X-API-Key": "public-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "/api/positions", map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminPathsRequireAdminKey(t *testing.T) {
	h := authedHandler("public-key", "admin-key")

	// The public key is not enough for the admin surface.
	rec := doRequest(t, h, "/api/admin/pause", map[string]string{"Authorization": "Bearer public-key"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, "/api/admin/pause", map[string]string{"Authorization": "Bearer admin-key"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminSurfaceDisabledWithoutAdminKey(t *testing.T) {
	// No admin key means the admin surface is closed, not open.
	h := authedHandler("", "")
	rec := doRequest(t, h, "/api/admin/pause", map[string]string{"Authorization": "Bearer anything"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminKeyMarksContext(t *testing.T) {
	var sawAdmin bool
	h := Auth("public-key", "admin-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAdmin = IsAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// The admin key works on the public surface and marks the context.
	rec := doRequest(t, h, "/api/positions", map[string]string{"Authorization": "Bearer admin-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, sawAdmin)

	rec = doRequest(t, h, "/api/positions", map[string]string{"Authorization": "Bearer public-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, sawAdmin)

	rec = doRequest(t, h, "/api/admin/pause", map[string]string{"Authorization": "Bearer admin-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, sawAdmin)
}
