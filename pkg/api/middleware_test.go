package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	t.Parallel()

	h := APIKeyMiddleware("secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/indexer/status?chainId=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyMiddlewareAcceptsMatchingKey(t *testing.T) {
	t.Parallel()

	h := APIKeyMiddleware("secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/indexer/status?chainId=1", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddlewareDisabledWhenUnconfigured(t *testing.T) {
	t.Parallel()

	h := APIKeyMiddleware("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/indexer/status?chainId=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddlewareWildcardEchoesOrigin(t *testing.T) {
	t.Parallel()

	h := CORSMiddleware([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareRejectsUnlistedOrigin(t *testing.T) {
	t.Parallel()

	h := CORSMiddleware([]string{"https://allowed.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
