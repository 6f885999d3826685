package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthPlainKey(t *testing.T) {
	h := Auth(Credentials{Key: "secret"}, "/api/health")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/deliveries", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/deliveries", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
}

func TestAuthBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	h := Auth(Credentials{Hash: string(hash)})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	req.Header.Set("X-API-Key", "hunter2")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	req.Header.Set("X-API-Key", "hunter3")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestAuthDisabled(t *testing.T) {
	h := Auth(Credentials{})(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/stats", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://ops.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type countingLimiter struct {
	calls int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (bool, error) {
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= limit, nil
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lim := &countingLimiter{}
	h := RateLimit(lim, 2, time.Minute, logger)(okHandler)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodPost, "/api/events", nil)).Code)
	}
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/events", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	failing := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute, logger)(okHandler)
	assert.Equal(t, http.StatusOK, serve(failing, httptest.NewRequest(http.MethodPost, "/api/events", nil)).Code)
}

func TestLoggingEchoesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "abc")
	assert.Equal(t, "abc", serve(h, req).Header().Get(RequestIDHeader))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
