package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimited(t *testing.T, cfg RateConfig) (*RateLimiter, http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	l := NewRateLimiter(client, "search", cfg, nil)
	require.NotNil(t, l)
	return l, l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})), mr
}

func hit(h http.Handler, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stashpoints", nil)
	req.Header.Set("X-Client-ID", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	l, h, _ := newLimited(t, RateConfig{Rate: 1, Burst: 2})
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)
	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)

	rec := hit(h, "a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusNoContent, hit(h, "b").Code, "buckets are per client")

	now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	_, h, mr := newLimited(t, RateConfig{Rate: 1, Burst: 1})
	mr.Close()
	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)
	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	l := NewRateLimiter(nil, "search", RateConfig{Rate: 1, Burst: 1}, nil)
	require.Nil(t, l)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.Equal(t, http.StatusNoContent, hit(h, "a").Code)
}

func TestClientIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	require.Equal(t, "10.0.0.7", clientIdentifier(req))
	req.Header.Set("X-Client-ID", "mobile-app")
	require.Equal(t, "mobile-app", clientIdentifier(req))
}
