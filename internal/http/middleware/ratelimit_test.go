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

func newLimiter(t *testing.T, cfg RateConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRateLimiter(client, "trips", cfg, nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l, mr
}

func serve(h http.Handler, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("X-Client-ID", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	l, _ := newLimiter(t, RateConfig{Rate: 0.5, Burst: 2})
	h := l.Middleware(ok)

	require.Equal(t, http.StatusOK, serve(h, "a").Code)
	require.Equal(t, http.StatusOK, serve(h, "a").Code)

	rec := serve(h, "a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, serve(h, "b").Code, "buckets are per client")
}

func TestRateLimiterRefills(t *testing.T) {
	l, _ := newLimiter(t, RateConfig{Rate: 1, Burst: 1})
	h := l.Middleware(ok)
	start := l.now()

	require.Equal(t, http.StatusOK, serve(h, "a").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(h, "a").Code)

	l.now = func() time.Time { return start.Add(1500 * time.Millisecond) }
	require.Equal(t, http.StatusOK, serve(h, "a").Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	l, mr := newLimiter(t, RateConfig{Rate: 1, Burst: 1})
	mr.Close()

	require.Equal(t, http.StatusOK, serve(l.Middleware(ok), "a").Code)
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	var l *RateLimiter = NewRateLimiter(nil, "trips", RateConfig{Rate: 1, Burst: 1}, nil)
	require.Nil(t, l)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(l.Middleware(ok), "a").Code)
	}
}

func TestClientIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.RemoteAddr = "10.0.0.7:4312"
	require.Equal(t, "10.0.0.7", clientIdentifier(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientIdentifier(req))

	req.Header.Set("X-Client-ID", "dashboard")
	require.Equal(t, "dashboard", clientIdentifier(req))
}
