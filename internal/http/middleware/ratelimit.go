package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var rateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trip_rate_limit_decisions_total",
	Help: "Rate limiter decisions for trip queries.",
}, []string{"decision"})

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// RateLimiter enforces a per-client token bucket stored in Redis so that all
// replicas share one budget.
type RateLimiter struct {
	client    redis.Scripter
	cfg       RateConfig
	scope     string
	logger    *zap.Logger
	luaScript *redis.Script
	now       func() time.Time
}

// NewRateLimiter returns nil when client is nil, which Middleware treats as
// "no limit".
func NewRateLimiter(client redis.Scripter, scope string, cfg RateConfig, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client:    client,
		cfg:       cfg,
		scope:     scope,
		logger:    logger,
		luaScript: redis.NewScript(tokenBucketLua),
		now:       time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.cfg.Rate <= 0 || l.cfg.Burst <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := clientIdentifier(r)
		if identifier == "" {
			identifier = "anonymous"
		}
		allowed, retryAfter, err := l.allow(r.Context(), identifier)
		if err != nil {
			// Redis trouble must not take the query path down with it.
			rateDecisions.WithLabelValues("error").Inc()
			l.logger.Warn("rate limiter unavailable", zap.String("client", identifier), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rateDecisions.WithLabelValues("rejected").Inc()
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		rateDecisions.WithLabelValues("allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, identifier string) (bool, time.Duration, error) {
	key := strings.Join([]string{"rl", l.scope, identifier}, ":")
	result, err := l.luaScript.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), l.cfg.Rate, l.cfg.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("invalid redis response")
	}

	allowedInt, err := toInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	if allowedInt == 1 {
		return true, 0, nil
	}
	waitSeconds, err := toFloat64(values[1])
	if err != nil {
		return false, 0, err
	}
	return false, time.Duration(math.Ceil(waitSeconds*1000)) * time.Millisecond, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unsupported type")
	}
}

// Lua numbers are truncated to integers on the way out of Redis, so the wait
// is returned as a string.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if last == nil then
  last = now_ms
end

local delta = now_ms - last
if delta < 0 then
  delta = 0
end
local refill = delta * rate / 1000
if refill > 0 then
  tokens = math.min(capacity, tokens + refill)
  last = now_ms
end

local allowed = tokens >= requested
local wait = 0
if allowed then
  tokens = tokens - requested
else
  wait = (requested - tokens) / rate
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'timestamp', tostring(last))
redis.call('PEXPIRE', key, math.ceil((capacity / rate) * 1000) + 1000)

if allowed then
  return {1, "0"}
end
return {0, tostring(wait)}
`
