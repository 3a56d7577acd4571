package middleware

import (
	"context"
	"fmt"
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

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_rate_limited_total",
	Help: "Requests rejected by the per-client rate limiter grouped by scope.",
}, []string{"scope"})

// RateLimiter throttles a route per client with a token bucket kept in
// Redis, so the limit holds across replicas.
type RateLimiter struct {
	client redis.Cmdable
	scope  string
	cfg    RateConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil or the rate is disabled; a nil
// limiter's Middleware passes requests through.
func NewRateLimiter(client redis.Cmdable, scope string, cfg RateConfig, logger *zap.Logger) *RateLimiter {
	if client == nil || cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, scope: scope, cfg: cfg, logger: logger, now: time.Now}
}

// Middleware answers 429 with Retry-After once the client's bucket is empty.
// Redis failures let the request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.allow(r.Context(), clientIdentifier(r))
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.String("scope", l.scope), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			rateLimited.WithLabelValues(l.scope).Inc()
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, identifier string) (bool, time.Duration, error) {
	key := strings.Join([]string{"rl", l.scope, identifier}, ":")
	values, err := tokenBucket.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), l.cfg.Rate, l.cfg.Burst).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket: %w", err)
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("token bucket: unexpected reply %v", values)
	}
	return values[0] == 1, time.Duration(values[1]) * time.Millisecond, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return host
}

func formatRetryAfter(d time.Duration) string {
	return strconv.Itoa(max(int(math.Ceil(d.Seconds())), 1))
}

// tokenBucket refills by elapsed time, takes one token when available and
// replies {allowed, wait_ms}. Idle buckets expire once they would be full.
var tokenBucket = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now_ms

local elapsed = math.max(0, now_ms - ts)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], math.ceil(burst * 1000 / rate))
return {allowed, wait_ms}
`)
