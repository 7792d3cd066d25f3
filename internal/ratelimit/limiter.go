// Package ratelimit enforces a per-user, per-model requests-per-minute limit
// before generation starts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/metrics"
)

// Message is the user-facing text for a rejected request.
const Message = "Rate limit exceeded. Please try again later."

// ErrRateLimited is matched by every rejection.
var ErrRateLimited = errors.New("rate limit exceeded")

// Window is the counting window.
const Window = time.Minute

// Result describes one decision.
type Result struct {
	Allowed    bool
	Used       int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// LimitError is returned when a request is rejected.
type LimitError struct {
	Result
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s (%d/%d per minute)", Message, e.Used, e.Limit)
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limits resolves the requests-per-minute limit for a model. The default can
// be changed at runtime.
type Limits struct {
	rpm      atomic.Int64
	override func(model string, fallback int) int
}

// NewLimits returns limits with defaultRPM and an optional per-model override.
func NewLimits(defaultRPM int, override func(model string, fallback int) int) *Limits {
	l := &Limits{override: override}
	l.SetDefault(defaultRPM)
	return l
}

// SetDefault changes the default limit.
func (l *Limits) SetDefault(rpm int) {
	l.rpm.Store(int64(rpm))
}

// Default returns the default limit.
func (l *Limits) Default() int {
	return int(l.rpm.Load())
}

// For returns the limit applying to model.
func (l *Limits) For(model string) int {
	def := l.Default()
	if l.override != nil {
		return l.override(model, def)
	}
	return def
}

// NewRedisClient parses a redis:// URL. The URL must name a host.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid redis URL: no hostname in %q", u.Redacted())
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisLimiter counts requests in Redis under
// user:{user}:{model}:rate:minute:{unix/60}. Redis failures fail open.
type RedisLimiter struct {
	redis  *redis.Client
	limits *Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limits *Limits, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{redis: client, limits: limits, logger: logger, now: time.Now}
}

// Key returns the counter key for a user, model and instant.
func Key(userID, model string, at time.Time) string {
	return fmt.Sprintf("user:%s:%s:rate:minute:%d", userID, model, at.Unix()/60)
}

// Check reads the current count and, when under the limit, records the request.
func (l *RedisLimiter) Check(ctx context.Context, userID, model string) (*Result, error) {
	now := l.now()
	limit := l.limits.For(model)
	key := Key(userID, model, now)
	resetAt := time.Unix((now.Unix()/60+1)*60, 0)

	count, err := l.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return &Result{Allowed: true, Limit: limit}, fmt.Errorf("read rate counter: %w", err)
	}

	res := &Result{Used: count, Limit: limit, ResetAt: resetAt}
	if count >= limit {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
		return res, nil
	}

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return &Result{Allowed: true, Limit: limit}, fmt.Errorf("record request: %w", err)
	}
	res.Allowed = true
	res.Used = int(incr.Val())
	return res, nil
}

// Allow implements the inlet limiter contract.
func (l *RedisLimiter) Allow(ctx context.Context, userID, model string) error {
	res, err := l.Check(ctx, userID, model)
	if err != nil {
		metrics.RecordRateLimit("redis", "error")
		l.logger.Error("Rate limit Redis error", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		metrics.RecordRateLimit("redis", "limited")
		l.logger.Warn("Rate limit exceeded",
			zap.String("user_id", userID),
			zap.String("model", model),
			zap.Int("requests", res.Used),
			zap.Int("limit", res.Limit))
		return &LimitError{Result: *res}
	}
	metrics.RecordRateLimit("redis", "allowed")
	return nil
}

// Ping checks Redis connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}

type bucket struct {
	limit   int
	limiter *rate.Limiter
}

// LocalLimiter is an in-process token bucket per user and model. It does not
// coordinate across replicas.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  *Limits
	logger  *zap.Logger
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(limits *Limits, logger *zap.Logger) *LocalLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalLimiter{buckets: make(map[string]*bucket), limits: limits, logger: logger}
}

// Allow implements the inlet limiter contract.
func (l *LocalLimiter) Allow(_ context.Context, userID, model string) error {
	limit := l.limits.For(model)
	key := userID + ":" + model

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok || b.limit != limit {
		b = &bucket{limit: limit, limiter: newBucket(limit)}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if b.limiter.Allow() {
		metrics.RecordRateLimit("local", "allowed")
		return nil
	}
	metrics.RecordRateLimit("local", "limited")
	l.logger.Warn("Rate limit exceeded",
		zap.String("user_id", userID),
		zap.String("model", model),
		zap.Int("limit", limit))
	return &LimitError{Result: Result{Used: limit, Limit: limit, RetryAfter: Window / time.Duration(max(limit, 1))}}
}

func newBucket(limit int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Every(Window/time.Duration(limit)), limit)
}
