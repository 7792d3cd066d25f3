package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisLimiter(t *testing.T, rpm int) (*RedisLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, NewLimits(rpm, nil), zap.NewNop())
	now := time.Unix(1_700_000_080, 0)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user:u1:gemini-2.0-flash:rate:minute:28333334",
		Key("u1", "gemini-2.0-flash", time.Unix(1_700_000_040, 0)))
}

func TestRedisLimiter_AllowsUpToLimit(t *testing.T) {
	l, mr, now := newTestRedisLimiter(t, 2)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1", "gemini-2.0-flash"))
	require.NoError(t, l.Allow(ctx, "u1", "gemini-2.0-flash"))

	err := l.Allow(ctx, "u1", "gemini-2.0-flash")
	require.ErrorIs(t, err, ErrRateLimited)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Limit)
	assert.Equal(t, 2, le.Used)
	assert.Equal(t, 20*time.Second, le.RetryAfter)
	assert.Contains(t, err.Error(), Message)

	key := Key("u1", "gemini-2.0-flash", *now)
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", val, "rejected requests are not counted")
	assert.Equal(t, Window, mr.TTL(key))
}

func TestRedisLimiter_SeparateUsersAndModels(t *testing.T) {
	l, _, _ := newTestRedisLimiter(t, 1)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1", "gemini-2.0-flash"))
	require.NoError(t, l.Allow(ctx, "u2", "gemini-2.0-flash"))
	require.NoError(t, l.Allow(ctx, "u1", "gemini-2.5-pro-preview-03-25"))
	assert.ErrorIs(t, l.Allow(ctx, "u1", "gemini-2.0-flash"), ErrRateLimited)
}

func TestRedisLimiter_NewMinuteResets(t *testing.T) {
	l, _, now := newTestRedisLimiter(t, 1)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1", "m"))
	require.ErrorIs(t, l.Allow(ctx, "u1", "m"), ErrRateLimited)

	*now = now.Add(time.Minute)
	assert.NoError(t, l.Allow(ctx, "u1", "m"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	l, mr, _ := newTestRedisLimiter(t, 1)
	mr.Close()

	_, err := l.Check(context.Background(), "u1", "m")
	assert.Error(t, err)
	assert.NoError(t, l.Allow(context.Background(), "u1", "m"))
}

func TestRedisLimiter_HotReloadedLimit(t *testing.T) {
	l, _, _ := newTestRedisLimiter(t, 1)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1", "m"))
	require.ErrorIs(t, l.Allow(ctx, "u1", "m"), ErrRateLimited)

	l.limits.SetDefault(3)
	assert.NoError(t, l.Allow(ctx, "u1", "m"))
}

func TestRedisLimiter_Ping(t *testing.T) {
	l, mr, _ := newTestRedisLimiter(t, 1)
	assert.NoError(t, l.Ping(context.Background()))
	mr.Close()
	assert.Error(t, l.Ping(context.Background()))
}

func TestLimits_Override(t *testing.T) {
	limits := NewLimits(10, func(model string, fallback int) int {
		if model == "gemini-2.5-pro-preview-03-25" {
			return 2
		}
		return fallback
	})
	assert.Equal(t, 10, limits.For("gemini-2.0-flash"))
	assert.Equal(t, 2, limits.For("gemini-2.5-pro-preview-03-25"))
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient("redis://localhost:6379/0")
	require.NoError(t, err)
	_ = c.Close()

	_, err = NewRedisClient("redis:///0")
	assert.Error(t, err)

	_, err = NewRedisClient("http://localhost:6379")
	assert.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(NewLimits(2, nil), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1", "m"))
	require.NoError(t, l.Allow(ctx, "u1", "m"))
	err := l.Allow(ctx, "u1", "m")
	assert.True(t, errors.Is(err, ErrRateLimited))

	assert.NoError(t, l.Allow(ctx, "u2", "m"))
}
