package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	b := New(t.Name(), Config{MaxRequests: 1, Interval: time.Minute, Timeout: 10 * time.Second, FailureThreshold: 2, SuccessThreshold: 1}, nil)
	b.now = func() time.Time { return now }
	b.expiry = now.Add(time.Minute)
	return b, &now
}

func fail(t *testing.T, b *Breaker) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(false)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())
	fail(t, b)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	fail(t, b)
	done, err := b.Allow()
	require.NoError(t, err)
	done(true)
	fail(t, b)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t)
	fail(t, b)
	fail(t, b)

	*now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	done, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	done(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	fail(t, b)
	fail(t, b)
	*now = now.Add(11 * time.Second)

	fail(t, b)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b, _ := newTestBreaker(t)
	done, err := b.Allow()
	require.NoError(t, err)
	done(false)
	done(false)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}
