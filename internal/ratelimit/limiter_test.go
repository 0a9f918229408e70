package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestLimiterBlocksAfterLimitUntilWindowResets(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(clock.now), "rl", nil)
	p := Policy{Name: "link_validation", Limit: 10, Window: 15 * time.Minute}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, p, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "hit %d", i+1)
	}

	d, err := l.Allow(ctx, p, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, p, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "subjects are counted separately")

	clock.advance(15 * time.Minute)
	d, err = l.Allow(ctx, p, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, d.Count)
}

func TestLimiterFailsOpen(t *testing.T) {
	l := New(failingStore{}, "", nil)
	d, err := l.Allow(context.Background(), Policy{Name: "x", Limit: 1, Window: time.Minute}, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiterDisabledPolicy(t *testing.T) {
	l := New(NewMemoryStore(nil), "", nil)
	for i := 0; i < 5; i++ {
		d, err := l.Allow(context.Background(), Policy{Name: "off"}, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	p := PoliciesFrom(config.RateLimitConfig{
		LinkValidationMax: 10, LinkValidationWindow: 15 * time.Minute,
		PaymentAttemptMax: 5, PaymentAttemptWindow: time.Hour,
		LinkCreationMax: 20, LinkCreationWindow: time.Hour,
		AccessCodeMax: 10, AccessCodeWindow: 15 * time.Minute,
		EarlyAccessMax: 10, EarlyAccessWindow: 15 * time.Minute,
		PasswordResetMax: 3, PasswordResetWindow: time.Hour,
	})
	assert.EqualValues(t, 5, p.PaymentAttempt.Limit)
	assert.Equal(t, time.Hour, p.LinkCreation.Window)
	assert.Equal(t, "access_code", p.AccessCode.Name)
	assert.Equal(t, "early_access", p.EarlyAccess.Name)
	assert.EqualValues(t, 3, p.PasswordReset.Limit)
}
