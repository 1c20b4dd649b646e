package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/ddos"
	"github.com/nshruti113/request-shield/internal/events"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/storage"
)

var testClient = models.ClientIdentity{ID: "ip:limiter-test", IP: "198.51.100.20"}

func newTestLimiter(t *testing.T, opts Options) (*Limiter, *storage.MemoryStore, func(time.Duration)) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := zap.NewNop()
	engine := ddos.NewEngine(store, events.NewLogSink(logger), logger, ddos.Options{})
	limiter := NewLimiter(store, engine, logger, opts)

	current := time.Unix(1_700_000_000, 0)
	now := func() time.Time { return current }
	store.SetClock(now)
	limiter.SetClock(now)

	advance := func(d time.Duration) { current = current.Add(d) }
	return limiter, store, advance
}

func TestTokenBucketBurstCapacity(t *testing.T) {
	limiter, _, advance := newTestLimiter(t, Options{
		Algorithm:       TokenBucket,
		DefaultLimit:    60,
		BurstMultiplier: 2.0,
		Window:          time.Minute,
	})
	ctx := context.Background()

	// The full burst capacity (60 * 2.0 = 120) is admitted instantly.
	for i := 0; i < 120; i++ {
		result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
		require.NoError(t, err)
		require.True(t, result.Allowed, "request %d should be admitted", i+1)
	}

	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.GreaterOrEqual(t, result.RetryAfter, 1)

	// One second of refill (60/min = 1/s) admits one more request.
	advance(time.Second)
	result, err = limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestFixedWindowLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Options{
		Algorithm:    FixedWindow,
		DefaultLimit: 10,
		Window:       time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
		require.NoError(t, err)
		require.True(t, result.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 10-(i+1), result.Remaining)
	}

	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, 0)
	assert.LessOrEqual(t, result.RetryAfter, 60)
}

func TestFixedWindowResets(t *testing.T) {
	limiter, _, advance := newTestLimiter(t, Options{
		Algorithm:    FixedWindow,
		DefaultLimit: 2,
		Window:       time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	advance(time.Minute)
	result, err = limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRouteLimitResolution(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Options{
		DefaultLimit: 100,
		AdminLimit:   300,
		AuthLimit:    30,
		PerRouteLimits: map[string]int{
			"/api/v1/books":        50,
			"/api/v1/books/search": 20,
		},
	})

	tests := []struct {
		path  string
		limit int
		class string
	}{
		{"/api/v1/admin/users", 300, "admin"},
		{"/api/v1/auth/login", 30, "auth"},
		{"/api/v1/books/search?x=1", 20, "/api/v1/books/search"},
		{"/api/v1/books/42", 50, "/api/v1/books"},
		{"/api/v1/quotes", 100, "default"},
	}
	for _, tt := range tests {
		limit, class := limiter.RouteLimit(tt.path)
		assert.Equal(t, tt.limit, limit, "path %s", tt.path)
		assert.Equal(t, tt.class, class, "path %s", tt.path)
	}
}

func TestTierScalesQuota(t *testing.T) {
	limiter, store, _ := newTestLimiter(t, Options{
		Algorithm:    FixedWindow,
		DefaultLimit: 60,
		Window:       time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, store.SetTier(ctx, testClient.ID, models.TierBot, time.Hour))

	// Bot tier gets 10% of the nominal quota.
	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.Equal(t, 6, result.Limit)

	for i := 0; i < 5; i++ {
		result, err = limiter.Check(ctx, testClient, "/api/v1/books", "GET")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err = limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestDenialRecordsSuspiciousActivity(t *testing.T) {
	limiter, store, _ := newTestLimiter(t, Options{
		Algorithm:    FixedWindow,
		DefaultLimit: 1,
		Window:       time.Minute,
	})
	ctx := context.Background()

	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	count, err := store.GetSuspicious(ctx, testClient.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSeparateClientsSeparateBuckets(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Options{
		Algorithm:    FixedWindow,
		DefaultLimit: 1,
		Window:       time.Minute,
	})
	ctx := context.Background()

	other := models.ClientIdentity{ID: "ip:other", IP: "198.51.100.21"}

	result, err := limiter.Check(ctx, testClient, "/api/v1/books", "GET")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Check(ctx, other, "/api/v1/books", "GET")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "second client must have its own counter")
}
