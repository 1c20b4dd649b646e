// Package ratelimit enforces per-client, per-route-class quotas using
// either a token bucket or a fixed window, scaled by the client's
// reputation tier.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/ddos"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/storage"
)

// Algorithm selects the admission-check implementation.
type Algorithm string

const (
	TokenBucket Algorithm = "token_bucket"
	FixedWindow Algorithm = "fixed_window"
)

const keyPrefix = "ratelimit:"

// Route-class prefixes with dedicated limits. Auth routes get a lower
// quota to resist credential brute force.
const (
	adminPrefix = "/api/v1/admin/"
	authPrefix  = "/api/v1/auth/"
)

// Options configures the limiter.
type Options struct {
	Algorithm       Algorithm
	DefaultLimit    int
	AdminLimit      int
	AuthLimit       int
	PerRouteLimits  map[string]int
	BurstMultiplier float64
	Window          time.Duration
}

// Limiter performs admission checks against the shared store.
type Limiter struct {
	store  storage.Store
	engine *ddos.Engine
	logger *zap.Logger
	opts   Options

	// routePrefixes holds the per-route override prefixes sorted
	// longest first so the most specific prefix wins.
	routePrefixes []string

	now func() time.Time
}

func NewLimiter(store storage.Store, engine *ddos.Engine, logger *zap.Logger, opts Options) *Limiter {
	if opts.Algorithm == "" {
		opts.Algorithm = TokenBucket
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 120
	}
	if opts.AdminLimit <= 0 {
		opts.AdminLimit = opts.DefaultLimit * 2
	}
	if opts.AuthLimit <= 0 {
		opts.AuthLimit = opts.DefaultLimit / 2
	}
	if opts.BurstMultiplier < 1.0 {
		opts.BurstMultiplier = 2.0
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}

	prefixes := make([]string, 0, len(opts.PerRouteLimits))
	for prefix := range opts.PerRouteLimits {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	return &Limiter{
		store:         store,
		engine:        engine,
		logger:        logger,
		opts:          opts,
		routePrefixes: prefixes,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// RouteLimit resolves the nominal per-minute limit for a path: the
// longest matching explicit override, then the admin/auth classes,
// then the global default. The returned class names the counter bucket.
func (l *Limiter) RouteLimit(path string) (limit int, class string) {
	for _, prefix := range l.routePrefixes {
		if strings.HasPrefix(path, prefix) {
			return l.opts.PerRouteLimits[prefix], prefix
		}
	}
	switch {
	case strings.HasPrefix(path, adminPrefix):
		return l.opts.AdminLimit, "admin"
	case strings.HasPrefix(path, authPrefix):
		return l.opts.AuthLimit, "auth"
	}
	return l.opts.DefaultLimit, "default"
}

// Check admits or denies one request for the client on the given path.
// The nominal route limit is scaled by the client's current tier before
// use. A denial records suspicious activity, so repeated violations
// escalate the client toward a block.
func (l *Limiter) Check(ctx context.Context, client models.ClientIdentity, path, method string) (models.RateLimitResult, error) {
	nominal, class := l.RouteLimit(path)

	tier, err := l.engine.Tier(ctx, client)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("reading tier: %w", err)
	}
	limit := int(float64(nominal) * tier.Multiplier())
	if limit < 1 {
		limit = 1
	}

	key := keyPrefix + client.ID + ":" + class

	var result models.RateLimitResult
	switch l.opts.Algorithm {
	case FixedWindow:
		result, err = l.fixedWindow(ctx, key, limit)
	default:
		result, err = l.tokenBucket(ctx, key, limit)
	}
	if err != nil {
		return models.RateLimitResult{}, err
	}

	if !result.Allowed {
		if _, rerr := l.engine.RecordSuspicious(ctx, client, path, method); rerr != nil {
			l.logger.Error("recording suspicious activity", zap.Error(rerr))
		}
		l.logger.Warn("rate limit exceeded",
			zap.String("client_id", client.ID),
			zap.String("path", path),
			zap.Int("limit", limit),
			zap.String("tier", string(tier)),
		)
	}
	return result, nil
}

func (l *Limiter) tokenBucket(ctx context.Context, key string, limit int) (models.RateLimitResult, error) {
	capacity := float64(limit) * l.opts.BurstMultiplier
	refillPerSec := float64(limit) / l.opts.Window.Seconds()
	now := float64(l.now().UnixNano()) / float64(time.Second)

	// Bucket entries outlive at least two refill periods.
	ttl := 2 * l.opts.Window
	if ttl < time.Hour {
		ttl = time.Hour
	}

	allowed, tokens, err := l.store.TakeToken(ctx, key+":bucket", capacity, refillPerSec, now, ttl)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("token bucket check: %w", err)
	}

	result := models.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: int(math.Floor(tokens)),
	}
	if !allowed {
		result.RetryAfter = int(math.Ceil((1.0 - tokens) / refillPerSec))
	}
	return result, nil
}

func (l *Limiter) fixedWindow(ctx context.Context, key string, limit int) (models.RateLimitResult, error) {
	windowSecs := int64(l.opts.Window.Seconds())
	nowUnix := l.now().Unix()
	window := nowUnix / windowSecs

	windowKey := fmt.Sprintf("%s:%d", key, window)
	count, err := l.store.IncrWindow(ctx, windowKey, 2*l.opts.Window)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("fixed window check: %w", err)
	}

	result := models.RateLimitResult{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(math.Max(0, float64(int64(limit)-count))),
	}
	if !result.Allowed {
		result.RetryAfter = int(windowSecs - nowUnix%windowSecs)
	}
	return result, nil
}
