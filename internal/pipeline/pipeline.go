// Package pipeline composes the defense stages into a single gin
// middleware: firewall inspection, reputation check, then adaptive rate
// limiting, with informative rate headers on the way out.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/config"
	"github.com/nshruti113/request-shield/internal/ddos"
	"github.com/nshruti113/request-shield/internal/detection"
	"github.com/nshruti113/request-shield/internal/events"
	"github.com/nshruti113/request-shield/internal/firewall"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/patterns"
	"github.com/nshruti113/request-shield/internal/ratelimit"
)

// Pipeline runs every inbound request through the defense stages.
type Pipeline struct {
	cfg      *config.Config
	firewall *firewall.Firewall
	engine   *ddos.Engine
	limiter  *ratelimit.Limiter
	sink     events.Sink
	logger   *zap.Logger

	now func() time.Time
}

func New(cfg *config.Config, fw *firewall.Firewall, engine *ddos.Engine, limiter *ratelimit.Limiter, sink events.Sink, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		firewall: fw,
		engine:   engine,
		limiter:  limiter,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Identify derives the stable client key for a request: a hash of the
// bearer-token fragment when one is present, otherwise a hash of the
// client IP and User-Agent. The raw token never appears in store keys.
func Identify(r *http.Request) models.ClientIdentity {
	ip := clientIP(r)
	ua := r.Header.Get("User-Agent")

	auth := r.Header.Get("Authorization")
	if auth != "" {
		parts := strings.Fields(auth)
		fragment := parts[len(parts)-1]
		if len(fragment) > 10 {
			sum := sha256.Sum256([]byte(fragment))
			return models.ClientIdentity{
				ID:        "token:" + hex.EncodeToString(sum[:16]),
				IP:        ip,
				UserAgent: ua,
			}
		}
	}

	sum := sha256.Sum256([]byte(ip + ":" + ua))
	return models.ClientIdentity{
		ID:        "ip:" + hex.EncodeToString(sum[:16]),
		IP:        ip,
		UserAgent: ua,
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// PathWhitelisted reports whether the path bypasses the pipeline
// entirely.
func (p *Pipeline) PathWhitelisted(path string) bool {
	for _, prefix := range p.cfg.WhitelistedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns the gin handler enforcing the pipeline. Stage
// order matters: the firewall's suspicious-activity side effects must
// land before the rate limiter reads the tier, so a just-escalated
// client pays the reduced quota on the same request.
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.cfg.Enabled {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if p.PathWhitelisted(path) {
			c.Next()
			return
		}

		client := Identify(c.Request)

		if p.engine.Whitelisted(client.IP) {
			c.Next()
			return
		}

		// Already-blocked clients are denied before any inspection
		// work is spent on them.
		blocked, err := p.checkBlocked(c, client)
		if err != nil {
			p.storeFailure(c, err)
			return
		}
		if blocked {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail": "Too many requests. Your IP has been temporarily blocked.",
			})
			return
		}

		if !p.runFirewall(c, client) {
			return
		}

		result, err := p.checkRate(c, client)
		if err != nil {
			p.storeFailure(c, err)
			return
		}

		p.setRateHeaders(c, result)
		if !result.Allowed {
			p.sink.Emit(c.Request.Context(), models.SecurityEvent{
				ID:        uuid.New().String(),
				Type:      models.EventRateLimitExceeded,
				ClientID:  client.ID,
				IP:        client.IP,
				Path:      path,
				Method:    c.Request.Method,
				Severity:  models.SeverityLow,
				Timestamp: p.now(),
			})
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"detail":              "Rate limit exceeded. Please try again later.",
				"retry_after_seconds": result.RetryAfter,
			})
			return
		}

		c.Next()
	}
}

func (p *Pipeline) checkBlocked(c *gin.Context, client models.ClientIdentity) (bool, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.cfg.StoreTimeout())
	defer cancel()
	return p.engine.IsRateLimited(ctx, client)
}

// runFirewall inspects the request and handles a block verdict. Returns
// false when the request has been terminated.
func (p *Pipeline) runFirewall(c *gin.Context, client models.ClientIdentity) bool {
	verdict, err := p.firewall.Inspect(c.Request)
	if err != nil {
		if errors.Is(err, firewall.ErrBodyTooLarge) || errors.Is(err, detection.ErrInputTooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"detail": "Request too large.",
			})
			return false
		}
		p.logger.Error("firewall inspection failed", zap.Error(err))
		return true
	}
	if !verdict.Blocked {
		return true
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), p.cfg.StoreTimeout())
	defer cancel()

	severity := patterns.MaxSeverity(verdict.Categories)
	p.sink.Emit(ctx, models.SecurityEvent{
		ID:         uuid.New().String(),
		Type:       models.EventAttackBlocked,
		ClientID:   client.ID,
		IP:         client.IP,
		Path:       c.Request.URL.Path,
		Method:     c.Request.Method,
		Categories: verdict.Categories,
		Severity:   severity,
		Timestamp:  p.now(),
	})

	if _, err := p.engine.RecordSuspicious(ctx, client, c.Request.URL.Path, c.Request.Method); err != nil {
		p.logger.Error("recording suspicious activity", zap.Error(err))
	}

	if !p.cfg.BlockAttacks {
		// Detection-only mode: log and let the request through.
		return true
	}
	if min := models.Severity(p.cfg.MinBlockSeverity); min != "" && severity.Rank() < min.Rank() {
		return true
	}

	// Generic body only: never tell an attacker which category fired.
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"detail": "Request rejected for security reasons.",
	})
	return false
}

func (p *Pipeline) checkRate(c *gin.Context, client models.ClientIdentity) (models.RateLimitResult, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.cfg.StoreTimeout())
	defer cancel()
	return p.limiter.Check(ctx, client, c.Request.URL.Path, c.Request.Method)
}

func (p *Pipeline) setRateHeaders(c *gin.Context, result models.RateLimitResult) {
	reset := p.now().Add(p.cfg.Window()).Unix()
	if !result.Allowed {
		reset = p.now().Add(time.Duration(result.RetryAfter) * time.Second).Unix()
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

// storeFailure applies the configured availability policy when the
// shared store cannot be reached: fail open in development, fail closed
// in production.
func (p *Pipeline) storeFailure(c *gin.Context, err error) {
	p.logger.Error("reputation store unreachable", zap.Error(err))
	if p.cfg.FailOpen {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"detail": "Service temporarily unavailable.",
	})
}
