// Package ddos tracks per-client abuse behavior and escalates or blocks
// offending clients. Tiers are a pure function of the suspicious
// counter; a block flag with expiry overrides everything except the IP
// whitelist.
package ddos

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/events"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/storage"
)

const (
	// suspiciousTTL is how long the suspicious counter survives without
	// further activity.
	suspiciousTTL = 24 * time.Hour

	// tierWindows is the tier record TTL expressed in rate windows.
	tierWindows = 5

	challengeTTL = 5 * time.Minute
)

// Engine is the DDoS mitigation engine.
type Engine struct {
	store  storage.Store
	logger *zap.Logger
	sink   events.Sink

	whitelist []*net.IPNet
	blacklist []*net.IPNet

	suspiciousThreshold int64
	blockDuration       time.Duration
	window              time.Duration

	now func() time.Time
}

// Options configures the engine. Zero values fall back to the
// production defaults (threshold 10, block 1h, window 60s).
type Options struct {
	Whitelist           []*net.IPNet
	Blacklist           []*net.IPNet
	SuspiciousThreshold int
	BlockDuration       time.Duration
	Window              time.Duration
}

func NewEngine(store storage.Store, sink events.Sink, logger *zap.Logger, opts Options) *Engine {
	if opts.SuspiciousThreshold <= 0 {
		opts.SuspiciousThreshold = 10
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = time.Hour
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &Engine{
		store:               store,
		logger:              logger,
		sink:                sink,
		whitelist:           opts.Whitelist,
		blacklist:           opts.Blacklist,
		suspiciousThreshold: int64(opts.SuspiciousThreshold),
		blockDuration:       opts.BlockDuration,
		window:              opts.Window,
		now:                 time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func ipInAny(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Whitelisted reports whether the client IP is exempt from all defense
// checks. The whitelist takes precedence over the blacklist and over
// computed blocks.
func (e *Engine) Whitelisted(ip string) bool {
	return ipInAny(net.ParseIP(ip), e.whitelist)
}

// IsRateLimited reports whether the client must be denied outright:
// blacklisted IP, or an unexpired block flag.
func (e *Engine) IsRateLimited(ctx context.Context, client models.ClientIdentity) (bool, error) {
	ip := net.ParseIP(client.IP)
	if ipInAny(ip, e.whitelist) {
		return false, nil
	}
	if ipInAny(ip, e.blacklist) {
		return true, nil
	}
	return e.store.IsBlocked(ctx, client.ID)
}

// Tier returns the client's current reputation tier.
func (e *Engine) Tier(ctx context.Context, client models.ClientIdentity) (models.Tier, error) {
	return e.store.GetTier(ctx, client.ID)
}

// RecordSuspicious increments the client's suspicious counter and
// applies the tier thresholds: half the threshold demotes to
// suspicious, the full threshold to bot, and three times the threshold
// blocks the client for the configured duration. Returns the counter
// value after the increment.
func (e *Engine) RecordSuspicious(ctx context.Context, client models.ClientIdentity, path, method string) (int64, error) {
	count, err := e.store.IncrSuspicious(ctx, client.ID, suspiciousTTL)
	if err != nil {
		return 0, fmt.Errorf("incrementing suspicious counter: %w", err)
	}

	switch {
	case count >= e.suspiciousThreshold*3:
		if err := e.blockClient(ctx, client, path, method); err != nil {
			return count, err
		}
	case count >= e.suspiciousThreshold:
		if err := e.escalate(ctx, client, models.TierBot, path, method); err != nil {
			return count, err
		}
	case count >= e.suspiciousThreshold/2:
		if err := e.escalate(ctx, client, models.TierSuspicious, path, method); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (e *Engine) escalate(ctx context.Context, client models.ClientIdentity, tier models.Tier, path, method string) error {
	current, err := e.store.GetTier(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("reading tier: %w", err)
	}
	if current == tier {
		// Refresh the TTL without re-announcing.
		return e.store.SetTier(ctx, client.ID, tier, tierWindows*e.window)
	}
	if err := e.store.SetTier(ctx, client.ID, tier, tierWindows*e.window); err != nil {
		return fmt.Errorf("setting tier: %w", err)
	}

	e.logger.Warn("client tier escalated",
		zap.String("client_id", client.ID),
		zap.String("ip", client.IP),
		zap.String("tier", string(tier)),
	)
	e.sink.Emit(ctx, models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      models.EventTierEscalated,
		ClientID:  client.ID,
		IP:        client.IP,
		Path:      path,
		Method:    method,
		Severity:  models.SeverityMedium,
		Timestamp: e.now(),
	})
	return nil
}

func (e *Engine) blockClient(ctx context.Context, client models.ClientIdentity, path, method string) error {
	if err := e.store.Block(ctx, client.ID, e.blockDuration); err != nil {
		return fmt.Errorf("blocking client: %w", err)
	}

	e.logger.Warn("client blocked",
		zap.String("client_id", client.ID),
		zap.String("ip", client.IP),
		zap.Duration("duration", e.blockDuration),
	)
	e.sink.Emit(ctx, models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      models.EventClientBlocked,
		ClientID:  client.ID,
		IP:        client.IP,
		Path:      path,
		Method:    method,
		Severity:  models.SeverityHigh,
		Timestamp: e.now(),
	})
	return nil
}

// Unblock clears the block flag, suspicious counter and tier. Tier
// decay is deliberately manual: an expired block does not downgrade the
// tier on its own.
func (e *Engine) Unblock(ctx context.Context, client models.ClientIdentity) error {
	if err := e.store.Unblock(ctx, client.ID); err != nil {
		return fmt.Errorf("unblocking client: %w", err)
	}
	e.logger.Info("client unblocked", zap.String("client_id", client.ID))
	e.sink.Emit(ctx, models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      models.EventClientUnblocked,
		ClientID:  client.ID,
		IP:        client.IP,
		Severity:  models.SeverityLow,
		Timestamp: e.now(),
	})
	return nil
}

// Status returns the client's reputation snapshot.
func (e *Engine) Status(ctx context.Context, client models.ClientIdentity) (models.ClientStatus, error) {
	tier, err := e.store.GetTier(ctx, client.ID)
	if err != nil {
		return models.ClientStatus{}, err
	}
	count, err := e.store.GetSuspicious(ctx, client.ID)
	if err != nil {
		return models.ClientStatus{}, err
	}
	blocked, err := e.store.IsBlocked(ctx, client.ID)
	if err != nil {
		return models.ClientStatus{}, err
	}
	return models.ClientStatus{
		Client:          client.ID,
		Tier:            tier,
		SuspiciousCount: count,
		Blocked:         blocked,
	}, nil
}

// GenerateChallenge issues a small arithmetic puzzle for a bot-tier
// client as a soft alternative to a hard block. The expected answer is
// stored under a fresh token for five minutes.
func (e *Engine) GenerateChallenge(ctx context.Context, client models.ClientIdentity) (models.Challenge, error) {
	a := rand.Intn(10) + 1
	b := rand.Intn(10) + 1
	op := "+"
	answer := a + b
	if rand.Intn(2) == 1 {
		op = "*"
		answer = a * b
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", client.IP, e.now().Unix(), answer)))
	token := hex.EncodeToString(sum[:])

	if err := e.store.PutChallenge(ctx, token, fmt.Sprintf("%d", answer), challengeTTL); err != nil {
		return models.Challenge{}, fmt.Errorf("storing challenge: %w", err)
	}

	return models.Challenge{
		Type:      "math",
		Challenge: fmt.Sprintf("What is %d %s %d?", a, op, b),
		Token:     token,
	}, nil
}

// VerifyChallenge checks an answer against the stored record. The
// record is consumed on the first attempt, success or not, so a token
// can never be replayed. Unknown or expired tokens verify false.
func (e *Engine) VerifyChallenge(ctx context.Context, token, answer string) (bool, error) {
	expected, err := e.store.TakeChallenge(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("looking up challenge: %w", err)
	}
	return expected == answer, nil
}
