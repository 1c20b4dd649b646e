// Package storage provides the shared reputation/rate store. All
// mutable pipeline state (window counters, tiers, suspicious counters,
// block flags, challenge records) lives here so that every instance of
// the service observes the same view.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nshruti113/request-shield/internal/models"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Key prefixes, shared by both backends.
const (
	prefixTier       = "ddos:tier:"
	prefixSuspicious = "ddos:suspicious:"
	prefixBlock      = "ddos:block:"
	prefixChallenge  = "ddos:challenge:"
)

// Store is the single source of truth for all per-client defense state.
// Implementations must make IncrWindow and TakeToken atomic per key:
// two concurrent requests must never both be admitted when only one
// slot remains.
type Store interface {
	// IncrWindow atomically increments a window counter and ensures it
	// carries an expiry. Returns the counter value after increment.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TakeToken refills the bucket at key up to capacity using
	// refillPerSec and the caller-supplied clock, then consumes one
	// token if at least one is available. Returns whether the request
	// is admitted and the tokens remaining after the call.
	TakeToken(ctx context.Context, key string, capacity, refillPerSec, now float64, ttl time.Duration) (bool, float64, error)

	GetTier(ctx context.Context, client string) (models.Tier, error)
	SetTier(ctx context.Context, client string, tier models.Tier, ttl time.Duration) error

	IncrSuspicious(ctx context.Context, client string, ttl time.Duration) (int64, error)
	GetSuspicious(ctx context.Context, client string) (int64, error)

	Block(ctx context.Context, client string, duration time.Duration) error
	IsBlocked(ctx context.Context, client string) (bool, error)
	// Unblock clears the block flag, the suspicious counter and the
	// tier record, returning the client to a clean slate.
	Unblock(ctx context.Context, client string) error

	PutChallenge(ctx context.Context, token, answer string, ttl time.Duration) error
	// TakeChallenge returns the stored answer and deletes the record in
	// one step, so a token can be verified at most once.
	TakeChallenge(ctx context.Context, token string) (string, error)

	// Publish emits a payload on a pub/sub channel for dashboards and
	// audit consumers.
	Publish(ctx context.Context, channel string, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}
