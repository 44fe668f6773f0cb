// Package ratelimit implements a token-bucket rate limiter with per-tier
// profiles and hard blocking on violation.
//
// Buckets are kept in memory and refilled lazily on access, so an idle
// identity costs nothing. Profiles are keyed by "operation:tier"
// (e.g. "payment:free") and each live bucket by "identity:operation:tier".
// Exhausting a bucket does not merely deny the one request: it blocks the
// identity for the profile's block duration, and the violation is persisted
// best-effort so blocks survive a restart.
//
// Time is taken from an injected clock.Clock so refill and block expiry are
// fully testable.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/coria/go-payments-backend/internal/domain"
)

// Profile describes one operation/tier combination.
type Profile struct {
	// Capacity is the bucket size (burst allowance) in tokens.
	Capacity int64
	// RefillRate is the sustained rate in tokens per second.
	RefillRate float64
	// BlockDuration is how long an identity is hard-blocked after
	// exhausting the bucket.
	BlockDuration time.Duration
}

// DefaultProfiles returns the built-in operation/tier table. Unknown
// combinations fall back to the "default" entry.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"payment:free":    {Capacity: 5, RefillRate: 0.05, BlockDuration: 5 * time.Minute},
		"payment:premium": {Capacity: 20, RefillRate: 0.25, BlockDuration: time.Minute},
		"confirm:free":    {Capacity: 10, RefillRate: 0.1, BlockDuration: 2 * time.Minute},
		"confirm:premium": {Capacity: 30, RefillRate: 0.5, BlockDuration: time.Minute},
		"nonce:free":      {Capacity: 10, RefillRate: 0.2, BlockDuration: 2 * time.Minute},
		"nonce:premium":   {Capacity: 30, RefillRate: 0.5, BlockDuration: time.Minute},
		"auth:login":      {Capacity: 5, RefillRate: 0.1, BlockDuration: 15 * time.Minute},
		"default":         {Capacity: 30, RefillRate: 0.5, BlockDuration: time.Minute},
	}
}

// Result is the outcome of a Check or Status call.
type Result struct {
	Allowed bool `json:"allowed"`
	// Remaining is the whole number of tokens left after this call.
	Remaining int64 `json:"remaining"`
	// ResetAt is when the bucket will be full again at the sustained rate.
	ResetAt time.Time `json:"reset_at"`
	// RetryAfter is non-zero when the identity is blocked.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ViolationStore persists rate-limit violations. Persistence is advisory:
// errors are logged and never fail the rate-limit decision.
type ViolationStore interface {
	Record(ctx context.Context, v *domain.RateLimitViolation) error
	RecentSince(ctx context.Context, since time.Time) ([]domain.RateLimitViolation, error)
}

type bucket struct {
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
	lastUsed     time.Time
}

// Limiter is the in-memory token bucket registry.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	profiles map[string]Profile

	store ViolationStore // may be nil
	clk   clock.Clock
	log   zerolog.Logger
}

// New builds a Limiter with the given profile table. A nil profiles map
// falls back to DefaultProfiles; a nil store disables violation persistence.
func New(profiles map[string]Profile, store ViolationStore, clk clock.Clock, log zerolog.Logger) *Limiter {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		profiles: profiles,
		store:    store,
		clk:      clk,
		log:      log,
	}
}

func (l *Limiter) profileFor(operation, tier string) Profile {
	if p, ok := l.profiles[operation+":"+tier]; ok {
		return p
	}
	if p, ok := l.profiles["default"]; ok {
		return p
	}
	return Profile{Capacity: 30, RefillRate: 0.5, BlockDuration: time.Minute}
}

func bucketKey(identity, operation, tier string) string {
	return fmt.Sprintf("%s:%s:%s", identity, operation, tier)
}

// Check consumes cost tokens for identity on operation at tier. A cost of
// zero or less is normalized to one. When the bucket cannot cover the cost
// the identity is blocked for the profile's block duration and the violation
// is recorded.
func (l *Limiter) Check(ctx context.Context, identity, operation, tier string, cost int64) Result {
	if cost <= 0 {
		cost = 1
	}
	prof := l.profileFor(operation, tier)

	l.mu.Lock()
	now := l.clk.Now()
	key := bucketKey(identity, operation, tier)
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: float64(prof.Capacity), lastRefill: now}
		l.buckets[key] = b
	}
	b.lastUsed = now

	if now.Before(b.blockedUntil) {
		retryAfter := b.blockedUntil.Sub(now)
		l.mu.Unlock()
		rlDenied.WithLabelValues(operation, tier).Inc()
		return Result{Allowed: false, Remaining: 0, ResetAt: b.blockedUntil, RetryAfter: retryAfter}
	}

	l.refill(b, prof, now)

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		res := Result{
			Allowed:   true,
			Remaining: int64(math.Floor(b.tokens)),
			ResetAt:   fullAt(b.tokens, prof, now),
		}
		l.mu.Unlock()
		rlAllowed.WithLabelValues(operation, tier).Inc()
		return res
	}

	// Violation: hard block and drain whatever was left.
	b.tokens = 0
	b.blockedUntil = now.Add(prof.BlockDuration)
	l.mu.Unlock()

	rlDenied.WithLabelValues(operation, tier).Inc()
	rlBlocks.WithLabelValues(operation, tier).Inc()
	l.log.Warn().
		Str("identity", identity).
		Str("operation", operation).
		Str("tier", tier).
		Dur("block", prof.BlockDuration).
		Msg("rate limit exceeded, identity blocked")

	if l.store != nil {
		v := &domain.RateLimitViolation{
			Identity:      identity,
			Operation:     operation,
			Tier:          tier,
			Capacity:      prof.Capacity,
			BlockDuration: int64(prof.BlockDuration / time.Second),
			ViolatedAt:    now.UTC(),
		}
		if err := l.store.Record(ctx, v); err != nil {
			l.log.Error().Err(err).Msg("persist rate limit violation")
		}
	}
	return Result{Allowed: false, Remaining: 0, ResetAt: now.Add(prof.BlockDuration), RetryAfter: prof.BlockDuration}
}

// Status reports the bucket state for identity without consuming tokens.
func (l *Limiter) Status(identity, operation, tier string) Result {
	prof := l.profileFor(operation, tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	b := l.buckets[bucketKey(identity, operation, tier)]
	if b == nil {
		return Result{Allowed: true, Remaining: prof.Capacity, ResetAt: now}
	}
	if now.Before(b.blockedUntil) {
		return Result{Allowed: false, Remaining: 0, ResetAt: b.blockedUntil, RetryAfter: b.blockedUntil.Sub(now)}
	}
	l.refill(b, prof, now)
	return Result{Allowed: true, Remaining: int64(math.Floor(b.tokens)), ResetAt: fullAt(b.tokens, prof, now)}
}

// Reset clears the bucket (and any block) for identity on operation/tier.
// Returns false if no bucket existed.
func (l *Limiter) Reset(identity, operation, tier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := bucketKey(identity, operation, tier)
	if _, ok := l.buckets[key]; !ok {
		return false
	}
	delete(l.buckets, key)
	return true
}

// RestoreBlocks rebuilds still-active blocks from persisted violations.
// Called once on startup; a nil store is a no-op.
func (l *Limiter) RestoreBlocks(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	now := l.clk.Now()

	// Look back as far as the longest configured block.
	var maxBlock time.Duration
	for _, p := range l.profiles {
		if p.BlockDuration > maxBlock {
			maxBlock = p.BlockDuration
		}
	}
	rows, err := l.store.RecentSince(ctx, now.Add(-maxBlock))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	restored := 0
	for _, v := range rows {
		until := v.ViolatedAt.Add(time.Duration(v.BlockDuration) * time.Second)
		if !until.After(now) {
			continue
		}
		key := bucketKey(v.Identity, v.Operation, v.Tier)
		b := l.buckets[key]
		if b == nil {
			b = &bucket{lastRefill: now}
			l.buckets[key] = b
		}
		if until.After(b.blockedUntil) {
			b.blockedUntil = until
			b.tokens = 0
			b.lastUsed = now
			restored++
		}
	}
	if restored > 0 {
		l.log.Info().Int("blocks", restored).Msg("restored rate limit blocks from storage")
	}
	return nil
}

// CleanupIdle removes buckets idle for longer than maxIdle. Blocked buckets
// are always retained so eviction cannot lift a block early.
func (l *Limiter) CleanupIdle(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	removed := 0
	for key, b := range l.buckets {
		if now.Before(b.blockedUntil) {
			continue
		}
		if now.Sub(b.lastUsed) > maxIdle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts idle buckets until ctx is cancelled.
func (l *Limiter) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.clk.After(interval):
			if n := l.CleanupIdle(maxIdle); n > 0 {
				l.log.Debug().Int("removed", n).Msg("evicted idle rate limit buckets")
			}
		}
	}
}

// Size returns the number of live buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stats is a point-in-time snapshot of the limiter.
type Stats struct {
	// Profiles is the number of configured operation:tier profiles.
	Profiles int `json:"profiles"`
	// Buckets is the number of live buckets.
	Buckets int `json:"buckets"`
	// Blocked is how many of those buckets carry an active hard block.
	Blocked int `json:"blocked"`
}

// Stats snapshots the limiter for operational introspection.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	st := Stats{Profiles: len(l.profiles), Buckets: len(l.buckets)}
	for _, b := range l.buckets {
		if now.Before(b.blockedUntil) {
			st.Blocked++
		}
	}
	return st
}

// refill tops up b at the profile rate. Caller holds l.mu.
func (l *Limiter) refill(b *bucket, prof Profile, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(float64(prof.Capacity), b.tokens+elapsed*prof.RefillRate)
	b.lastRefill = now
}

// fullAt computes when the bucket reaches capacity at the sustained rate.
func fullAt(tokens float64, prof Profile, now time.Time) time.Time {
	missing := float64(prof.Capacity) - tokens
	if missing <= 0 || prof.RefillRate <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / prof.RefillRate * float64(time.Second)))
}
