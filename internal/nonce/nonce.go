// Package nonce implements single-use anti-replay nonces for sensitive
// operations such as premium activation.
//
// Nonces are process-local, in-memory state: they are cheap, expire after a
// short TTL, and losing them on restart only forces clients to request a
// fresh one. A nonce is bound to the user and operation it was issued for,
// and consumption is one-way. Used nonces are retained until expiry so that
// a replay is reported as "already used" rather than "unknown", which are
// different security signals.
package nonce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Validation failures. Each reason is distinguishable so callers can log
// replays differently from expired or fabricated nonces.
var (
	ErrUnknown           = errors.New("nonce unknown")
	ErrExpired           = errors.New("nonce expired")
	ErrAlreadyUsed       = errors.New("nonce already used")
	ErrOwnerMismatch     = errors.New("nonce issued to a different user")
	ErrOperationMismatch = errors.New("nonce issued for a different operation")
)

// ErrTooManyNonces is returned by Issue when the user already holds the
// maximum number of live nonces. Capacity frees up when one expires or is
// consumed.
var ErrTooManyNonces = errors.New("too many active nonces")

// Defaults for TTL and the per-user cap.
const (
	DefaultTTL        = 15 * time.Minute
	DefaultMaxPerUser = 10
)

// Nonce is the issued token returned to clients.
type Nonce struct {
	Value     string    `json:"nonce"`
	Operation string    `json:"operation"`
	ExpiresAt time.Time `json:"expires_at"`
}

type record struct {
	userID    string
	operation string
	issuedAt  time.Time
	expiresAt time.Time
	usedAt    time.Time // zero until consumed
}

// Service issues, validates, and consumes nonces. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	byValue map[string]*record
	byUser  map[string][]string // issue-ordered nonce values per user

	ttl        time.Duration
	maxPerUser int
	clk        clock.Clock
	log        zerolog.Logger
}

// New builds a Service. Non-positive ttl or maxPerUser fall back to the
// package defaults.
func New(ttl time.Duration, maxPerUser int, clk clock.Clock, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Service{
		byValue:    make(map[string]*record),
		byUser:     make(map[string][]string),
		ttl:        ttl,
		maxPerUser: maxPerUser,
		clk:        clk,
		log:        log,
	}
}

// Issue creates a fresh nonce bound to userID and operation. A user may
// hold at most maxPerUser live nonces; at the cap issuance is refused, and
// already-issued nonces stay valid. Capacity frees up when a nonce expires
// or is consumed.
func (s *Service) Issue(userID, operation string) (*Nonce, error) {
	value, err := derive(userID, operation, s.clk.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	// Drop this user's expired entries, then count what is still live.
	// Consumed-but-unexpired records are kept for replay detection but do
	// not hold capacity.
	live := 0
	kept := s.byUser[userID][:0]
	for _, v := range s.byUser[userID] {
		rec, ok := s.byValue[v]
		if !ok {
			continue
		}
		if now.After(rec.expiresAt) {
			delete(s.byValue, v)
			continue
		}
		kept = append(kept, v)
		if rec.usedAt.IsZero() {
			live++
		}
	}
	if len(kept) == 0 {
		delete(s.byUser, userID)
	} else {
		s.byUser[userID] = kept
	}

	if live >= s.maxPerUser {
		nonceRejected.WithLabelValues("cap").Inc()
		s.log.Warn().Str("user_id", userID).Int("live", live).Msg("nonce cap reached")
		return nil, ErrTooManyNonces
	}

	s.byValue[value] = &record{
		userID:    userID,
		operation: operation,
		issuedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	s.byUser[userID] = append(s.byUser[userID], value)
	nonceIssued.Inc()

	return &Nonce{Value: value, Operation: operation, ExpiresAt: now.Add(s.ttl)}, nil
}

// derive builds the nonce value: sha256 over fresh entropy, the issue
// timestamp, a user fragment, and an operation fragment, hex encoded.
func derive(userID, operation string, now time.Time) (string, error) {
	var entropy [32]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("nonce entropy: %w", err)
	}

	userFrag := userID
	if len(userFrag) > 8 {
		userFrag = userFrag[len(userFrag)-8:]
	}
	opSum := sha256.Sum256([]byte(operation))
	opFrag := hex.EncodeToString(opSum[:])[:8]

	payload := fmt.Sprintf("%s.%d.%s.%s",
		hex.EncodeToString(entropy[:]), now.UnixMilli(), userFrag, opFrag)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the nonce without consuming it. It returns nil when the
// nonce is live and bound to (userID, operation), or one of the sentinel
// errors above.
func (s *Service) Validate(userID, operation, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(userID, operation, value)
}

// check is the shared validation path. Caller holds s.mu.
func (s *Service) check(userID, operation, value string) error {
	rec, ok := s.byValue[value]
	if !ok {
		nonceRejected.WithLabelValues("unknown").Inc()
		return ErrUnknown
	}
	if rec.userID != userID {
		nonceRejected.WithLabelValues("owner_mismatch").Inc()
		s.log.Warn().Str("user_id", userID).Msg("nonce presented by wrong user")
		return ErrOwnerMismatch
	}
	if rec.operation != operation {
		nonceRejected.WithLabelValues("operation_mismatch").Inc()
		return ErrOperationMismatch
	}
	if !rec.usedAt.IsZero() {
		nonceRejected.WithLabelValues("replay").Inc()
		s.log.Warn().Str("user_id", userID).Str("operation", operation).Msg("nonce replay detected")
		return ErrAlreadyUsed
	}
	if s.clk.Now().After(rec.expiresAt) {
		nonceRejected.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	return nil
}

// Consume validates and atomically marks the nonce used. A consumed nonce
// stays in the store until expiry so replays remain detectable.
func (s *Service) Consume(userID, operation, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(userID, operation, value); err != nil {
		return err
	}
	s.byValue[value].usedAt = s.clk.Now()
	nonceConsumed.Inc()
	return nil
}

// Outstanding returns the number of live (unexpired, unused) nonces for
// userID.
func (s *Service) Outstanding(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	n := 0
	for _, v := range s.byUser[userID] {
		rec, ok := s.byValue[v]
		if ok && rec.usedAt.IsZero() && now.Before(rec.expiresAt) {
			n++
		}
	}
	return n
}

// Sweep drops expired nonces (used or not) and returns the number removed.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	removed := 0
	for value, rec := range s.byValue {
		if now.After(rec.expiresAt) {
			delete(s.byValue, value)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	for userID, values := range s.byUser {
		kept := values[:0]
		for _, v := range values {
			if _, ok := s.byValue[v]; ok {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(s.byUser, userID)
			continue
		}
		s.byUser[userID] = kept
		sort.SliceStable(kept, func(i, j int) bool {
			return s.byValue[kept[i]].issuedAt.Before(s.byValue[kept[j]].issuedAt)
		})
	}
	return removed
}

// RunSweeper periodically drops expired nonces until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(interval):
			if n := s.Sweep(); n > 0 {
				s.log.Debug().Int("removed", n).Msg("swept expired nonces")
			}
		}
	}
}
