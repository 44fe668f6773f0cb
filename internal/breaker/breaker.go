// Package breaker implements a keyed circuit breaker registry with retry
// support for calls against external ledger infrastructure.
//
// Each key (e.g. "ledger:rpc") owns an independent breaker with the classic
// three states:
//
//   - closed:    calls pass through; failures are counted within a rolling
//     monitoring window.
//   - open:      calls are rejected immediately with *UnavailableError until
//     the open timeout elapses.
//   - half_open: probe calls pass through; enough consecutive successes close
//     the breaker, any failure reopens it.
//
// The registry is safe for concurrent use. Time is taken from an injected
// clock.Clock so state transitions are fully testable.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a single breaker.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls the failure and recovery thresholds of one breaker.
type Config struct {
	// FailureThreshold is the number of failures within MonitoringPeriod
	// that trips a closed breaker open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	SuccessThreshold int
	// OpenTimeout is how long an open breaker rejects calls before
	// admitting a probe.
	OpenTimeout time.Duration
	// MonitoringPeriod is the rolling window over which closed-state
	// failures are counted. When the window rolls over, the count resets.
	MonitoringPeriod time.Duration
}

// DefaultConfig matches the profile used for ledger RPC traffic.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		OpenTimeout:      30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = d.MonitoringPeriod
	}
	return c
}

// entry is the per-key breaker state. All fields are guarded by Manager.mu.
type entry struct {
	state       State
	failures    int
	successes   int
	windowStart time.Time
	openedAt    time.Time
	lastUsed    time.Time

	rejections     uint64
	totalFailures  uint64
	totalSuccesses uint64
}

// Snapshot is a point-in-time view of a breaker, returned by Stats.
type Snapshot struct {
	Key            string    `json:"key"`
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	Rejections     uint64    `json:"rejections"`
	TotalFailures  uint64    `json:"total_failures"`
	TotalSuccesses uint64    `json:"total_successes"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	LastUsed       time.Time `json:"last_used"`
}

// Manager is a registry of circuit breakers keyed by operation name.
// Breakers are created lazily on first use with the config registered for
// their key, falling back to the manager default.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*entry
	configs  map[string]Config
	def      Config

	clk clock.Clock
	log zerolog.Logger
}

// NewManager builds an empty registry. Keys without a registered config use
// def (zero fields filled from DefaultConfig).
func NewManager(def Config, clk clock.Clock, log zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{
		breakers: make(map[string]*entry),
		configs:  make(map[string]Config),
		def:      def.withDefaults(),
		clk:      clk,
		log:      log,
	}
}

// Configure registers a per-key config, overriding the default for that key.
// Reconfiguring an existing key does not reset its live state.
func (m *Manager) Configure(key string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[key] = cfg.withDefaults()
}

func (m *Manager) configFor(key string) Config {
	if cfg, ok := m.configs[key]; ok {
		return cfg
	}
	return m.def
}

// Execute runs fn under the breaker for key. If the breaker is open the call
// is rejected immediately with *UnavailableError and fn is never invoked.
// Otherwise fn's result is recorded as a success or failure.
func (m *Manager) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	if err := m.allow(key); err != nil {
		return err
	}
	err := fn(ctx)
	m.record(key, err)
	return err
}

// allow admits or rejects a call for key, applying state transitions driven
// by elapsed time (window rollover, open timeout).
func (m *Manager) allow(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	b := m.breakers[key]
	if b == nil {
		b = &entry{state: StateClosed, windowStart: now}
		m.breakers[key] = b
		breakerState.WithLabelValues(key).Set(stateValue(StateClosed))
	}
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > m.configFor(key).MonitoringPeriod {
			b.failures = 0
			b.windowStart = now
		}
		return nil
	case StateOpen:
		if now.Sub(b.openedAt) >= m.configFor(key).OpenTimeout {
			m.transition(key, b, StateHalfOpen, now)
			return nil
		}
		b.rejections++
		breakerRejections.WithLabelValues(key).Inc()
		return &UnavailableError{Key: key, State: StateOpen}
	default: // half_open
		return nil
	}
}

// record applies the outcome of an admitted call.
func (m *Manager) record(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.breakers[key]
	if b == nil {
		return
	}
	now := m.clk.Now()
	cfg := m.configFor(key)

	if err == nil {
		b.totalSuccesses++
		breakerSuccesses.WithLabelValues(key).Inc()
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= cfg.SuccessThreshold {
				b.failures = 0
				b.successes = 0
				m.transition(key, b, StateClosed, now)
			}
		}
		return
	}

	b.totalFailures++
	breakerFailures.WithLabelValues(key).Inc()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= cfg.FailureThreshold {
			m.transition(key, b, StateOpen, now)
		}
	case StateHalfOpen:
		// A half-open probe failure reopens with a clean slate.
		b.failures = 0
		b.successes = 0
		m.transition(key, b, StateOpen, now)
	}
}

// transition moves b to next and emits the transition metric and log line.
// Caller holds m.mu.
func (m *Manager) transition(key string, b *entry, next State, now time.Time) {
	prev := b.state
	b.state = next
	switch next {
	case StateOpen:
		b.openedAt = now
	case StateHalfOpen:
		b.successes = 0
	case StateClosed:
		b.windowStart = now
	}
	breakerState.WithLabelValues(key).Set(stateValue(next))
	breakerTransitions.WithLabelValues(key, string(next)).Inc()
	m.log.Warn().
		Str("breaker", key).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("circuit breaker state change")
}

// Stats returns a snapshot for key, or false if no breaker exists yet.
func (m *Manager) Stats(key string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.breakers[key]
	if b == nil {
		return Snapshot{}, false
	}
	return snapshot(key, b), true
}

// StatsAll returns snapshots for every live breaker.
func (m *Manager) StatsAll() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for key, b := range m.breakers {
		out = append(out, snapshot(key, b))
	}
	return out
}

func snapshot(key string, b *entry) Snapshot {
	return Snapshot{
		Key:            key,
		State:          b.state,
		Failures:       b.failures,
		Successes:      b.successes,
		Rejections:     b.rejections,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		OpenedAt:       b.openedAt,
		LastUsed:       b.lastUsed,
	}
}

// Reset forces the breaker for key back to closed with cleared counters.
// Returns false if no breaker exists for key.
func (m *Manager) Reset(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.breakers[key]
	if b == nil {
		return false
	}
	b.failures = 0
	b.successes = 0
	m.transition(key, b, StateClosed, m.clk.Now())
	return true
}

// CleanupIdle removes closed breakers that have not been used for maxIdle.
// Open and half-open breakers are retained regardless of idle time so that
// a tripped breaker cannot be forgotten and silently re-closed.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	removed := 0
	for key, b := range m.breakers {
		if b.state != StateClosed {
			continue
		}
		if now.Sub(b.lastUsed) > maxIdle {
			delete(m.breakers, key)
			breakerState.DeleteLabelValues(key)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts idle breakers until ctx is cancelled.
// Intended to be launched as a goroutine from main.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
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
		case <-m.clk.After(interval):
			if n := m.CleanupIdle(maxIdle); n > 0 {
				m.log.Debug().Int("removed", n).Msg("evicted idle circuit breakers")
			}
		}
	}
}

func stateValue(s State) float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}
