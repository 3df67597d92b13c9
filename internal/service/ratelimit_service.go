package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"payment-gateway-core/internal/metrics"

	"github.com/rs/zerolog"
)

// rlIdleGrace is how long past its window an idle entry survives before
// the sweep reclaims it.
const rlIdleGrace = 5 * time.Minute

// RateLimitPolicy configures one named limit. Multiple policies
// coexist; each keeps its own per-identifier table.
type RateLimitPolicy struct {
	Name          string
	MaxRequests   int
	WindowSize    time.Duration
	BlockDuration time.Duration
	EnableBurst   bool
	BurstLimit    int
	BurstWindow   time.Duration
}

// DefaultPolicies returns the limits applied to the public API surface.
func DefaultPolicies() []RateLimitPolicy {
	return []RateLimitPolicy{
		{Name: "api_default", MaxRequests: 100, WindowSize: time.Minute, BlockDuration: time.Minute,
			EnableBurst: true, BurstLimit: 25, BurstWindow: time.Second},
		{Name: "payment_init", MaxRequests: 60, WindowSize: time.Minute, BlockDuration: time.Minute,
			EnableBurst: true, BurstLimit: 15, BurstWindow: time.Second},
		{Name: "payment_cancel", MaxRequests: 30, WindowSize: time.Minute, BlockDuration: 2 * time.Minute},
		{Name: "status_check", MaxRequests: 300, WindowSize: time.Minute, BlockDuration: 30 * time.Second},
		{Name: "admin", MaxRequests: 10, WindowSize: time.Minute, BlockDuration: 5 * time.Minute},
	}
}

// RateLimitDecision is the outcome of one check.
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type rlEntry struct {
	mu              sync.Mutex
	windowStart     time.Time
	requestCount    int
	lastRequest     time.Time
	blockedUntil    time.Time // zero when not blocked
	burstTimestamps []time.Time
}

// RateLimiter is an in-memory sliding-window limiter with optional
// burst protection. Decisions for one identifier are serialized by a
// per-entry mutex; identifiers are independent.
type RateLimiter struct {
	policies map[string]RateLimitPolicy
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*rlEntry
}

// NewRateLimiter creates a limiter with the given policies.
func NewRateLimiter(policies []RateLimitPolicy, m *metrics.Metrics, log zerolog.Logger) *RateLimiter {
	byName := make(map[string]RateLimitPolicy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
	}
	return &RateLimiter{
		policies: byName,
		metrics:  m,
		log:      log,
		now:      time.Now,
		entries:  make(map[string]*rlEntry),
	}
}

// Check decides whether (policyName, identifier) may proceed now.
// Unknown policies allow the request; refusing traffic over a
// misconfigured name would be worse than not limiting it.
func (l *RateLimiter) Check(policyName, identifier string) RateLimitDecision {
	policy, ok := l.policies[policyName]
	if !ok {
		l.log.Warn().Str("policy", policyName).Msg("rate limit check against unknown policy, allowing")
		return RateLimitDecision{Allowed: true, Remaining: 0}
	}

	entry := l.entry(policyName + "\x00" + identifier)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := l.now()
	entry.lastRequest = now

	// 1. Standing block.
	if !entry.blockedUntil.IsZero() {
		if now.Before(entry.blockedUntil) {
			l.countHit(policy.Name, identifier)
			return RateLimitDecision{Allowed: false, RetryAfter: entry.blockedUntil.Sub(now)}
		}
		entry.blockedUntil = time.Time{}
	}

	// 2. Window rollover.
	if entry.windowStart.IsZero() || !now.Before(entry.windowStart.Add(policy.WindowSize)) {
		entry.windowStart = now
		entry.requestCount = 1
		entry.burstTimestamps = entry.burstTimestamps[:0]
	} else {
		// 3. Same window.
		entry.requestCount++
	}

	// 4. Burst protection.
	if policy.EnableBurst {
		entry.burstTimestamps = append(entry.burstTimestamps, now)
		cutoff := now.Add(-policy.BurstWindow)
		kept := entry.burstTimestamps[:0]
		for _, ts := range entry.burstTimestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		entry.burstTimestamps = kept
		if len(entry.burstTimestamps) > policy.BurstLimit {
			entry.blockedUntil = now.Add(policy.BlockDuration)
			l.countHit(policy.Name, identifier)
			return RateLimitDecision{Allowed: false, RetryAfter: policy.BlockDuration}
		}
	}

	// 5. Window limit.
	if entry.requestCount > policy.MaxRequests {
		entry.blockedUntil = now.Add(policy.BlockDuration)
		l.countHit(policy.Name, identifier)
		return RateLimitDecision{Allowed: false, RetryAfter: policy.BlockDuration}
	}

	// 6. Allowed.
	return RateLimitDecision{Allowed: true, Remaining: policy.MaxRequests - entry.requestCount}
}

// Sweep removes entries idle past their window plus grace and clears
// expired blocks. Wired to the scheduler.
func (l *RateLimiter) Sweep(ctx context.Context) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		policyName, _, _ := strings.Cut(key, "\x00")
		policy, ok := l.policies[policyName]
		if !ok {
			delete(l.entries, key)
			continue
		}

		entry.mu.Lock()
		idle := now.Sub(entry.lastRequest) > policy.WindowSize+rlIdleGrace
		if !entry.blockedUntil.IsZero() && !now.Before(entry.blockedUntil) {
			entry.blockedUntil = time.Time{}
		}
		blocked := !entry.blockedUntil.IsZero()
		entry.mu.Unlock()

		if idle && !blocked {
			delete(l.entries, key)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug().Int("removed", removed).Msg("rate limit entries swept")
	}
}

// EntryCount reports the number of tracked identifiers, for tests and
// introspection.
func (l *RateLimiter) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *RateLimiter) entry(key string) *rlEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &rlEntry{}
		l.entries[key] = e
	}
	return e
}

func (l *RateLimiter) countHit(policy, identifier string) {
	if l.metrics == nil {
		return
	}
	idType, _, found := strings.Cut(identifier, ":")
	if !found {
		idType = "other"
	}
	l.metrics.RateLimitHits.WithLabelValues(policy, idType).Inc()
}
