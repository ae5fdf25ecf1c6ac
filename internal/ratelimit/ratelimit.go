// Package ratelimit tracks per-model cooldowns after upstream 429s, and
// the Anthropic-specific dual-key (setup-token / enterprise) failover
// state. Both are process-lifetime singletons with lazy pruning.
package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCooldown is the cooldown duration applied on a 429, per spec.md §4.7.
const DefaultCooldown = 60 * time.Second

// Limiter tracks modelId -> expiresAt. It is backed by patrickmn/go-cache,
// whose whole job is exactly this: a map with lazy/ticked TTL eviction.
type Limiter struct {
	cache *gocache.Cache
}

// NewLimiter constructs a Limiter. The janitor interval only affects how
// promptly expired entries are swept from memory; correctness relies on
// lazy pruning at read time (IsRateLimited), matching spec.md §4.7.
func NewLimiter() *Limiter {
	return &Limiter{cache: gocache.New(DefaultCooldown, time.Minute)}
}

// MarkRateLimited puts modelID into cooldown for the given duration
// (DefaultCooldown if zero). Concurrent marks on the same model are
// atomic; whichever call executes last determines the expiry, matching
// spec.md §5's ordering guarantee.
func (l *Limiter) MarkRateLimited(modelID string, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	l.cache.Set(modelID, time.Now().Add(cooldown), cooldown)
}

// IsRateLimited reports whether modelID is currently cooling down. Absence
// from the cache (whether never marked, or lazily expired by go-cache) is
// "not rate limited".
func (l *Limiter) IsRateLimited(modelID string) bool {
	_, found := l.cache.Get(modelID)
	return found
}

// KeyType distinguishes the two Anthropic credential types.
type KeyType string

const (
	KeyTypeSetupToken KeyType = "setup-token"
	KeyTypeEnterprise KeyType = "enterprise"
)

// DualKeyState tracks per-key-type cooldowns and the operator's preference
// between the two Anthropic credentials.
type DualKeyState struct {
	mu                sync.Mutex
	cooldownUntil     map[KeyType]time.Time
	preferSetupToken  bool
	hasSetupToken     bool
	hasEnterprise     bool
}

// NewDualKeyState constructs the state; hasSetupToken/hasEnterprise record
// whether each credential is actually configured (non-empty).
func NewDualKeyState(hasSetupToken, hasEnterprise, preferSetupToken bool) *DualKeyState {
	return &DualKeyState{
		cooldownUntil:    make(map[KeyType]time.Time),
		preferSetupToken: preferSetupToken,
		hasSetupToken:    hasSetupToken,
		hasEnterprise:    hasEnterprise,
	}
}

// Selection is the result of choosing which Anthropic credential to try.
type Selection struct {
	Primary        KeyType
	Fallback       KeyType
	HasFallback    bool
}

// Select picks primary/fallback key types given current cooldown state and
// the configured preference. If the preferred type is cooling down, the
// other becomes primary with no fallback (spec.md §4.7).
func (d *DualKeyState) Select() (Selection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	setupCooling := d.cooldownUntil[KeyTypeSetupToken].After(now)
	enterpriseCooling := d.cooldownUntil[KeyTypeEnterprise].After(now)

	preferred, other := KeyTypeEnterprise, KeyTypeSetupToken
	if d.preferSetupToken {
		preferred, other = KeyTypeSetupToken, KeyTypeEnterprise
	}
	preferredAvailable := d.available(preferred)
	otherAvailable := d.available(other)

	preferredCooling := setupCooling
	otherCooling := enterpriseCooling
	if preferred == KeyTypeEnterprise {
		preferredCooling, otherCooling = enterpriseCooling, setupCooling
	}

	switch {
	case preferredAvailable && !preferredCooling:
		return Selection{Primary: preferred, Fallback: other, HasFallback: otherAvailable && !otherCooling}, true
	case otherAvailable && !otherCooling:
		return Selection{Primary: other, HasFallback: false}, true
	case preferredAvailable:
		// Preferred is configured but cooling, and there is no usable
		// fallback either; still return it so the caller can surface the
		// upstream's own rate-limit error rather than inventing one.
		return Selection{Primary: preferred, HasFallback: false}, true
	case otherAvailable:
		return Selection{Primary: other, HasFallback: false}, true
	default:
		return Selection{}, false
	}
}

func (d *DualKeyState) available(kt KeyType) bool {
	if kt == KeyTypeSetupToken {
		return d.hasSetupToken
	}
	return d.hasEnterprise
}

// MarkCooling puts kt into a 60s cooldown following a 429/401.
func (d *DualKeyState) MarkCooling(kt KeyType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldownUntil[kt] = time.Now().Add(DefaultCooldown)
}
