package rulebook

import (
	"context"
	"sync"
	"time"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// CachedRuleSource fronts another RuleSource with an in-process cache.
// Invalidate is the primary refresh mechanism; the TTL is a backstop so a
// missed invalidation cannot serve stale rules forever. A TTL of zero or less
// disables the backstop.
type CachedRuleSource struct {
	inner port.RuleSource
	ttl   time.Duration

	mu       sync.RWMutex
	cached   port.RuleSet
	loadedAt time.Time
}

// NewCachedRuleSource wraps the given source with TTL-bounded caching.
func NewCachedRuleSource(inner port.RuleSource, ttl time.Duration) *CachedRuleSource {
	return &CachedRuleSource{inner: inner, ttl: ttl}
}

// Load returns the cached rule set while it is fresh, recompiling through the
// inner source otherwise. Concurrent callers during a reload share one result.
func (c *CachedRuleSource) Load(ctx context.Context) (port.RuleSet, error) {
	c.mu.RLock()
	if c.isFreshLocked() {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isFreshLocked() {
		return c.cached, nil
	}

	ruleSet, err := c.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.cached = ruleSet
	c.loadedAt = time.Now()
	logger.Infof("rulebook: loaded revision '%s' into cache.", ruleSet.Version())
	return ruleSet, nil
}

// Invalidate drops the cached rule set so the next Load recompiles.
func (c *CachedRuleSource) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	c.inner.Invalidate()
	logger.Debugf("rulebook: cache invalidated.")
}

func (c *CachedRuleSource) isFreshLocked() bool {
	if c.cached == nil {
		return false
	}
	if c.ttl <= 0 {
		return true
	}
	return time.Since(c.loadedAt) < c.ttl
}

var _ port.RuleSource = (*CachedRuleSource)(nil)
