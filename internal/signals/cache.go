package signals

import (
	"context"
	"sync"
	"time"

	"narrative-core/internal/core"
	"narrative-core/internal/logger"
	"narrative-core/internal/persistence"
)

const (
	inProcessTTL = 60 * time.Second
	sharedTTL    = 120 * time.Second
)

// twoLayerCache is an in-process cache backed optionally by a shared cache
// (persistence.SignalsCacheRepository, Postgres-backed). Both layers
// fail open: a shared-cache error never fails Compute, it just misses.
type twoLayerCache struct {
	mu     sync.Mutex
	local  map[string]localEntry
	shared persistence.SignalsCacheRepository
}

type localEntry struct {
	signals []core.Signal
	expires time.Time
}

func newTwoLayerCache(shared persistence.SignalsCacheRepository) *twoLayerCache {
	return &twoLayerCache{local: make(map[string]localEntry), shared: shared}
}

func (c *twoLayerCache) get(ctx context.Context, key string) ([]core.Signal, bool) {
	c.mu.Lock()
	entry, ok := c.local[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.signals, true
	}

	if c.shared == nil {
		return nil, false
	}
	signals, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("shared signals cache read failed, continuing uncached")
		return nil, false
	}
	if ok {
		c.setLocal(key, signals)
	}
	return signals, ok
}

func (c *twoLayerCache) set(ctx context.Context, key string, signals []core.Signal) {
	c.setLocal(key, signals)

	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, signals, sharedTTL); err != nil {
		logger.Get().Warn().Err(err).Msg("shared signals cache write failed, continuing uncached")
	}
}

func (c *twoLayerCache) setLocal(key string, signals []core.Signal) {
	c.mu.Lock()
	c.local[key] = localEntry{signals: signals, expires: time.Now().Add(inProcessTTL)}
	c.mu.Unlock()
}
