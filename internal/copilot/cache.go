package copilot

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// cacheIdleTTL is how long an unused client survives.
	cacheIdleTTL = 30 * time.Minute
	// cacheSweepInterval is how often the eviction loop runs.
	cacheSweepInterval = 5 * time.Minute
)

type cacheEntry struct {
	client   *Client
	lastUsed time.Time
}

// ClientCache hands out runtime clients keyed by their bearer token,
// so per-request identities reuse one dialed client each. Idle
// entries are evicted and closed by a background sweep.
type ClientCache struct {
	mu       sync.Mutex
	base     ClientConfig
	entries  map[string]*cacheEntry
	logger   *zap.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewClientCache builds a cache dialing clients from the base config.
// The base Token is used when Get is called with an empty token.
func NewClientCache(base ClientConfig, logger *zap.Logger) *ClientCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := &ClientCache{
		base:    base,
		entries: make(map[string]*cacheEntry),
		logger:  logger.Named("client_cache"),
		stop:    make(chan struct{}),
	}
	go cc.sweepLoop()
	return cc
}

// Get returns the cached client for the token, dialing a fresh one on
// first use. The empty token resolves to the process-wide token.
func (cc *ClientCache) Get(token string) *Client {
	if token == "" {
		token = cc.base.Token
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if entry, ok := cc.entries[token]; ok {
		entry.lastUsed = time.Now()
		return entry.client
	}

	cfg := cc.base
	cfg.Token = token
	client := NewClient(cfg)
	cc.entries[token] = &cacheEntry{client: client, lastUsed: time.Now()}
	cc.logger.Debug("dialed runtime client", zap.Int("cached", len(cc.entries)))
	return client
}

// Size reports the number of cached clients.
func (cc *ClientCache) Size() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.entries)
}

// Shutdown stops the sweep loop and closes every cached client.
func (cc *ClientCache) Shutdown() {
	cc.stopOnce.Do(func() { close(cc.stop) })

	cc.mu.Lock()
	defer cc.mu.Unlock()
	for token, entry := range cc.entries {
		_ = entry.client.Close()
		delete(cc.entries, token)
	}
}

func (cc *ClientCache) sweepLoop() {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cc.evictIdle(time.Now())
		case <-cc.stop:
			return
		}
	}
}

// evictIdle closes and drops entries unused for longer than the TTL.
func (cc *ClientCache) evictIdle(now time.Time) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for token, entry := range cc.entries {
		if now.Sub(entry.lastUsed) > cacheIdleTTL {
			_ = entry.client.Close()
			delete(cc.entries, token)
			cc.logger.Debug("evicted idle runtime client", zap.Int("cached", len(cc.entries)))
		}
	}
}
