// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cache implements a cached, hot-swappable wrapper around
// package reader. CachedReader serves match_domain/match_ip/match_input
// under concurrent load while reload atomically replaces the backing
// reader.Reader snapshot and clears the small result cache.
package cache

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/k2rule/internal/logging"
	"grimm.is/k2rule/reader"
	"grimm.is/k2rule/rule"
)

// DefaultCacheCapacity is the default result-cache size.
const DefaultCacheCapacity = 10_000

// Config controls CachedReader construction.
type Config struct {
	// CacheCapacity bounds the result cache. Zero disables caching.
	CacheCapacity int
	// Fallback is returned by MatchDomain/MatchIP/MatchInput on a
	// "no match" result. Fixed at construction time.
	Fallback rule.Target
	// Logger receives lifecycle events (open, reload outcomes). A nil
	// Logger falls back to logging.DefaultConfig().
	Logger *logging.Logger
	// Metrics, if non-nil, is updated on every MatchDomain, MatchIP and
	// MatchInput query and on every reload; MatchGeoIP records nothing.
	Metrics *Metrics
}

// DefaultConfig returns a Config with the default cache capacity
// and a Proxy fallback, matching rule.New()'s default.
func DefaultConfig() Config {
	return Config{
		CacheCapacity: DefaultCacheCapacity,
		Fallback:      rule.Proxy,
	}
}

// CachedReader wraps a mutable, shareable reader.Reader handle behind
// an atomic pointer plus an optional result cache. Every query loads
// the current snapshot through a wait-free atomic read; reload
// replaces it with a single atomic store, so an in-flight query that
// already holds the old pointer runs to completion against the old
// snapshot.
type CachedReader struct {
	snapshot atomic.Pointer[reader.Reader]

	cache *resultCache

	// reloadMu serializes reload/Reload calls so install-then-clear
	// stays one critical section; it never blocks readers, which only
	// ever touch the atomic pointer and the cache's own lock.
	reloadMu sync.Mutex

	generation atomic.Int64

	fallback rule.Target
	logger   *logging.Logger
	metrics  *Metrics
}

// Open builds a CachedReader from a rule container file on disk.
func Open(path string, cfg Config) (*CachedReader, error) {
	r, err := reader.Open(path)
	if err != nil {
		return nil, err
	}
	return newCachedReader(r, cfg), nil
}

// FromBytes builds a CachedReader from an in-memory container buffer.
func FromBytes(data []byte, cfg Config) (*CachedReader, error) {
	r, err := reader.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return newCachedReader(r, cfg), nil
}

func newCachedReader(r *reader.Reader, cfg Config) *CachedReader {
	if !cfg.Fallback.Valid() {
		cfg.Fallback = rule.Proxy
	}
	cr := &CachedReader{
		cache:    newResultCache(cfg.CacheCapacity),
		fallback: cfg.Fallback,
		logger:   logging.OrDefault(cfg.Logger),
		metrics:  cfg.Metrics,
	}
	cr.snapshot.Store(r)
	cr.generation.Store(1)
	if cr.metrics != nil {
		cr.metrics.Generation.Set(1)
	}
	return cr
}

// Reload builds a new snapshot from path. If construction fails the
// old snapshot remains installed and the error is returned; if it
// succeeds the new snapshot is installed atomically, the generation
// counter is bumped, and the result cache is unconditionally cleared
// -- all inside the same critical section, so no query observes a
// cached Target derived from a reader other than the one it just
// loaded. Returns the new generation on success, matching the
// caller's own "hot reloaded rules" log correlation.
func (c *CachedReader) Reload(path string) (int64, error) {
	r, err := reader.Open(path)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ReloadErrors.Inc()
		}
		return c.Generation(), err
	}
	return c.install(r, path), nil
}

// ReloadFromBytes is Reload for an in-memory buffer.
func (c *CachedReader) ReloadFromBytes(data []byte) (int64, error) {
	r, err := reader.FromBytes(data)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ReloadErrors.Inc()
		}
		return c.Generation(), err
	}
	return c.install(r, "<bytes>"), nil
}

func (c *CachedReader) install(r *reader.Reader, source string) int64 {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	c.snapshot.Store(r)
	gen := c.generation.Add(1)
	c.cache.clear()

	if c.metrics != nil {
		c.metrics.Reloads.Inc()
		c.metrics.Generation.Set(float64(gen))
		c.metrics.CacheEntries.Set(0)
	}
	c.logger.Info("hot reloaded rules", "source", source, "generation", gen)
	return gen
}

// current returns the installed snapshot. Wait-free: a single atomic
// load, never blocked by a concurrent Reload.
func (c *CachedReader) current() *reader.Reader {
	return c.snapshot.Load()
}

// Generation returns the monotonically increasing counter, bumped on
// every successful reload.
func (c *CachedReader) Generation() int64 { return c.generation.Load() }

// Fallback returns the Target fixed at construction time.
func (c *CachedReader) Fallback() rule.Target { return c.fallback }

// CacheStats reports current cache occupancy and hit/miss counters.
func (c *CachedReader) CacheStats() Stats { return c.cache.stats() }

// ClearCache drops every cached result without touching the installed
// snapshot or bumping the generation counter.
func (c *CachedReader) ClearCache() { c.cache.clear() }

func (c *CachedReader) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		c.metrics.CacheEntries.Set(float64(c.cache.stats().Len))
	}
}

func (c *CachedReader) recordCacheHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *CachedReader) recordCacheMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

// MatchDomain is reader.Reader.MatchDomain with a cache probe in front
// and the configured fallback substituted for "no match".
func (c *CachedReader) MatchDomain(query string) rule.Target {
	defer c.observe(time.Now())

	if query == "" {
		return c.fallback
	}
	lower := strings.ToLower(query)
	key := hashQuery(lower)

	if t, found, ok := c.cache.get(key); ok {
		c.recordCacheHit()
		if found {
			return t
		}
		return c.fallback
	}
	c.recordCacheMiss()

	t, found := c.current().MatchDomain(lower)
	c.cache.set(key, t, found)
	if found {
		return t
	}
	return c.fallback
}

// MatchIP is reader.Reader.MatchIP with a cache probe in front and the
// configured fallback substituted for "no match".
func (c *CachedReader) MatchIP(ip netip.Addr) rule.Target {
	defer c.observe(time.Now())

	key := hashQuery(ip.String())
	if t, found, ok := c.cache.get(key); ok {
		c.recordCacheHit()
		if found {
			return t
		}
		return c.fallback
	}
	c.recordCacheMiss()

	t, found := c.current().MatchIP(ip)
	c.cache.set(key, t, found)
	if found {
		return t
	}
	return c.fallback
}

// MatchInput dispatches to MatchIP if query parses as an IP literal,
// otherwise MatchDomain, matching reader.Reader.MatchInput's contract
// plus the fallback substitution the other two methods apply.
func (c *CachedReader) MatchInput(query string) rule.Target {
	if ip, err := netip.ParseAddr(query); err == nil {
		return c.MatchIP(ip)
	}
	return c.MatchDomain(query)
}

// MatchGeoIP consults the underlying reader's dedicated GeoIP entry
// point directly; GeoIP lookups are not folded into the result cache
// since country codes are a distinct, much smaller key space the
// caller typically already rate-limits upstream (one resolution per
// flow, not per packet).
func (c *CachedReader) MatchGeoIP(code string) rule.Target {
	t, found := c.current().MatchGeoIP(code)
	if !found {
		return c.fallback
	}
	return t
}
