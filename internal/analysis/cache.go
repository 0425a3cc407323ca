package analysis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"storywatch/internal/logging"
)

// CacheConfig bundles the knobs for the cache/limiter layer.
type CacheConfig struct {
	TTL         time.Duration // cache entry lifetime
	RateLimit   float64       // provider requests per second
	Burst       int           // token bucket burst size
	MaxAttempts int           // total provider attempts per call
	BaseBackoff time.Duration // first retry delay; doubles per attempt
}

// Stats counts cache activity. Counters only grow.
type Stats struct {
	Hits      int64
	Misses    int64
	Coalesced int64
	Failures  int64
}

type entry struct {
	res       Result
	expiresAt time.Time
}

// call is a pending provider invocation shared by coalesced callers.
type call struct {
	done chan struct{}
	res  Result
	err  error
}

// Cache deduplicates and rate-limits provider calls. Safe for
// concurrent use. The limiter and the coalescing map are shared across
// all callers for the wrapped provider.
type Cache struct {
	provider Provider
	cfg      CacheConfig
	limiter  *rate.Limiter

	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]*call

	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
	failures  atomic.Int64
}

// NewCache wraps provider with caching, coalescing, pacing, and retry.
func NewCache(provider Provider, cfg CacheConfig) *Cache {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	return &Cache{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		entries:  make(map[string]entry),
		inflight: make(map[string]*call),
	}
}

// Analyze returns the analysis for (kind, text), serving from cache when
// possible. Concurrent calls for the same content share one provider
// invocation. Failures are surfaced, never cached.
func (c *Cache) Analyze(ctx context.Context, kind Kind, text string) (Result, error) {
	key := Key(kind, text)
	now := time.Now()

	c.mu.Lock()
	if ent, ok := c.entries[key]; ok {
		if now.Before(ent.expiresAt) {
			c.mu.Unlock()
			c.hits.Add(1)
			return ent.res, nil
		}
		delete(c.entries, key)
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.coalesced.Add(1)
		return c.wait(ctx, cl)
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()
	c.misses.Add(1)

	// This caller owns the provider call. Its context governs the call;
	// coalesced waiters share the outcome, including cancellation.
	res, err := c.fetch(ctx, kind, text)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = entry{res: res, expiresAt: time.Now().Add(c.cfg.TTL)}
	}
	c.mu.Unlock()

	cl.res, cl.err = res, err
	close(cl.done)

	if err != nil {
		c.failures.Add(1)
	}
	return res, err
}

// wait blocks until the shared call resolves or the waiter's own
// context ends.
func (c *Cache) wait(ctx context.Context, cl *call) (Result, error) {
	select {
	case <-cl.done:
		return cl.res, cl.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// fetch performs the rate-limited, retried provider call.
func (c *Cache) fetch(ctx context.Context, kind Kind, text string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt-1, c.cfg.BaseBackoff)
			logging.Debug("analysis retry", "provider", c.provider.Name(), "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		res, err := c.provider.Analyze(ctx, kind, text)
		if err == nil {
			res.Provider = c.provider.Name()
			if res.ComputedAt.IsZero() {
				res.ComputedAt = time.Now()
			}
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		lastErr = err
	}

	logging.Warn("analysis provider exhausted retries",
		"provider", c.provider.Name(), "attempts", c.cfg.MaxAttempts, "error", lastErr)
	return Result{}, fmt.Errorf("%w after %d attempts: %v", ErrProviderUnavailable, c.cfg.MaxAttempts, lastErr)
}

// Backoff returns the delay before retry number attempt (0-based):
// base * 2^attempt plus jitter in [0, base). Strictly non-decreasing in
// attempt regardless of jitter.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	return d + time.Duration(rand.Int63n(int64(base)))
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Failures:  c.failures.Load(),
	}
}

// Len reports the number of live cache entries, expired ones included
// until their next access or Purge.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops expired entries. Called opportunistically from the
// pipeline's tick loop.
func (c *Cache) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, ent := range c.entries {
		if !now.Before(ent.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
