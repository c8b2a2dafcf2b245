package dataplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/blackmichael/bluesky-appview/internal/cache"
	"github.com/blackmichael/bluesky-appview/internal/metrics"
)

// Cached wraps a Client with a read-through cache for actors and records.
// Every other method passes straight through.
type Cached struct {
	Client

	store   cache.Store
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	revs    singleflight.Group
	batches singleflight.Group
}

// CachedOption customises a Cached client.
type CachedOption func(*Cached)

// WithTTL sets how long cached entries live.
func WithTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) { c.ttl = ttl }
}

// WithFetchTimeout bounds a shared upstream fetch. A shared fetch outlives
// the caller that started it, so it cannot use that caller's deadline.
func WithFetchTimeout(d time.Duration) CachedOption {
	return func(c *Cached) { c.timeout = d }
}

// WithLogger sets the logger for cache failures.
func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = logger }
}

// NewCached wraps inner with store.
func NewCached(inner Client, store cache.Store, opts ...CachedOption) *Cached {
	c := &Cached{
		Client: inner,
		store:  store,
		ttl:     30 * time.Second,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) GetActors(ctx context.Context, dids []string) ([]Actor, error) {
	return readThrough(ctx, c, "actor", dids, c.Client.GetActors)
}

func (c *Cached) GetRecords(ctx context.Context, collection string, uris []string) ([]Record, error) {
	return readThrough(ctx, c, "record", uris, func(ctx context.Context, keys []string) ([]Record, error) {
		return c.Client.GetRecords(ctx, collection, keys)
	})
}

// GetLatestRev collapses concurrent lookups for the same DID.
func (c *Cached) GetLatestRev(ctx context.Context, did string) (string, error) {
	v, err := c.shared(ctx, &c.revs, did, func(ctx context.Context) (any, error) {
		return c.Client.GetLatestRev(ctx, did)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// shared runs fn once per key across concurrent callers. fn runs detached
// from any single caller's cancellation, under the fetch timeout, and each
// caller stops waiting when its own context is done.
func (c *Cached) shared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// readThrough serves keys from the cache and fetches the rest from fetch in a
// single call, which concurrent callers missing the same keys share. Fetched
// values are back-filled into the cache. Cache failures degrade to a full
// fetch.
func readThrough[V any](ctx context.Context, c *Cached, kind string, keys []string, fetch func(context.Context, []string) ([]V, error)) ([]V, error) {
	out := make([]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = kind + ":" + k
	}
	hits, err := c.store.GetMany(ctx, cacheKeys)
	if err != nil {
		c.logger.Warn("cache read failed", "kind", kind, "error", err)
		hits = nil
	}

	var missing []string
	var missingIdx []int
	for i, ck := range cacheKeys {
		if raw, ok := hits[ck]; ok {
			if err := json.Unmarshal(raw, &out[i]); err == nil {
				metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
				continue
			}
		}
		metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()
		missing = append(missing, keys[i])
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	v, err := c.shared(ctx, &c.batches, kind+":"+strings.Join(missing, "\x00"), func(ctx context.Context) (any, error) {
		fetched, err := fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		fill := make(map[string][]byte, len(fetched))
		for j, v := range fetched {
			if j >= len(missing) {
				break
			}
			if raw, err := json.Marshal(v); err == nil {
				fill[kind+":"+missing[j]] = raw
			}
		}
		if err := c.store.SetMany(ctx, fill, c.ttl); err != nil {
			c.logger.Warn("cache write failed", "kind", kind, "error", err)
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	for j, val := range v.([]V) {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = val
	}
	return out, nil
}
