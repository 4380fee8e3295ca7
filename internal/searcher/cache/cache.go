// Package cache keeps merged posting lists in Redis so repeated term queries
// skip the per-segment dictionary search.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/review-index/pkg/redis"
)

const keyPrefix = "postings:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// PostingCache caches posting lists by term, namespaced per index directory.
type PostingCache struct {
	store     Store
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// New returns a cache whose keys are scoped to the index at dataDir.
func New(store Store, ttl time.Duration, dataDir string, m *metrics.Metrics) *PostingCache {
	sum := sha256.Sum256([]byte(dataDir))
	return &PostingCache{
		store:     store,
		ttl:       ttl,
		namespace: fmt.Sprintf("%s%x:", keyPrefix, sum[:8]),
		metrics:   m,
		logger:    slog.Default().With("component", "posting-cache"),
	}
}

func (c *PostingCache) key(term string) string {
	return c.namespace + term
}

// Get returns the cached postings of term.
func (c *PostingCache) Get(ctx context.Context, term string) (index.PostingList, bool) {
	key := c.key(term)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	pl, err := index.DecodePostings([]byte(data))
	if err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return pl, true
}

func (c *PostingCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

// Set stores the postings of term. Failures are logged, not returned.
func (c *PostingCache) Set(ctx context.Context, term string, pl index.PostingList) {
	key := c.key(term)
	data, err := index.EncodePostings(pl)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached postings of term or computes, stores and
// returns them. Concurrent callers for one term share a single computation.
func (c *PostingCache) GetOrCompute(
	ctx context.Context,
	term string,
	computeFn func() (index.PostingList, error),
) (index.PostingList, bool, error) {
	if pl, ok := c.Get(ctx, term); ok {
		return pl, true, nil
	}
	val, err, _ := c.group.Do(c.key(term), func() (interface{}, error) {
		pl, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, term, pl)
		return pl, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(index.PostingList), false, nil
}

// Invalidate drops every cached term of this index.
func (c *PostingCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, c.namespace+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *PostingCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
