package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/resilience"
)

// GuardedStore bounds every call to the underlying store by a timeout and
// stops calling it while its circuit breaker is open, so a slow or absent
// Redis degrades queries to uncached lookups instead of stalling them.
type GuardedStore struct {
	store   Store
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGuardedStore wraps store. isMiss reports errors that mean the key is
// absent; they do not count as failures.
func NewGuardedStore(store Store, timeout time.Duration, isMiss func(error) bool) *GuardedStore {
	return &GuardedStore{
		store: store,
		breaker: resilience.NewCircuitBreaker("posting-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			IsFailure: func(err error) bool {
				if errors.Is(err, context.Canceled) {
					return false
				}
				return isMiss == nil || !isMiss(err)
			},
		}),
		timeout: timeout,
	}
}

func (g *GuardedStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := g.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, g.timeout, "cache-get", func(ctx context.Context) error {
			v, err := g.store.Get(ctx, key)
			val = v
			return err
		})
	})
	if err != nil {
		return "", err
	}
	return val, nil
}

func (g *GuardedStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return g.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, g.timeout, "cache-set", func(ctx context.Context) error {
			return g.store.Set(ctx, key, value, ttl)
		})
	})
}

func (g *GuardedStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var n int64
	err := g.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, g.timeout, "cache-flush", func(ctx context.Context) error {
			var err error
			n, err = g.store.FlushByPattern(ctx, pattern)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// State reports the breaker state, for health checks.
func (g *GuardedStore) State() resilience.State {
	return g.breaker.GetState()
}
