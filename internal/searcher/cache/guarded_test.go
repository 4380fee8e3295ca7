package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/resilience"
)

type downStore struct {
	calls int
}

func (s *downStore) Get(context.Context, string) (string, error) {
	s.calls++
	return "", errors.New("connection refused")
}

func (s *downStore) Set(context.Context, string, interface{}, time.Duration) error {
	s.calls++
	return errors.New("connection refused")
}

func (s *downStore) FlushByPattern(context.Context, string) (int64, error) {
	s.calls++
	return 0, errors.New("connection refused")
}

func isNil(err error) bool { return errors.Is(err, redis.Nil) }

func TestGuardedStoreOpensOnFailures(t *testing.T) {
	ctx := context.Background()
	down := &downStore{}
	g := NewGuardedStore(down, time.Second, isNil)
	for i := 0; i < 5; i++ {
		g.Get(ctx, "k")
	}
	if g.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}
	if _, err := g.Get(ctx, "k"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Get on open circuit = %v, want ErrCircuitOpen", err)
	}
	if down.calls != 5 {
		t.Errorf("store called %d times, want 5", down.calls)
	}
}

func TestGuardedStoreMissIsNotFailure(t *testing.T) {
	ctx := context.Background()
	g := NewGuardedStore(newMemStore(), time.Second, isNil)
	for i := 0; i < 10; i++ {
		if _, err := g.Get(ctx, "absent"); !errors.Is(err, redis.Nil) {
			t.Fatalf("Get = %v, want redis.Nil", err)
		}
	}
	if g.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", g.State())
	}

	c := New(g, time.Minute, "/data/a", nil)
	if _, hit, err := c.GetOrCompute(ctx, "pear", func() (index.PostingList, error) { return nil, nil }); err != nil || hit {
		t.Errorf("GetOrCompute = (hit %v, %v)", hit, err)
	}
}
