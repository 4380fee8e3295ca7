package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		s.data[key] = string(v)
	case string:
		s.data[key] = v
	default:
		return errors.New("unsupported value type")
	}
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Minute, "/data/a", nil)
	want := index.PostingList{{DocID: 3, Frequency: 1}, {DocID: 70000, Frequency: 4}}

	calls := 0
	compute := func() (index.PostingList, error) {
		calls++
		return want, nil
	}
	got, hit, err := c.GetOrCompute(ctx, "apple", compute)
	if err != nil || hit {
		t.Fatalf("first call = (hit %v, %v)", hit, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("computed postings mismatch (-want +got):\n%s", diff)
	}
	got, hit, err = c.GetOrCompute(ctx, "apple", compute)
	if err != nil || !hit {
		t.Fatalf("second call = (hit %v, %v)", hit, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached postings mismatch (-want +got):\n%s", diff)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestInvalidateIsScopedToIndex(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := New(store, time.Minute, "/data/a", nil)
	b := New(store, time.Minute, "/data/b", nil)
	pl := index.PostingList{{DocID: 1, Frequency: 1}}
	a.Set(ctx, "kiwi", pl)
	b.Set(ctx, "kiwi", pl)

	if err := a.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Get(ctx, "kiwi"); ok {
		t.Error("index a still cached after Invalidate")
	}
	if _, ok := b.Get(ctx, "kiwi"); !ok {
		t.Error("index b lost its entry")
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Minute, "/data/a", nil)
	boom := errors.New("boom")
	if _, _, err := c.GetOrCompute(ctx, "fig", func() (index.PostingList, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrCompute = %v, want boom", err)
	}
	if _, ok := c.Get(ctx, "fig"); ok {
		t.Error("failed computation was cached")
	}
}
