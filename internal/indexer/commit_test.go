package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

var errDiskFull = errors.New("disk full")

// failCommits makes every manifest commit fail until the test ends.
func failCommits(t *testing.T) {
	t.Helper()
	orig := commitManifest
	commitManifest = func(string, *manifest.Manifest) error { return errDiskFull }
	t.Cleanup(func() { commitManifest = orig })
}

// checkNoStrays fails if dir holds segment directories or store copies that
// the committed manifest does not account for.
func checkNoStrays(t *testing.T, dir string) {
	t.Helper()
	m, ok, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		m = nil
	}
	orphans, err := manifest.Orphans(dir, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) > 0 {
		t.Errorf("uncommitted segments left behind: %v", orphans)
	}
	copies, _ := filepath.Glob(filepath.Join(dir, ".reviews-*"))
	if len(copies) > 0 {
		t.Errorf("review store copies left behind: %v", copies)
	}
}

func segmentShape(e *Engine) []manifest.Segment {
	var out []manifest.Segment
	for _, s := range e.Segments() {
		out = append(out, manifest.Segment{Tier: s.Tier, Docs: s.Docs})
	}
	return out
}

func TestFailedInsertKeepsCommittedState(t *testing.T) {
	for _, mode := range []string{manifest.ModeTiered, manifest.ModeBulk} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t.TempDir(), mode)
			cfg.SegmentMaxSize = 1
			e := openEngine(t, cfg)
			if _, err := e.Insert(ctx, texts("apple"), ""); err != nil {
				t.Fatal(err)
			}
			before := e.Segments()

			bad := texts("apple", "apple pear", "pear")
			bad[2].ProductID = strings.Repeat("X", 20)
			if _, err := e.Insert(ctx, bad, ""); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Fatalf("Insert = %v, want ErrInvalidInput", err)
			}

			check := func(e *Engine) {
				t.Helper()
				if n, err := e.NumberOfReviews(); err != nil || n != 1 {
					t.Errorf("NumberOfReviews = (%d, %v), want 1", n, err)
				}
				if tokens, err := e.TokenSizeOfReviews(); err != nil || tokens != 1 {
					t.Errorf("TokenSizeOfReviews = (%d, %v), want 1", tokens, err)
				}
				if diff := cmp.Diff(before, e.Segments()); diff != "" {
					t.Errorf("segments changed (-want +got):\n%s", diff)
				}
				wantPostings(t, e, "apple", index.PostingList{{DocID: 1, Frequency: 1}})
				wantPostings(t, e, "pear", nil)
				if _, ok, err := e.Review(2); err != nil || ok {
					t.Errorf("Review(2) = (ok %v, %v), want unknown", ok, err)
				}
				checkNoStrays(t, cfg.DataDir)
			}
			check(e)
			e.Close()

			e = openEngine(t, cfg)
			check(e)
			if _, err := e.Insert(ctx, texts("pear"), ""); err != nil {
				t.Fatal(err)
			}
			wantPostings(t, e, "pear", index.PostingList{{DocID: 2, Frequency: 1}})
		})
	}
}

func TestFailedConstructCanBeRetried(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), manifest.ModeTiered)
	cfg.SegmentMaxSize = 1
	e := openEngine(t, cfg)

	bad := texts("apple", "apple", "apple")
	bad[2].ProductID = strings.Repeat("X", 20)
	if _, err := e.Construct(ctx, bad); err == nil {
		t.Fatal("Construct accepted an oversized product id")
	}
	if segs := e.Segments(); len(segs) != 0 {
		t.Fatalf("failed Construct left %d segments", len(segs))
	}
	n, err := e.Construct(ctx, texts("apple", "apple apple"))
	if err != nil {
		t.Fatalf("retried Construct: %v", err)
	}
	if n != 2 {
		t.Errorf("Construct = %d live reviews, want 2", n)
	}
	wantPostings(t, e, "apple", index.PostingList{
		{DocID: 1, Frequency: 1},
		{DocID: 2, Frequency: 2},
	})
}

func TestFailedCommitRollsBackInsert(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), manifest.ModeTiered)
	cfg.SegmentMaxSize = 1
	e := openEngine(t, cfg)
	if _, err := e.Insert(ctx, texts("apple", "apple"), ""); err != nil {
		t.Fatal(err)
	}
	before := e.Segments()

	t.Run("failing", func(t *testing.T) {
		failCommits(t)
		if _, err := e.Insert(ctx, texts("apple", "pear", "pear"), ""); !errors.Is(err, errDiskFull) {
			t.Fatalf("Insert = %v, want %v", err, errDiskFull)
		}
	})
	if diff := cmp.Diff(before, e.Segments()); diff != "" {
		t.Errorf("segments changed (-want +got):\n%s", diff)
	}
	if n, err := e.NumberOfReviews(); err != nil || n != 2 {
		t.Errorf("NumberOfReviews = (%d, %v), want 2", n, err)
	}
	wantPostings(t, e, "pear", nil)
	checkNoStrays(t, cfg.DataDir)

	if _, err := e.Insert(ctx, texts("pear"), ""); err != nil {
		t.Fatal(err)
	}
	wantPostings(t, e, "pear", index.PostingList{{DocID: 3, Frequency: 1}})
}

func TestFailedMergeKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), manifest.ModeBulk)
	e := openEngine(t, cfg)
	if _, err := e.Construct(ctx, appleReviews); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RemoveReviews(ctx, []uint32{2}); err != nil {
		t.Fatal(err)
	}
	before := e.Segments()
	apples := index.PostingList{
		{DocID: 1, Frequency: 1},
		{DocID: 4, Frequency: 1},
		{DocID: 5, Frequency: 3},
	}

	check := func(e *Engine) {
		t.Helper()
		if tokens, err := e.TokenSizeOfReviews(); err != nil || tokens != 8 {
			t.Errorf("TokenSizeOfReviews = (%d, %v), want 8", tokens, err)
		}
		if n, err := e.NumberOfReviews(); err != nil || n != 4 {
			t.Errorf("NumberOfReviews = (%d, %v), want 4", n, err)
		}
		if _, ok, err := e.Review(2); err != nil || ok {
			t.Errorf("Review(2) = (ok %v, %v), want deleted", ok, err)
		}
		wantPostings(t, e, "apple", apples)
	}

	t.Run("failing", func(t *testing.T) {
		failCommits(t)
		if err := e.MergeAll(ctx); !errors.Is(err, errDiskFull) {
			t.Fatalf("MergeAll = %v, want %v", err, errDiskFull)
		}
	})
	if diff := cmp.Diff(before, e.Segments()); diff != "" {
		t.Errorf("segments changed (-want +got):\n%s", diff)
	}
	check(e)
	checkNoStrays(t, cfg.DataDir)
	e.Close()

	e = openEngine(t, cfg)
	check(e)
	if err := e.MergeAll(ctx); err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	check(e)
}

func TestMergedDocCountSkipsDeletedEmptyReviews(t *testing.T) {
	ctx := context.Background()

	t.Run("bulk", func(t *testing.T) {
		e := openEngine(t, testConfig(t.TempDir(), manifest.ModeBulk))
		if _, err := e.Construct(ctx, texts("apple", "", "pear")); err != nil {
			t.Fatal(err)
		}
		if _, err := e.RemoveReviews(ctx, []uint32{2}); err != nil {
			t.Fatal(err)
		}
		if err := e.MergeAll(ctx); err != nil {
			t.Fatal(err)
		}
		want := []manifest.Segment{{Tier: manifest.Untiered, Docs: 2}}
		if diff := cmp.Diff(want, segmentShape(e)); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("tiered", func(t *testing.T) {
		e := openEngine(t, testConfig(t.TempDir(), manifest.ModeTiered))
		if _, err := e.Insert(ctx, texts("apple", ""), ""); err != nil {
			t.Fatal(err)
		}
		if _, err := e.RemoveReviews(ctx, []uint32{2}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Insert(ctx, texts("pear"), ""); err != nil {
			t.Fatal(err)
		}
		want := []manifest.Segment{{Tier: 1, Docs: 2}}
		if diff := cmp.Diff(want, segmentShape(e)); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestQueryWithPartialConfig(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, config.IndexerConfig{
		DataDir:        t.TempDir(),
		Mode:           manifest.ModeTiered,
		SegmentMaxSize: 1 << 20,
	})
	if _, err := e.Insert(ctx, texts("apple"), ""); err != nil {
		t.Fatal(err)
	}

	done := make(chan index.PostingList, 1)
	go func() {
		pl, _ := e.QueryTerm(ctx, "apple")
		done <- pl
	}()
	select {
	case pl := <-done:
		if diff := cmp.Diff(index.PostingList{{DocID: 1, Frequency: 1}}, pl); diff != "" {
			t.Errorf("QueryTerm mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("QueryTerm did not return")
	}
}

// flushFailingStore is a cache store whose invalidation always fails.
type flushFailingStore struct {
	*memStore
}

func (s flushFailingStore) FlushByPattern(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestCacheDoesNotServeRebuiltIndex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir(), manifest.ModeTiered)
	pc := cache.New(flushFailingStore{&memStore{data: make(map[string]string)}}, time.Minute, cfg.DataDir, nil)

	e, err := Open(Options{Config: cfg, Cache: pc})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Construct(ctx, texts("fig")); err != nil {
		t.Fatal(err)
	}
	wantPostings(t, e, "fig", index.PostingList{{DocID: 1, Frequency: 1}})
	e.Close()

	if err := os.RemoveAll(cfg.DataDir); err != nil {
		t.Fatal(err)
	}
	e, err = Open(Options{Config: cfg, Cache: pc})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if _, err := e.Construct(ctx, texts("kiwi", "fig fig")); err != nil {
		t.Fatal(err)
	}
	wantPostings(t, e, "fig", index.PostingList{{DocID: 2, Frequency: 2}})
}
