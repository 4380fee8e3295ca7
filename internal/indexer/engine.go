// Package indexer is the review index engine. It owns the committed segment
// set, the review metadata store and the invalidation vector, and exposes
// construction, insertion, deletion, term queries and full compaction.
// Callers serialize writes; the engine holds one lock for its public
// operations.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/invalidation"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/metrics"
)

// Cache holds merged, unfiltered posting lists by term. It is invalidated
// whenever the committed segment set changes.
type Cache interface {
	GetOrCompute(ctx context.Context, term string, computeFn func() (index.PostingList, error)) (index.PostingList, bool, error)
	Invalidate(ctx context.Context) error
}

// defaultQueryParallelism bounds the per-query segment fan-out when the
// configuration leaves it unset.
const defaultQueryParallelism = 8

// commitManifest is replaced in tests to fail a commit.
var commitManifest = manifest.Commit

// Options configures Open.
type Options struct {
	Config  config.IndexerConfig
	Metrics *metrics.Metrics
	Cache   Cache
}

type Engine struct {
	mu       sync.Mutex
	cfg      config.IndexerConfig
	dir      string
	manifest *manifest.Manifest
	// readers[i] serves manifest.Segments[i].
	readers []*segment.Reader
	invalid *invalidation.Vector
	store   *reviews.Store
	tok     *tokenizer.Tokenizer
	metrics *metrics.Metrics
	cache   Cache
	logger  *slog.Logger
	closed  bool
}

// Open loads the index in cfg.DataDir, creating the directory if needed.
// Segment directories the manifest does not reference are removed.
func Open(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg.QueryParallelism < 1 {
		cfg.QueryParallelism = defaultQueryParallelism
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		cfg:     cfg,
		dir:     cfg.DataDir,
		tok:     tokenizer.New(cfg.MaxTermLength),
		metrics: opts.Metrics,
		cache:   opts.Cache,
		logger:  slog.Default().With("component", "indexer"),
	}

	m, ok, err := manifest.Load(e.dir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if !ok {
		m = manifest.New(cfg.Mode)
	} else if m.Mode != cfg.Mode {
		e.logger.Warn("index mode differs from configuration, keeping committed mode",
			"committed", m.Mode,
			"configured", cfg.Mode,
		)
	}
	e.manifest = m

	removed, err := manifest.RemoveOrphans(e.dir, m)
	if err != nil {
		return nil, err
	}
	for _, name := range removed {
		e.logger.Warn("removed uncommitted segment", "segment", name)
	}
	if err := os.RemoveAll(e.scratchRoot()); err != nil {
		return nil, fmt.Errorf("clearing scratch directory: %w", err)
	}

	if e.readers, err = openReaders(e.dir, m.Names()); err != nil {
		return nil, err
	}
	if e.store, err = reviews.OpenStore(e.dir, m.NextDocID); err != nil {
		closeReaders(e.readers)
		return nil, err
	}
	if e.invalid, err = invalidation.Open(filepath.Join(e.dir, invalidation.FileName)); err != nil {
		closeReaders(e.readers)
		e.store.Close()
		return nil, err
	}
	e.metrics.Segments(len(e.readers))
	e.logger.Info("index opened",
		"dir", e.dir,
		"mode", m.Mode,
		"segments", len(e.readers),
		"next_doc_id", m.NextDocID,
	)
	return e, nil
}

func openReaders(dir string, names []string) ([]*segment.Reader, error) {
	readers := make([]*segment.Reader, len(names))
	var g errgroup.Group
	g.SetLimit(8)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			r, err := segment.Open(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("opening segment %s: %w", name, err)
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeReaders(readers)
		return nil, err
	}
	return readers, nil
}

func closeReaders(readers []*segment.Reader) {
	for _, r := range readers {
		if r != nil {
			r.Close()
		}
	}
}

func (e *Engine) scratchRoot() string {
	if e.cfg.TempDir != "" {
		return filepath.Join(e.cfg.TempDir, "review-index-scratch")
	}
	return filepath.Join(e.dir, "tmp")
}

// scratch creates a fresh working directory under auxDir, or under the
// configured scratch root when auxDir is empty.
func (e *Engine) scratch(auxDir string) (string, error) {
	root := auxDir
	if root == "" {
		root = e.scratchRoot()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("creating scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "work-")
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	return dir, nil
}

func (e *Engine) check() error {
	if e.closed {
		return apperrors.ErrClosed
	}
	return nil
}

// Mode returns the committed index mode.
func (e *Engine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manifest.Mode
}

// Segments returns the committed segments in creation order.
func (e *Engine) Segments() []manifest.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]manifest.Segment(nil), e.manifest.Segments...)
}

// commit makes next the committed manifest. newReaders must hold an open
// reader for every segment of next that is not live yet. On success the
// readers of dropped segments are closed and their directories removed.
func (e *Engine) commit(ctx context.Context, next *manifest.Manifest, newReaders map[string]*segment.Reader) error {
	if err := commitManifest(e.dir, next); err != nil {
		return err
	}
	live := make(map[string]*segment.Reader, len(e.readers))
	for i, s := range e.manifest.Segments {
		live[s.Name] = e.readers[i]
	}
	readers := make([]*segment.Reader, len(next.Segments))
	for i, s := range next.Segments {
		if r, ok := live[s.Name]; ok {
			readers[i] = r
			delete(live, s.Name)
			continue
		}
		readers[i] = newReaders[s.Name]
		delete(newReaders, s.Name)
	}
	e.manifest = next
	e.readers = readers
	for name, r := range live {
		r.Close()
		if err := os.RemoveAll(filepath.Join(e.dir, name)); err != nil {
			e.logger.Error("removing superseded segment", "segment", name, "error", err)
		}
	}
	for _, r := range newReaders {
		r.Close()
	}
	e.metrics.Segments(len(e.readers))
	e.invalidateCache(ctx)
	return nil
}

func (e *Engine) invalidateCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Error("posting cache invalidation failed", "error", err)
	}
}

// staged is the uncommitted state of one construct or insert call. Segments
// it writes stay invisible until the call commits them all at once.
type staged struct {
	next *manifest.Manifest
	// committed serves the segments that were live when the call began.
	committed map[string]*segment.Reader
	// written holds the open segments this call wrote and still lists.
	written map[string]*segment.Reader
}

func (e *Engine) stage() *staged {
	committed := make(map[string]*segment.Reader, len(e.readers))
	for i, s := range e.manifest.Segments {
		committed[s.Name] = e.readers[i]
	}
	return &staged{
		next:      e.manifest.Clone(),
		committed: committed,
		written:   make(map[string]*segment.Reader),
	}
}

func (st *staged) reader(name string) *segment.Reader {
	if r, ok := st.written[name]; ok {
		return r
	}
	return st.committed[name]
}

// drop closes and removes a segment written by this call.
func (st *staged) drop(dir, name string) {
	if r, ok := st.written[name]; ok {
		r.Close()
		delete(st.written, name)
	}
	os.RemoveAll(filepath.Join(dir, name))
}

// abort removes every segment written by this call.
func (st *staged) abort(dir string) {
	for name := range st.written {
		st.drop(dir, name)
	}
}

// Construct builds the index from src. The index must be empty.
func (e *Engine) Construct(ctx context.Context, src reviews.Source) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	if len(e.manifest.Segments) > 0 || e.manifest.NextDocID != 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, "Engine.Construct", "index already holds reviews; insert instead")
	}
	return e.ingest(ctx, src, "")
}

// Insert adds the reviews of src and returns the number of live reviews.
// auxDir holds temporary files; empty means the configured scratch space.
func (e *Engine) Insert(ctx context.Context, src reviews.Source, auxDir string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	return e.ingest(ctx, src, auxDir)
}

func (e *Engine) ingest(ctx context.Context, src reviews.Source, auxDir string) (uint64, error) {
	start := time.Now()
	before := e.manifest.NextDocID
	work, err := e.scratch(auxDir)
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(work)

	st := e.stage()
	if e.manifest.Mode == manifest.ModeBulk {
		err = e.insertBulk(ctx, st, src, work)
	} else {
		err = e.insertTiered(ctx, st, src, work)
	}
	if err == nil && st.next.NextDocID != before {
		err = e.commit(ctx, st.next, st.written)
	}
	if err != nil {
		st.abort(e.dir)
		if terr := e.store.Truncate(before); terr != nil {
			e.logger.Error("rolling back review records", "error", terr)
		}
		return 0, err
	}
	added := e.manifest.NextDocID - before
	e.metrics.DocsIndexed(int(added))
	live, err := e.numberOfReviews()
	if err != nil {
		return 0, err
	}
	e.logger.Info("reviews ingested",
		"added", added,
		"live", live,
		"segments", len(e.readers),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return live, nil
}

// newRecord converts a parsed review and its token count into stored
// metadata.
func newRecord(docID uint32, r reviews.Review, tokens int) reviews.Record {
	return reviews.Record{
		DocID:                  docID,
		ProductID:              r.ProductID,
		Score:                  r.Score,
		HelpfulnessNumerator:   r.HelpfulnessNumerator,
		HelpfulnessDenominator: r.HelpfulnessDenominator,
		Length:                 uint32(tokens),
	}
}

// RemoveReviews marks ids as deleted and returns how many were live before.
// Unknown and already deleted ids are ignored.
func (e *Engine) RemoveReviews(ctx context.Context, ids []uint32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	seen := make(map[uint32]bool, len(ids))
	var fresh []uint32
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		ok, err := e.live(id)
		if err != nil {
			return 0, err
		}
		if ok {
			fresh = append(fresh, id)
		}
	}
	if err := e.invalid.Append(fresh); err != nil {
		return 0, fmt.Errorf("recording deletes: %w", err)
	}
	e.metrics.Invalidated(len(fresh))
	e.logger.Info("reviews invalidated", "requested", len(ids), "invalidated", len(fresh))
	return len(fresh), nil
}

// live reports whether id names a stored, undeleted review.
func (e *Engine) live(id uint32) (bool, error) {
	_, ok, err := e.store.Lookup(id)
	if err != nil || !ok {
		return false, err
	}
	deleted, err := e.invalid.Contains(id)
	if err != nil {
		return false, err
	}
	return !deleted, nil
}

// normalize maps a query word to its index term, or "" if it cannot match.
func (e *Engine) normalize(word string) string {
	res := e.tok.Tokenize(word)
	if len(res.Terms) != 1 || res.Count != 1 {
		return ""
	}
	return res.Terms[0]
}

// QueryTerm returns the live postings of word in increasing DocID order.
func (e *Engine) QueryTerm(ctx context.Context, word string) (index.PostingList, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.queryTerm(ctx, word)
}

func (e *Engine) queryTerm(ctx context.Context, word string) (index.PostingList, error) {
	start := time.Now()
	term := e.normalize(word)
	if term == "" {
		e.metrics.Query(time.Since(start), 0, nil)
		return index.PostingList{}, nil
	}
	var merged index.PostingList
	var err error
	if e.cache != nil {
		merged, _, err = e.cache.GetOrCompute(ctx, e.cacheKey(term), func() (index.PostingList, error) {
			return e.lookupAll(ctx, term)
		})
	} else {
		merged, err = e.lookupAll(ctx, term)
	}
	if err == nil {
		merged, err = e.invalid.Filter(merged)
	}
	e.metrics.Query(time.Since(start), len(merged), err)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", term, err)
	}
	return merged, nil
}

// cacheKey scopes term to the committed segment set of this index. Every
// commit allocates a segment sequence number and a rebuilt index gets a new
// id, so entries cached before either are never read again even when
// invalidation fails.
func (e *Engine) cacheKey(term string) string {
	return fmt.Sprintf("%s/%d/%s", e.manifest.IndexID, e.manifest.NextSeq, term)
}

// lookupAll searches every segment for term concurrently and unions the
// results by DocID, later segments winning on collision.
func (e *Engine) lookupAll(ctx context.Context, term string) (index.PostingList, error) {
	parts := make([]index.PostingList, len(e.readers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.QueryParallelism)
	for i, r := range e.readers {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pl, err := r.Postings(term)
			if err != nil {
				return err
			}
			parts[i] = pl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return unionPostings(parts), nil
}

func unionPostings(parts []index.PostingList) index.PostingList {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make(index.PostingList, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	w := 0
	for i := range out {
		if w > 0 && out[w-1].DocID == out[i].DocID {
			out[w-1] = out[i]
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

// MergeAll compacts every segment into one, dropping deleted reviews, and
// then clears the invalidation vector.
func (e *Engine) MergeAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	start := time.Now()
	err := e.mergeAll(ctx)
	e.metrics.Merge("full", time.Since(start), err)
	return err
}

func (e *Engine) mergeAll(ctx context.Context) error {
	deletes, err := e.invalid.Len()
	if err != nil {
		return err
	}
	if len(e.readers) == 0 || (len(e.readers) == 1 && deletes == 0) {
		e.logger.Info("nothing to merge", "segments", len(e.readers))
		return nil
	}
	dropped, err := e.invalid.Snapshot()
	if err != nil {
		return err
	}
	work, err := e.scratch("")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	next := e.manifest.Clone()
	tier := manifest.Untiered
	if next.Mode == manifest.ModeTiered {
		tier = 0
		for _, s := range next.Segments {
			if s.Tier > tier {
				tier = s.Tier
			}
		}
	}
	name := next.AllocSegment()
	dir := filepath.Join(e.dir, name)
	res, err := segment.Merge(dir, e.readers, segment.MergeOptions{
		Capacity: e.cfg.BlockCapacity,
		Drop:     dropped.Contains,
		LiveDocs: e.liveDocs(dropped),
		SpillDir: work,
		SpillCap: e.cfg.PostingSpillCap,
	})
	if err != nil {
		return fmt.Errorf("full merge: %w", err)
	}
	r, err := segment.Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	next.Segments = []manifest.Segment{{Name: name, Tier: tier, Docs: res.Meta.DocCount}}

	// The compacted store replaces the old one only after the manifest
	// commits. Until then deleted records stay stored and invalidated.
	rw, err := e.store.StageRewrite(dropped.Contains)
	if err != nil {
		r.Close()
		os.RemoveAll(dir)
		return fmt.Errorf("rewriting review store: %w", err)
	}
	next.TotalDocs, next.TotalTokens = uint64(rw.Len()), rw.Tokens()

	inputs := len(e.readers)
	if err := e.commit(ctx, next, map[string]*segment.Reader{name: r}); err != nil {
		rw.Discard()
		r.Close()
		os.RemoveAll(dir)
		return err
	}
	if _, err := rw.Install(); err != nil {
		return fmt.Errorf("installing compacted review store: %w", err)
	}
	if err := e.invalid.Clear(); err != nil {
		return fmt.Errorf("clearing invalidation vector: %w", err)
	}
	e.logger.Info("full merge committed",
		"segment", name,
		"inputs", inputs,
		"docs", res.Meta.DocCount,
		"dropped_docs", res.DroppedDocs,
		"terms", res.Terms,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return nil
}

// liveDocs returns a counter of the stored reviews in an id range that are
// not in deleted. Deleted ids whose records are already gone do not count.
func (e *Engine) liveDocs(deleted *roaring.Bitmap) func(lo, hi uint32) (uint64, error) {
	return func(lo, hi uint32) (uint64, error) {
		stored, err := e.store.CountRange(lo, hi)
		if err != nil {
			return 0, err
		}
		var gone int64
		it := deleted.Iterator()
		it.AdvanceIfNeeded(lo)
		for it.HasNext() {
			id := it.Next()
			if id > hi {
				break
			}
			_, ok, err := e.store.Lookup(id)
			if err != nil {
				return 0, err
			}
			if ok {
				gone++
			}
		}
		return uint64(stored - gone), nil
	}
}

// Close releases every open file. It does not flush anything: all writes are
// committed before the operation that made them returns.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, r := range e.readers {
		if err := r.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return e.store.Close()
}
