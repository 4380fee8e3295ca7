package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// analyze validates a review and tokenizes its text.
func (e *Engine) analyze(docID uint32, r reviews.Review) (tokenizer.Result, error) {
	if docID > varint.MaxValue {
		return tokenizer.Result{}, apperrors.Newf(apperrors.ErrOutOfRange, "Engine.analyze", "document id %d exceeds %d", docID, varint.MaxValue)
	}
	if len(r.ProductID) > reviews.ProductIDLen {
		return tokenizer.Result{}, apperrors.Newf(apperrors.ErrInvalidInput, "Engine.analyze", "review %d: product id %q longer than %d bytes", docID, r.ProductID, reviews.ProductIDLen)
	}
	return e.tok.Tokenize(r.Text), nil
}

// insertTiered buffers reviews in memory and flushes a segment whenever the
// buffer reaches SegmentMaxSize, and once more at the end of src. Flushes
// are staged in st; nothing is visible until the caller commits.
func (e *Engine) insertTiered(ctx context.Context, st *staged, src reviews.Source, work string) error {
	mem := index.NewMemoryIndex(filepath.Join(work, "spill"), e.cfg.PostingSpillCap)
	defer mem.Reset()

	var pending []reviews.Record
	docID := st.next.NextDocID
	err := src.Scan(func(r reviews.Review) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.analyze(docID, r)
		if err != nil {
			return err
		}
		if err := mem.AddDocument(docID, res.Terms, res.Count); err != nil {
			return err
		}
		pending = append(pending, newRecord(docID, r, res.Count))
		docID++
		if mem.Size() < e.cfg.SegmentMaxSize {
			return nil
		}
		e.logger.Debug("write buffer full, flushing",
			"size", mem.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.flush(st, mem, pending, work); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	})
	if err != nil {
		return err
	}
	return e.flush(st, mem, pending, work)
}

// flush writes the buffered reviews as a tier-0 segment, stores their
// records and carries the segment through the occupied tiers of st.
func (e *Engine) flush(st *staged, mem *index.MemoryIndex, pending []reviews.Record, work string) error {
	if mem.DocCount() == 0 {
		return nil
	}
	start := time.Now()
	name := st.next.AllocSegment()
	dir := filepath.Join(e.dir, name)

	docs, tokens := mem.DocCount(), mem.TokenCount()
	_, maxDoc := mem.DocRange()
	meta, err := segment.WriteMemory(dir, e.cfg.BlockCapacity, mem)
	if rerr := mem.Reset(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		e.metrics.Flush(err)
		os.RemoveAll(dir)
		return fmt.Errorf("flushing segment: %w", err)
	}
	fresh, err := segment.Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		e.metrics.Flush(err)
		return err
	}
	st.written[name] = fresh
	e.metrics.Flush(nil)
	e.logger.Info("segment flushed",
		"segment", name,
		"terms", meta.TermCount,
		"docs", meta.DocCount,
	)

	// Records go in first so merges can count them.
	if err := e.store.Append(pending); err != nil {
		return fmt.Errorf("storing review metadata: %w", err)
	}
	placed, err := e.carry(st, manifest.Segment{Name: name, Docs: meta.DocCount}, work)
	if err != nil {
		return err
	}
	st.next.NextDocID = maxDoc + 1
	st.next.TotalDocs += uint64(docs)
	st.next.TotalTokens += uint64(tokens)
	e.logger.Debug("flush staged",
		"segment", placed.Name,
		"tier", placed.Tier,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// carry places a freshly flushed segment into st. If tier 0 is free the
// segment takes it; otherwise the occupants of tiers 0..k-1 are merged with
// it into tier k, the first free tier. Merged segments written by this call
// are removed at once; committed ones are retired by the commit.
func (e *Engine) carry(st *staged, seg manifest.Segment, work string) (manifest.Segment, error) {
	next := st.next
	var victims []int
	k := 0
	for ; ; k++ {
		i := next.Tier(k)
		if i < 0 {
			break
		}
		victims = append(victims, i)
	}
	if len(victims) == 0 {
		seg.Tier = 0
		next.Segments = append(next.Segments, seg)
		return seg, nil
	}

	start := time.Now()
	sort.Ints(victims)
	inputs := make([]*segment.Reader, 0, len(victims)+1)
	drop := make(map[int]bool, len(victims))
	for _, i := range victims {
		inputs = append(inputs, st.reader(next.Segments[i].Name))
		drop[i] = true
	}
	inputs = append(inputs, st.reader(seg.Name))

	dropped, err := e.invalid.Snapshot()
	if err != nil {
		return manifest.Segment{}, err
	}
	name := next.AllocSegment()
	dir := filepath.Join(e.dir, name)
	res, err := segment.Merge(dir, inputs, segment.MergeOptions{
		Capacity: e.cfg.BlockCapacity,
		Drop:     dropped.Contains,
		LiveDocs: e.liveDocs(dropped),
		SpillDir: filepath.Join(work, "spill"),
		SpillCap: e.cfg.PostingSpillCap,
	})
	e.metrics.Merge("cascade", time.Since(start), err)
	if err != nil {
		return manifest.Segment{}, fmt.Errorf("cascading into tier %d: %w", k, err)
	}
	r, err := segment.Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		return manifest.Segment{}, err
	}
	st.written[name] = r

	kept := next.Segments[:0:0]
	for i, s := range next.Segments {
		if !drop[i] {
			kept = append(kept, s)
			continue
		}
		if _, ok := st.written[s.Name]; ok {
			st.drop(e.dir, s.Name)
		}
	}
	st.drop(e.dir, seg.Name)
	placed := manifest.Segment{Name: name, Tier: k, Docs: res.Meta.DocCount}
	next.Segments = append(kept, placed)
	e.logger.Info("tiers merged",
		"segment", name,
		"tier", k,
		"inputs", len(inputs),
		"docs", res.Meta.DocCount,
		"dropped_docs", res.DroppedDocs,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return placed, nil
}
