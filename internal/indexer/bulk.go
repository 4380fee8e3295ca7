package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/extsort"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/segment"
)

const recordBatch = 4096

// insertBulk builds one untiered segment from src through the external
// sort and stages it in st. The review records are stored during the
// lexicon pass.
func (e *Engine) insertBulk(ctx context.Context, st *staged, src reviews.Source, work string) error {
	start := time.Now()
	first := st.next.NextDocID

	var batch []reviews.Record
	flushRecords := func() error {
		if err := e.store.Append(batch); err != nil {
			return fmt.Errorf("storing review metadata: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	documents := func(record bool) extsort.Source {
		return func(fn func(extsort.Document) error) error {
			docID := first
			return src.Scan(func(r reviews.Review) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := e.analyze(docID, r)
				if err != nil {
					return err
				}
				if record {
					batch = append(batch, newRecord(docID, r, res.Count))
					if len(batch) >= recordBatch {
						if err := flushRecords(); err != nil {
							return err
						}
					}
				}
				doc := extsort.Document{DocID: docID, Tokens: res.Terms, TokenCount: res.Count}
				docID++
				return fn(doc)
			})
		}
	}

	lex, err := extsort.BuildLexicon(documents(true))
	if err != nil {
		return err
	}
	if err := flushRecords(); err != nil {
		return err
	}
	if lex.DocCount == 0 {
		e.logger.Info("bulk input held no reviews")
		return nil
	}
	last := first + uint32(lex.DocCount) - 1

	sorter := extsort.NewSorter(extsort.Config{
		Dir:          work,
		MaxTempFiles: e.cfg.MaxTempFiles,
		MinRunPairs:  e.cfg.MinRunPairs,
	})
	sorted, err := sorter.Sort(lex, documents(false))
	if err != nil {
		return fmt.Errorf("sorting postings: %w", err)
	}
	defer sorted.Cleanup()
	pairs, err := sorted.Open()
	if err != nil {
		return err
	}
	defer pairs.Close()

	next := st.next
	name := next.AllocSegment()
	dir := filepath.Join(e.dir, name)
	meta, err := segment.WriteSorted(dir, e.cfg.BlockCapacity, segment.SortedInput{
		Lexicon:  lex,
		Pairs:    pairs,
		SpillDir: filepath.Join(work, "spill"),
		SpillCap: e.cfg.PostingSpillCap,
		Stats: segment.Stats{
			DocCount:   uint32(lex.DocCount),
			TokenCount: uint64(lex.TokenCount),
			MinDocID:   first,
			MaxDocID:   last,
		},
	})
	e.metrics.Flush(err)
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("writing bulk segment: %w", err)
	}
	r, err := segment.Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	next.Segments = append(next.Segments, manifest.Segment{Name: name, Tier: manifest.Untiered, Docs: meta.DocCount})
	next.NextDocID = last + 1
	next.TotalDocs += uint64(lex.DocCount)
	next.TotalTokens += uint64(lex.TokenCount)
	st.written[name] = r
	e.logger.Info("bulk segment written",
		"segment", name,
		"docs", meta.DocCount,
		"terms", meta.TermCount,
		"pairs", lex.PairCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
