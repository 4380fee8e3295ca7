package segment

import (
	"container/heap"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// MergeOptions controls a k-way segment merge.
type MergeOptions struct {
	Capacity int
	// Drop reports document ids whose postings are left out of the output.
	Drop func(docID uint32) bool
	// LiveDocs counts the undeleted documents with ids in [lo, hi]. When
	// set it gives the output document count, which then includes
	// documents without postings.
	LiveDocs func(lo, hi uint32) (uint64, error)
	SpillDir string
	SpillCap int
}

// MergeResult describes the segment a merge produced.
type MergeResult struct {
	Meta        Meta
	DroppedDocs uint64
	Terms       int
	Duration    time.Duration
}

type cursorItem struct {
	cursor *Cursor
	order  int
}

type cursorHeap []cursorItem

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	ti, tj := h[i].cursor.Term(), h[j].cursor.Term()
	if ti != tj {
		return ti < tj
	}
	return h[i].order < h[j].order
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) {
	*h = append(*h, x.(cursorItem))
}

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge writes the union of readers into a new segment at dir. Readers must
// be given in creation order: for every term the per-segment posting lists
// are concatenated in that order, which yields a sorted list because document
// ids only grow over time. An out-of-order id aborts the merge.
func Merge(dir string, readers []*Reader, opts MergeOptions) (MergeResult, error) {
	start := time.Now()
	logger := slog.Default().With("component", "segment-merge")

	b, err := NewBuilder(dir, opts.Capacity)
	if err != nil {
		return MergeResult{}, err
	}
	fail := func(err error) (MergeResult, error) {
		b.Abort()
		return MergeResult{}, err
	}

	h := &cursorHeap{}
	var inputTokens uint64
	var inputDocs uint64
	lo, hi := uint32(0), uint32(0)
	seenRange := false
	for i, r := range readers {
		m := r.Meta()
		inputTokens += m.TokenCount
		inputDocs += uint64(m.DocCount)
		if m.DocCount > 0 {
			if !seenRange || m.MinDocID < lo {
				lo = m.MinDocID
			}
			if !seenRange || m.MaxDocID > hi {
				hi = m.MaxDocID
			}
			seenRange = true
		}
		c := r.Cursor()
		if c.Next() {
			heap.Push(h, cursorItem{cursor: c, order: i})
		} else if err := c.Err(); err != nil {
			return fail(fmt.Errorf("reading %s: %w", r.Dir(), err))
		}
	}

	kept := roaring.New()
	dropped := roaring.New()
	var droppedTokens uint64
	list := index.NewSpillingList(opts.SpillDir, opts.SpillCap)
	defer list.Release()

	for h.Len() > 0 {
		term := (*h)[0].cursor.Term()
		for h.Len() > 0 && (*h)[0].cursor.Term() == term {
			item := heap.Pop(h).(cursorItem)
			pl, err := item.cursor.Postings()
			if err != nil {
				return fail(err)
			}
			for _, p := range pl {
				if opts.Drop != nil && opts.Drop(p.DocID) {
					dropped.Add(p.DocID)
					droppedTokens += uint64(p.Frequency)
					continue
				}
				if err := list.Add(p.DocID, p.Frequency); err != nil {
					return fail(fmt.Errorf("merging %q from %s: %w", term, item.cursor.r.Dir(), err))
				}
				kept.Add(p.DocID)
			}
			if item.cursor.Next() {
				heap.Push(h, item)
			} else if err := item.cursor.Err(); err != nil {
				return fail(fmt.Errorf("reading %s: %w", item.cursor.r.Dir(), err))
			}
		}
		if err := b.Add(term, list); err != nil {
			return fail(err)
		}
	}

	stats := Stats{MinDocID: lo, MaxDocID: hi}
	droppedDocs := dropped.GetCardinality()
	if droppedDocs > inputDocs {
		return fail(apperrors.Corruptf(dir, "dropped %d documents from inputs holding %d", droppedDocs, inputDocs))
	}
	stats.DocCount = uint32(inputDocs - droppedDocs)
	if opts.LiveDocs != nil && seenRange {
		live, err := opts.LiveDocs(lo, hi)
		if err != nil {
			return fail(err)
		}
		if live > inputDocs {
			return fail(apperrors.Corruptf(dir, "%d live documents in inputs holding %d", live, inputDocs))
		}
		stats.DocCount = uint32(live)
	}
	if droppedTokens <= inputTokens {
		stats.TokenCount = inputTokens - droppedTokens
	}
	// A counted range stays the input range so documents without postings
	// remain inside it for later merges.
	if opts.LiveDocs == nil && !kept.IsEmpty() {
		stats.MinDocID = kept.Minimum()
		stats.MaxDocID = kept.Maximum()
	}
	meta, err := b.Finish(stats)
	if err != nil {
		return fail(err)
	}
	res := MergeResult{
		Meta:        meta,
		DroppedDocs: droppedDocs,
		Terms:       int(meta.TermCount),
		Duration:    time.Since(start),
	}
	logger.Debug("segments merged",
		"inputs", len(readers),
		"terms", res.Terms,
		"docs", meta.DocCount,
		"dropped_docs", droppedDocs,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
