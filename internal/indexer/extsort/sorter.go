package extsort

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const (
	// DefaultMaxTempFiles bounds the number of runs the second pass creates.
	DefaultMaxTempFiles = 1024
	// DefaultMinRunPairs keeps tiny corpora from producing one run per pair.
	DefaultMinRunPairs = 4096

	minIOBuffer = 4096
	maxIOBuffer = 1 << 20
)

// Config sizes the sort.
type Config struct {
	Dir          string
	MaxTempFiles int
	MinRunPairs  int
}

// Sorter produces a single sorted run from a Source.
type Sorter struct {
	cfg    Config
	logger *slog.Logger
}

func NewSorter(cfg Config) *Sorter {
	if cfg.MaxTempFiles < 1 {
		cfg.MaxTempFiles = DefaultMaxTempFiles
	}
	if cfg.MinRunPairs < 1 {
		cfg.MinRunPairs = DefaultMinRunPairs
	}
	return &Sorter{
		cfg:    cfg,
		logger: slog.Default().With("component", "extsort"),
	}
}

// Result is the sorted output of Sort. Cleanup removes it.
type Result struct {
	Path      string
	Pairs     int64
	Passes    int
	dir       string
	blockSize int
}

// Open streams the sorted pairs.
func (r *Result) Open() (*PairReader, error) {
	return OpenRun(r.Path, r.blockSize)
}

// Cleanup removes the sort's working directory.
func (r *Result) Cleanup() error {
	return os.RemoveAll(r.dir)
}

// BlockPairs returns the number of pairs per run for a corpus of total
// pairs: total divided by the temp file budget, rounded up to a whole pair.
func BlockPairs(total int64, maxTempFiles, minRunPairs int) int {
	bytes := (total*PairSize + int64(maxTempFiles) - 1) / int64(maxTempFiles)
	if rem := bytes % PairSize; rem != 0 {
		bytes += PairSize - rem
	}
	pairs := int(bytes / PairSize)
	if pairs < minRunPairs {
		pairs = minRunPairs
	}
	return pairs
}

// GroupSize returns how many runs are merged together when remaining runs
// are left: ceil(sqrt(remaining)), at least two.
func GroupSize(remaining int) int {
	g := int(math.Ceil(math.Sqrt(float64(remaining))))
	if g < 2 {
		g = 2
	}
	return g
}

// Sort runs the second and third passes: it writes sorted runs of the
// (term id, doc id) pairs of src and merges them until one remains.
func (s *Sorter) Sort(lex *Lexicon, src Source) (*Result, error) {
	start := time.Now()
	dir := filepath.Join(s.cfg.Dir, fmt.Sprintf("sort-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating sort directory: %w", err)
	}
	blockPairs := BlockPairs(lex.PairCount, s.cfg.MaxTempFiles, s.cfg.MinRunPairs)
	ioBuf := clampBuffer(blockPairs * PairSize)
	res := &Result{dir: dir, blockSize: ioBuf}

	runs, err := s.writeRuns(lex, src, dir, blockPairs, ioBuf)
	if err != nil {
		res.Cleanup()
		return nil, err
	}
	s.logger.Debug("runs written",
		"runs", len(runs),
		"block_pairs", blockPairs,
		"pairs", lex.PairCount,
	)

	for len(runs) > 1 {
		res.Passes++
		runs, err = s.mergePass(dir, runs, res.Passes, ioBuf)
		if err != nil {
			res.Cleanup()
			return nil, err
		}
	}
	res.Path = runs[0]
	res.Pairs = lex.PairCount
	s.logger.Info("external sort complete",
		"pairs", lex.PairCount,
		"merge_passes", res.Passes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func clampBuffer(n int) int {
	if n < minIOBuffer {
		return minIOBuffer
	}
	if n > maxIOBuffer {
		return maxIOBuffer
	}
	return n
}

func (s *Sorter) writeRuns(lex *Lexicon, src Source, dir string, blockPairs, ioBuf int) ([]string, error) {
	passDir := filepath.Join(dir, "pass-0")
	if err := os.MkdirAll(passDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	var runs []string
	buf := make([]Pair, 0, blockPairs)

	flush := func() error {
		sort.Slice(buf, func(i, j int) bool { return buf[i].Less(buf[j]) })
		path := filepath.Join(passDir, fmt.Sprintf("run-%06d.bin", len(runs)))
		w, err := createRun(path, ioBuf)
		if err != nil {
			return err
		}
		for _, p := range buf {
			if err := w.write(p); err != nil {
				w.close()
				return err
			}
		}
		if err := w.close(); err != nil {
			return err
		}
		runs = append(runs, path)
		buf = buf[:0]
		return nil
	}

	err := src(func(doc Document) error {
		for _, tok := range doc.Tokens {
			id, ok := lex.ID(tok)
			if !ok {
				return apperrors.Newf(apperrors.ErrInvalidInput, "extsort.writeRuns", "term %q missing from lexicon; source changed between passes", tok)
			}
			buf = append(buf, Pair{TermID: id, DocID: doc.DocID})
			if len(buf) == blockPairs {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("run pass: %w", err)
	}
	if len(buf) > 0 || len(runs) == 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// mergePass merges runs in groups of GroupSize(len(runs)) into a fresh pass
// directory and removes the inputs and their directory.
func (s *Sorter) mergePass(dir string, runs []string, pass int, ioBuf int) ([]string, error) {
	passDir := filepath.Join(dir, fmt.Sprintf("pass-%d", pass))
	if err := os.MkdirAll(passDir, 0755); err != nil {
		return nil, fmt.Errorf("creating merge directory: %w", err)
	}
	group := GroupSize(len(runs))
	readBuf := clampBuffer(ioBuf / group)
	var out []string
	for i := 0; i < len(runs); i += group {
		end := i + group
		if end > len(runs) {
			end = len(runs)
		}
		path := filepath.Join(passDir, fmt.Sprintf("run-%06d.bin", len(out)))
		if err := mergeRuns(runs[i:end], path, readBuf, ioBuf); err != nil {
			return nil, fmt.Errorf("merge pass %d: %w", pass, err)
		}
		out = append(out, path)
	}
	s.logger.Debug("merge pass complete",
		"pass", pass,
		"inputs", len(runs),
		"group_size", group,
		"outputs", len(out),
	)
	inputDir := filepath.Dir(runs[0])
	if err := os.RemoveAll(inputDir); err != nil {
		return nil, fmt.Errorf("removing merged runs: %w", err)
	}
	return out, nil
}

func mergeRuns(inputs []string, output string, readBuf, writeBuf int) error {
	readers := make([]*PairReader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	h := &pairHeap{}
	for i, path := range inputs {
		r, err := OpenRun(path, readBuf)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		p, ok, err := r.Next()
		if err != nil {
			return err
		}
		if ok {
			heap.Push(h, heapItem{pair: p, src: i})
		}
	}

	w, err := createRun(output, writeBuf)
	if err != nil {
		return err
	}
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		if err := w.write(item.pair); err != nil {
			w.close()
			return err
		}
		p, ok, err := readers[item.src].Next()
		if err != nil {
			w.close()
			return err
		}
		if ok {
			heap.Push(h, heapItem{pair: p, src: item.src})
		}
	}
	return w.close()
}

type heapItem struct {
	pair Pair
	src  int
}

type pairHeap []heapItem

func (h pairHeap) Len() int { return len(h) }

func (h pairHeap) Less(i, j int) bool {
	if h[i].pair != h[j].pair {
		return h[i].pair.Less(h[j].pair)
	}
	return h[i].src < h[j].src
}

func (h pairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pairHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *pairHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
