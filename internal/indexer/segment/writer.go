package segment

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/extsort"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/frontcode"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const maxPostingOffset = uint64(^uint32(0))

// Builder assembles one segment directory. Terms must be added in strictly
// increasing order; each term's posting run goes to the posting file first so
// its offset and length are known when the dictionary entry is recorded.
type Builder struct {
	dir      string
	capacity int

	postingsFile *os.File
	postings     *bufio.Writer
	offset       uint64

	dictFile   *os.File
	suffixFile *os.File
	dict       *frontcode.Writer

	finished bool
}

// NewBuilder creates dir, which must not already exist, and prepares its
// files.
func NewBuilder(dir string, capacity int) (*Builder, error) {
	if capacity < 1 {
		capacity = frontcode.DefaultCapacity
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}
	b := &Builder{dir: dir, capacity: capacity}
	var err error
	if b.postingsFile, err = os.Create(filepath.Join(dir, PostingsFile)); err != nil {
		b.Abort()
		return nil, fmt.Errorf("creating posting file: %w", err)
	}
	if b.dictFile, err = os.Create(filepath.Join(dir, DictionaryFile)); err != nil {
		b.Abort()
		return nil, fmt.Errorf("creating dictionary file: %w", err)
	}
	if b.suffixFile, err = os.Create(filepath.Join(dir, SuffixFile)); err != nil {
		b.Abort()
		return nil, fmt.Errorf("creating suffix file: %w", err)
	}
	b.postings = bufio.NewWriterSize(b.postingsFile, 64*1024)
	b.dict = frontcode.NewWriter(b.dictFile, b.suffixFile, capacity)
	return b, nil
}

// Add writes the posting run of term. Empty runs are skipped.
func (b *Builder) Add(term string, run index.Run) error {
	if run.Len() == 0 {
		return nil
	}
	if b.offset > maxPostingOffset {
		return apperrors.Newf(apperrors.ErrOutOfRange, "segment.Add", "posting file offset %d exceeds 4 bytes", b.offset)
	}
	n, err := run.WriteTo(b.postings)
	if err != nil {
		return fmt.Errorf("writing postings for %q: %w", term, err)
	}
	if uint64(n) > maxPostingOffset {
		return apperrors.Newf(apperrors.ErrOutOfRange, "segment.Add", "posting run of %d bytes for %q", n, term)
	}
	entry := frontcode.Entry{
		Term:          term,
		PostingOffset: uint32(b.offset),
		PostingLength: uint32(n),
	}
	b.offset += uint64(n)
	return b.dict.Add(entry)
}

// Terms returns the number of terms added so far.
func (b *Builder) Terms() int {
	return b.dict.Terms()
}

// Finish flushes the final partial block, writes the metadata record and
// syncs every file. The builder cannot be used afterwards.
func (b *Builder) Finish(stats Stats) (Meta, error) {
	if err := b.dict.Close(); err != nil {
		return Meta{}, err
	}
	if err := b.postings.Flush(); err != nil {
		return Meta{}, fmt.Errorf("flushing posting file: %w", err)
	}
	for _, f := range []*os.File{b.postingsFile, b.dictFile, b.suffixFile} {
		if err := f.Sync(); err != nil {
			return Meta{}, fmt.Errorf("syncing %s: %w", f.Name(), err)
		}
		if err := f.Close(); err != nil {
			return Meta{}, fmt.Errorf("closing %s: %w", f.Name(), err)
		}
	}
	b.finished = true
	meta := Meta{
		DocCount:      stats.DocCount,
		TokenCount:    stats.TokenCount,
		BlockCapacity: uint32(b.capacity),
		TermCount:     uint32(b.dict.Terms()),
		MinDocID:      stats.MinDocID,
		MaxDocID:      stats.MaxDocID,
	}
	if err := writeMeta(b.dir, meta); err != nil {
		return Meta{}, err
	}
	return meta, syncDir(b.dir)
}

// Abort closes any open files and removes the segment directory.
func (b *Builder) Abort() error {
	if !b.finished {
		for _, f := range []*os.File{b.postingsFile, b.dictFile, b.suffixFile} {
			if f != nil {
				f.Close()
			}
		}
	}
	b.finished = true
	return os.RemoveAll(b.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", dir, err)
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return d.Close()
}

// WriteMemory writes the contents of a MemoryIndex as a new segment in dir.
// The index's posting lists are drained in the process.
func WriteMemory(dir string, capacity int, m *index.MemoryIndex) (Meta, error) {
	b, err := NewBuilder(dir, capacity)
	if err != nil {
		return Meta{}, err
	}
	for _, term := range m.Terms() {
		if err := b.Add(term, m.List(term)); err != nil {
			b.Abort()
			return Meta{}, err
		}
	}
	lo, hi := m.DocRange()
	meta, err := b.Finish(Stats{
		DocCount:   uint32(m.DocCount()),
		TokenCount: uint64(m.TokenCount()),
		MinDocID:   lo,
		MaxDocID:   hi,
	})
	if err != nil {
		b.Abort()
		return Meta{}, err
	}
	return meta, nil
}

// SortedInput is the externally sorted pair stream of a bulk build.
type SortedInput struct {
	Lexicon  *extsort.Lexicon
	Pairs    *extsort.PairReader
	SpillDir string
	SpillCap int
	Stats    Stats
}

// WriteSorted consumes a (term id, doc id) stream sorted by term then doc and
// writes it as a new segment in dir. Consecutive equal pairs accumulate into
// one posting's frequency.
func WriteSorted(dir string, capacity int, in SortedInput) (Meta, error) {
	b, err := NewBuilder(dir, capacity)
	if err != nil {
		return Meta{}, err
	}
	fail := func(err error) (Meta, error) {
		b.Abort()
		return Meta{}, err
	}

	list := index.NewSpillingList(in.SpillDir, in.SpillCap)
	defer list.Release()
	current := int64(-1)
	emit := func() error {
		if current < 0 {
			return nil
		}
		term, ok := in.Lexicon.Term(uint32(current))
		if !ok {
			return apperrors.Corruptf("segment.WriteSorted", "term id %d not in lexicon", current)
		}
		return b.Add(term, list)
	}
	for {
		p, ok, err := in.Pairs.Next()
		if err != nil {
			return fail(err)
		}
		if !ok {
			break
		}
		if int64(p.TermID) != current {
			if err := emit(); err != nil {
				return fail(err)
			}
			current = int64(p.TermID)
		}
		if err := list.Add(p.DocID, 1); err != nil {
			return fail(err)
		}
	}
	if err := emit(); err != nil {
		return fail(err)
	}
	meta, err := b.Finish(in.Stats)
	if err != nil {
		return fail(err)
	}
	return meta, nil
}
