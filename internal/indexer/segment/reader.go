package segment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/frontcode"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// Reader serves lookups against one segment. The dictionary and suffix blob
// are held in memory; posting runs are read from disk on demand.
type Reader struct {
	dir          string
	meta         Meta
	dict         *frontcode.Dictionary
	postings     *os.File
	postingsSize int64
}

// Open loads the segment stored in dir.
func Open(dir string) (*Reader, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	dictBytes, err := os.ReadFile(filepath.Join(dir, DictionaryFile))
	if err != nil {
		return nil, apperrors.Corruptf(dir, "reading dictionary: %v", err)
	}
	suffixBytes, err := os.ReadFile(filepath.Join(dir, SuffixFile))
	if err != nil {
		return nil, apperrors.Corruptf(dir, "reading suffix blob: %v", err)
	}
	dict, err := frontcode.NewDictionary(dictBytes, suffixBytes, int(meta.BlockCapacity))
	if err != nil {
		return nil, fmt.Errorf("loading dictionary of %s: %w", dir, err)
	}
	f, err := os.Open(filepath.Join(dir, PostingsFile))
	if err != nil {
		return nil, apperrors.Corruptf(dir, "opening posting file: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat posting file: %w", err)
	}
	return &Reader{
		dir:          dir,
		meta:         meta,
		dict:         dict,
		postings:     f,
		postingsSize: info.Size(),
	}, nil
}

// Lookup finds the dictionary entry of term.
func (r *Reader) Lookup(term string) (frontcode.Entry, bool, error) {
	return r.dict.Search(term)
}

// Postings returns the posting list of term, or nil if the segment does not
// contain it.
func (r *Reader) Postings(term string) (index.PostingList, error) {
	entry, ok, err := r.Lookup(term)
	if err != nil || !ok {
		return nil, err
	}
	return r.ReadRun(entry)
}

// ReadRun reads and decodes the posting run an entry points at.
func (r *Reader) ReadRun(e frontcode.Entry) (index.PostingList, error) {
	end := int64(e.PostingOffset) + int64(e.PostingLength)
	if end > r.postingsSize {
		return nil, apperrors.Corruptf(r.dir, "run of %q ends at %d past posting file size %d", e.Term, end, r.postingsSize)
	}
	buf := make([]byte, e.PostingLength)
	if _, err := r.postings.ReadAt(buf, int64(e.PostingOffset)); err != nil {
		return nil, apperrors.Corruptf(r.dir, "reading run of %q: %v", e.Term, err)
	}
	pl, err := index.DecodePostings(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding postings of %q in %s: %w", e.Term, r.dir, err)
	}
	return pl, nil
}

// Cursor returns a fresh term-order cursor over this segment.
func (r *Reader) Cursor() *Cursor {
	return &Cursor{r: r}
}

func (r *Reader) Meta() Meta {
	return r.meta
}

func (r *Reader) Dir() string {
	return r.dir
}

func (r *Reader) Terms() int {
	return int(r.meta.TermCount)
}

func (r *Reader) DocCount() uint32 {
	return r.meta.DocCount
}

func (r *Reader) Close() error {
	return r.postings.Close()
}

// Cursor walks a segment's dictionary in term order, decoding one block at a
// time and reading posting runs only when asked.
type Cursor struct {
	r       *Reader
	block   int
	entries []frontcode.Entry
	pos     int
	err     error
}

// Next advances to the following term. It returns false at the end of the
// dictionary or on error; check Err.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos++
	for c.pos >= len(c.entries) {
		if c.block >= c.r.dict.NumBlocks() {
			c.entries = nil
			return false
		}
		entries, err := c.r.dict.Block(c.block)
		if err != nil {
			c.err = err
			return false
		}
		c.block++
		c.entries = entries
		c.pos = 0
	}
	return true
}

// Entry returns the current dictionary entry.
func (c *Cursor) Entry() frontcode.Entry {
	return c.entries[c.pos]
}

// Term returns the current term.
func (c *Cursor) Term() string {
	return c.entries[c.pos].Term
}

// Postings reads the posting list of the current term.
func (c *Cursor) Postings() (index.PostingList, error) {
	return c.r.ReadRun(c.Entry())
}

func (c *Cursor) Err() error {
	return c.err
}
