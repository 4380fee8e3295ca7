package reviews

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const (
	StoreFile     = "reviews.bin"
	rewritePrefix = ".reviews-"
	RecordSize    = 27
	ProductIDLen  = 10
)

// Record is the stored metadata of one review.
type Record struct {
	DocID                  uint32
	ProductID              string
	Score                  uint8
	HelpfulnessNumerator   uint32
	HelpfulnessDenominator uint32
	Length                 uint32
}

func (r Record) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], r.DocID)
	pid := buf[4 : 4+ProductIDLen]
	for i := range pid {
		pid[i] = ' '
	}
	copy(pid, r.ProductID)
	buf[14] = r.Score
	binary.LittleEndian.PutUint32(buf[15:19], r.HelpfulnessNumerator)
	binary.LittleEndian.PutUint32(buf[19:23], r.HelpfulnessDenominator)
	binary.LittleEndian.PutUint32(buf[23:27], r.Length)
}

func decodeRecord(buf []byte) Record {
	return Record{
		DocID:                  binary.LittleEndian.Uint32(buf[0:4]),
		ProductID:              strings.TrimRight(string(buf[4:4+ProductIDLen]), " "),
		Score:                  buf[14],
		HelpfulnessNumerator:   binary.LittleEndian.Uint32(buf[15:19]),
		HelpfulnessDenominator: binary.LittleEndian.Uint32(buf[19:23]),
		Length:                 binary.LittleEndian.Uint32(buf[23:27]),
	}
}

// Store is the fixed-width review metadata file, sorted by DocID.
type Store struct {
	path   string
	f      *os.File
	count  int64
	last   uint32
	tokens uint64
}

// OpenStore opens or creates the store in dir. Records with a DocID at or
// above nextDocID belong to an uncommitted write and are cut off, and copies
// left by an interrupted rewrite are removed.
func OpenStore(dir string, nextDocID uint32) (*Store, error) {
	path := filepath.Join(dir, StoreFile)
	stale, err := filepath.Glob(filepath.Join(dir, rewritePrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("listing review store copies: %w", err)
	}
	for _, name := range stale {
		if err := os.Remove(name); err != nil {
			return nil, fmt.Errorf("removing review store copy: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening review store: %w", err)
	}
	s := &Store{path: path, f: f}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat review store: %w", err)
	}
	s.count = info.Size() / RecordSize
	if info.Size()%RecordSize != 0 {
		if err := f.Truncate(s.count * RecordSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncating partial review record: %w", err)
		}
	}
	if err := s.Truncate(nextDocID); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Truncate drops every record whose DocID is nextDocID or above.
func (s *Store) Truncate(nextDocID uint32) error {
	keep, err := s.search(nextDocID)
	if err != nil {
		return err
	}
	if keep != s.count {
		if err := s.f.Truncate(keep * RecordSize); err != nil {
			return fmt.Errorf("truncating review store: %w", err)
		}
		s.count = keep
	}
	s.last = 0
	if s.count > 0 {
		r, err := s.At(s.count - 1)
		if err != nil {
			return err
		}
		s.last = r.DocID
	}
	var tokens uint64
	err = s.Scan(func(r Record) error {
		tokens += uint64(r.Length)
		return nil
	})
	s.tokens = tokens
	return err
}

// search returns the position of the first record whose DocID is docID or
// above.
func (s *Store) search(docID uint32) (int64, error) {
	var searchErr error
	i := sort.Search(int(s.count), func(i int) bool {
		r, err := s.At(int64(i))
		if err != nil {
			searchErr = err
			return true
		}
		return r.DocID >= docID
	})
	return int64(i), searchErr
}

// Tokens returns the sum of the lengths of all stored records.
func (s *Store) Tokens() uint64 {
	return s.tokens
}

// CountRange returns the number of records with a DocID in [lo, hi].
func (s *Store) CountRange(lo, hi uint32) (int64, error) {
	if lo > hi {
		return 0, nil
	}
	from, err := s.search(lo)
	if err != nil {
		return 0, err
	}
	to := s.count
	if hi < ^uint32(0) {
		if to, err = s.search(hi + 1); err != nil {
			return 0, err
		}
	}
	return to - from, nil
}

// Len returns the number of stored records, deleted ones included.
func (s *Store) Len() int64 {
	return s.count
}

// At returns the i-th record.
func (s *Store) At(i int64) (Record, error) {
	var buf [RecordSize]byte
	if _, err := s.f.ReadAt(buf[:], i*RecordSize); err != nil {
		return Record{}, apperrors.Corruptf(s.path, "reading record %d: %v", i, err)
	}
	return decodeRecord(buf[:]), nil
}

// Lookup finds the record of docID.
func (s *Store) Lookup(docID uint32) (Record, bool, error) {
	i, err := s.search(docID)
	if err != nil {
		return Record{}, false, err
	}
	if i == s.count {
		return Record{}, false, nil
	}
	r, err := s.At(i)
	if err != nil {
		return Record{}, false, err
	}
	return r, r.DocID == docID, nil
}

// Append adds records, which must continue the DocID order, and syncs them.
func (s *Store) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	buf := make([]byte, len(records)*RecordSize)
	last := s.last
	var tokens uint64
	for i, r := range records {
		if (s.count > 0 || i > 0) && r.DocID <= last {
			return apperrors.Newf(apperrors.ErrOutOfOrder, "reviews.Append", "doc %d after %d", r.DocID, last)
		}
		if len(r.ProductID) > ProductIDLen {
			return apperrors.Newf(apperrors.ErrInvalidInput, "reviews.Append", "product id %q longer than %d bytes", r.ProductID, ProductIDLen)
		}
		r.encode(buf[i*RecordSize:])
		last = r.DocID
		tokens += uint64(r.Length)
	}
	if _, err := s.f.WriteAt(buf, s.count*RecordSize); err != nil {
		return fmt.Errorf("writing review store: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing review store: %w", err)
	}
	s.count += int64(len(records))
	s.last = last
	s.tokens += tokens
	return nil
}

// Scan calls fn for every record in DocID order.
func (s *Store) Scan(fn func(Record) error) error {
	br := bufio.NewReaderSize(io.NewSectionReader(s.f, 0, s.count*RecordSize), 64*1024)
	var buf [RecordSize]byte
	for i := int64(0); i < s.count; i++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return apperrors.Corruptf(s.path, "reading record %d: %v", i, err)
		}
		if err := fn(decodeRecord(buf[:])); err != nil {
			return err
		}
	}
	return nil
}

// ProductReviews returns the ids of the reviews of productID that drop does
// not reject, in ascending order.
func (s *Store) ProductReviews(productID string, drop func(uint32) bool) ([]uint32, error) {
	var ids []uint32
	err := s.Scan(func(r Record) error {
		if r.ProductID == productID && (drop == nil || !drop(r.DocID)) {
			ids = append(ids, r.DocID)
		}
		return nil
	})
	return ids, err
}

// Rewrite is a compacted copy of the store that has not replaced it yet.
type Rewrite struct {
	s       *Store
	tmp     *os.File
	tmpPath string
	kept    int64
	last    uint32
	tokens  uint64
}

// StageRewrite writes a copy of the store that leaves out dropped ids. The
// store is unchanged until Install.
func (s *Store) StageRewrite(drop func(uint32) bool) (*Rewrite, error) {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), rewritePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating review store copy: %w", err)
	}
	rw := &Rewrite{s: s, tmp: tmp, tmpPath: tmp.Name()}
	fail := func(err error) (*Rewrite, error) {
		rw.Discard()
		return nil, err
	}

	bw := bufio.NewWriterSize(tmp, 64*1024)
	var buf [RecordSize]byte
	err = s.Scan(func(r Record) error {
		if drop(r.DocID) {
			return nil
		}
		r.encode(buf[:])
		rw.kept++
		rw.last = r.DocID
		rw.tokens += uint64(r.Length)
		_, err := bw.Write(buf[:])
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("copying review store: %w", err))
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flushing review store copy: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing review store copy: %w", err))
	}
	return rw, nil
}

// Len returns the number of records in the copy.
func (rw *Rewrite) Len() int64 {
	return rw.kept
}

// Tokens returns the sum of the lengths of the records in the copy.
func (rw *Rewrite) Tokens() uint64 {
	return rw.tokens
}

// Install replaces the store with the copy and returns the number of records
// removed.
func (rw *Rewrite) Install() (int64, error) {
	s := rw.s
	if err := os.Rename(rw.tmpPath, s.path); err != nil {
		rw.Discard()
		return 0, fmt.Errorf("replacing review store: %w", err)
	}
	removed := s.count - rw.kept
	old := s.f
	s.f, s.count, s.last, s.tokens = rw.tmp, rw.kept, rw.last, rw.tokens
	rw.tmp = nil
	if err := old.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return removed, fmt.Errorf("closing old review store: %w", err)
	}
	if err := manifest.FsyncDir(filepath.Dir(s.path)); err != nil {
		return removed, err
	}
	return removed, nil
}

// Discard removes an uninstalled copy.
func (rw *Rewrite) Discard() {
	if rw.tmp == nil {
		return
	}
	rw.tmp.Close()
	os.Remove(rw.tmpPath)
	rw.tmp = nil
}

func (s *Store) Close() error {
	return s.f.Close()
}
