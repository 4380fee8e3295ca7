package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// DefaultSpillCap is the number of in-memory postings a SpillingList holds
// before it moves them to its dump files.
const DefaultSpillCap = 1024

// SpillingList accumulates a posting list in memory and moves it to a pair
// of dump files whenever it reaches its cap. DocIDs must be added in
// non-decreasing order; repeated adds for the last DocID accumulate
// frequency.
type SpillingList struct {
	dir   string
	cap   int
	mem   PostingList
	dump  *dump
	total int
}

// NewSpillingList returns a list spilling into dir after limit entries.
func NewSpillingList(dir string, limit int) *SpillingList {
	if limit < 1 {
		limit = DefaultSpillCap
	}
	return &SpillingList{dir: dir, cap: limit}
}

// Add records freq occurrences of the term in docID.
func (l *SpillingList) Add(docID, freq uint32) error {
	if n := len(l.mem); n > 0 && l.mem[n-1].DocID == docID {
		l.mem[n-1].Frequency += freq
		return nil
	}
	if last, ok := l.lastDoc(); ok && docID <= last {
		return apperrors.Newf(apperrors.ErrOutOfOrder, "SpillingList.Add", "doc %d after %d", docID, last)
	}
	if len(l.mem) >= l.cap {
		if err := l.spill(); err != nil {
			return err
		}
	}
	l.mem = append(l.mem, Posting{DocID: docID, Frequency: freq})
	l.total++
	return nil
}

// Len returns the number of postings held in memory and on disk.
func (l *SpillingList) Len() int {
	return l.total
}

// Spilled reports whether any postings have been moved to disk.
func (l *SpillingList) Spilled() bool {
	return l.dump != nil
}

func (l *SpillingList) lastDoc() (uint32, bool) {
	if n := len(l.mem); n > 0 {
		return l.mem[n-1].DocID, true
	}
	if l.dump != nil {
		return l.dump.last, true
	}
	return 0, false
}

func (l *SpillingList) spill() error {
	if l.dump == nil {
		d, err := newDump(l.dir)
		if err != nil {
			return err
		}
		l.dump = d
	}
	if err := l.dump.append(l.mem); err != nil {
		return err
	}
	l.mem = l.mem[:0]
	return nil
}

// WriteTo drains the list as a posting run: dumped postings first, then the
// in-memory remainder. The dump files are removed and the list is empty
// afterwards, whether or not the write succeeded.
func (l *SpillingList) WriteTo(w io.Writer) (int64, error) {
	defer l.Release()

	bw := bufio.NewWriter(w)
	vw := varint.NewWriter(bw)
	var prev uint32
	writeGap := func(id uint32) error {
		gap := id - prev
		prev = id
		return vw.Write(gap)
	}
	writeFreq := func(freq uint32) error {
		return vw.Write(freq)
	}

	if l.dump != nil {
		if err := l.dump.stream(l.dump.idsPath, writeGap); err != nil {
			return vw.Written(), err
		}
	}
	for _, p := range l.mem {
		if err := writeGap(p.DocID); err != nil {
			return vw.Written(), err
		}
	}
	if l.dump != nil {
		if err := l.dump.stream(l.dump.freqsPath, writeFreq); err != nil {
			return vw.Written(), err
		}
	}
	for _, p := range l.mem {
		if err := writeFreq(p.Frequency); err != nil {
			return vw.Written(), err
		}
	}
	return vw.Written(), bw.Flush()
}

// Postings reads the whole list back into memory without draining it.
func (l *SpillingList) Postings() (PostingList, error) {
	out := make(PostingList, 0, l.total)
	if l.dump != nil {
		err := l.dump.stream(l.dump.idsPath, func(id uint32) error {
			out = append(out, Posting{DocID: id})
			return nil
		})
		if err != nil {
			return nil, err
		}
		i := 0
		err = l.dump.stream(l.dump.freqsPath, func(freq uint32) error {
			if i >= len(out) {
				return apperrors.Corruptf(l.dump.freqsPath, "more frequencies than ids")
			}
			out[i].Frequency = freq
			i++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return append(out, l.mem...), nil
}

// Release discards all postings and removes the dump files.
func (l *SpillingList) Release() error {
	l.mem = nil
	l.total = 0
	if l.dump == nil {
		return nil
	}
	err := l.dump.remove()
	l.dump = nil
	return err
}

// dump is the on-disk overflow of a SpillingList: two files of raw
// little-endian uint32 values, one holding DocIDs and one frequencies.
// Files are opened only for the duration of a single append or stream.
type dump struct {
	idsPath   string
	freqsPath string
	last      uint32
	count     int
}

func newDump(dir string) (*dump, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}
	d := &dump{}
	for _, target := range []*string{&d.idsPath, &d.freqsPath} {
		f, err := os.CreateTemp(dir, "spill-*.dump")
		if err != nil {
			d.remove()
			return nil, fmt.Errorf("creating dump file: %w", err)
		}
		*target = f.Name()
		if err := f.Close(); err != nil {
			d.remove()
			return nil, fmt.Errorf("closing dump file: %w", err)
		}
	}
	return d, nil
}

func (d *dump) append(pl PostingList) error {
	if len(pl) == 0 {
		return nil
	}
	if err := appendValues(d.idsPath, pl, func(p Posting) uint32 { return p.DocID }); err != nil {
		return err
	}
	if err := appendValues(d.freqsPath, pl, func(p Posting) uint32 { return p.Frequency }); err != nil {
		return err
	}
	d.last = pl[len(pl)-1].DocID
	d.count += len(pl)
	return nil
}

func appendValues(path string, pl PostingList, field func(Posting) uint32) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening dump file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing dump file: %w", cerr)
		}
	}()
	bw := bufio.NewWriter(f)
	var buf [4]byte
	for _, p := range pl {
		binary.LittleEndian.PutUint32(buf[:], field(p))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("writing dump file: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing dump file: %w", err)
	}
	return nil
}

func (d *dump) stream(path string, fn func(uint32) error) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Corruptf(path, "opening dump file: %v", err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	var buf [4]byte
	for read := 0; ; read++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) && read == d.count {
				return nil
			}
			return apperrors.Corruptf(path, "dump holds %d values, expected %d: %v", read, d.count, err)
		}
		if err := fn(binary.LittleEndian.Uint32(buf[:])); err != nil {
			return err
		}
	}
}

func (d *dump) remove() error {
	var errs []error
	for _, path := range []string{d.idsPath, d.freqsPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
