// Package frontcode stores a sorted term dictionary as fixed-size blocks of
// front-coded entries. Each block begins with a 4-byte offset into the
// suffix blob followed by capacity entries of
//
//	[1 byte term length][1 byte shared prefix][4 byte posting offset][4 byte posting length]
//
// The first term of a block is stored whole in the suffix blob; every other
// term stores only the bytes past its shared prefix with that first term.
// The final block is zero padded, and a zero term length marks padding.
package frontcode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const (
	// DefaultCapacity is the number of terms per block.
	DefaultCapacity = 8
	// MaxTermLength is bounded by the one-byte length field.
	MaxTermLength = 255

	blockHeaderSize = 4
	entrySize       = 10
)

// Entry is one dictionary record: a term and the byte span of its posting
// run in the segment's posting file.
type Entry struct {
	Term          string
	PostingOffset uint32
	PostingLength uint32
}

// BlockSize returns the encoded size of one block.
func BlockSize(capacity int) int {
	return blockHeaderSize + capacity*entrySize
}

// Writer appends entries, in strictly increasing term order, to a dictionary
// stream and a suffix stream.
type Writer struct {
	dict     *bufio.Writer
	suffix   *bufio.Writer
	capacity int

	pending      []Entry
	suffixOffset uint64
	last         string
	terms        int
	blocks       int
	scratch      []byte
}

// NewWriter returns a Writer producing blocks of the given capacity.
func NewWriter(dict io.Writer, suffix io.Writer, capacity int) *Writer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Writer{
		dict:     bufio.NewWriter(dict),
		suffix:   bufio.NewWriter(suffix),
		capacity: capacity,
		pending:  make([]Entry, 0, capacity),
		scratch:  make([]byte, BlockSize(capacity)),
	}
}

// Add buffers e and writes out the block once it is full.
func (w *Writer) Add(e Entry) error {
	if len(e.Term) == 0 || len(e.Term) > MaxTermLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, "frontcode.Add", "term length %d not in [1,%d]", len(e.Term), MaxTermLength)
	}
	if w.terms > 0 && e.Term <= w.last {
		return apperrors.Newf(apperrors.ErrOutOfOrder, "frontcode.Add", "term %q after %q", e.Term, w.last)
	}
	w.pending = append(w.pending, e)
	w.last = e.Term
	w.terms++
	if len(w.pending) == w.capacity {
		return w.flushBlock()
	}
	return nil
}

// Close writes the final partial block and flushes both streams. It does not
// close the underlying writers.
func (w *Writer) Close() error {
	if len(w.pending) > 0 {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	if err := w.dict.Flush(); err != nil {
		return fmt.Errorf("flushing dictionary: %w", err)
	}
	if err := w.suffix.Flush(); err != nil {
		return fmt.Errorf("flushing suffixes: %w", err)
	}
	return nil
}

// Terms returns the number of entries added.
func (w *Writer) Terms() int {
	return w.terms
}

// Blocks returns the number of blocks written so far.
func (w *Writer) Blocks() int {
	return w.blocks
}

func (w *Writer) flushBlock() error {
	if w.suffixOffset > uint64(^uint32(0)) {
		return apperrors.Newf(apperrors.ErrOutOfRange, "frontcode.flushBlock", "suffix blob offset %d overflows", w.suffixOffset)
	}
	block := w.scratch
	for i := range block {
		block[i] = 0
	}
	binary.LittleEndian.PutUint32(block[0:4], uint32(w.suffixOffset))

	first := w.pending[0].Term
	for i, e := range w.pending {
		prefix := 0
		if i > 0 {
			prefix = sharedPrefix(first, e.Term)
		}
		pos := blockHeaderSize + i*entrySize
		block[pos] = byte(len(e.Term))
		block[pos+1] = byte(prefix)
		binary.LittleEndian.PutUint32(block[pos+2:pos+6], e.PostingOffset)
		binary.LittleEndian.PutUint32(block[pos+6:pos+10], e.PostingLength)

		n, err := w.suffix.WriteString(e.Term[prefix:])
		if err != nil {
			return fmt.Errorf("writing suffix for %q: %w", e.Term, err)
		}
		w.suffixOffset += uint64(n)
	}
	if _, err := w.dict.Write(block); err != nil {
		return fmt.Errorf("writing dictionary block %d: %w", w.blocks, err)
	}
	w.blocks++
	w.pending = w.pending[:0]
	return nil
}

func sharedPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// DecodeBlock reconstructs the entries of one encoded block. Padding entries
// are not returned.
func DecodeBlock(block []byte, suffixes []byte, capacity int) ([]Entry, error) {
	if len(block) != BlockSize(capacity) {
		return nil, apperrors.Corruptf("frontcode.DecodeBlock", "block size %d, want %d", len(block), BlockSize(capacity))
	}
	pos := int(binary.LittleEndian.Uint32(block[0:4]))
	entries := make([]Entry, 0, capacity)
	var first string
	for i := 0; i < capacity; i++ {
		off := blockHeaderSize + i*entrySize
		length := int(block[off])
		if length == 0 {
			break
		}
		prefix := int(block[off+1])
		if (i == 0 && prefix != 0) || prefix > len(first) || prefix > length {
			return nil, apperrors.Corruptf("frontcode.DecodeBlock", "entry %d prefix %d invalid", i, prefix)
		}
		end := pos + length - prefix
		if pos > len(suffixes) || end > len(suffixes) {
			return nil, apperrors.Corruptf("frontcode.DecodeBlock", "suffix span [%d,%d) beyond blob of %d bytes", pos, end, len(suffixes))
		}
		var term string
		if i == 0 {
			term = string(suffixes[pos:end])
			first = term
		} else {
			term = first[:prefix] + string(suffixes[pos:end])
		}
		pos = end
		entries = append(entries, Entry{
			Term:          term,
			PostingOffset: binary.LittleEndian.Uint32(block[off+2 : off+6]),
			PostingLength: binary.LittleEndian.Uint32(block[off+6 : off+10]),
		})
	}
	return entries, nil
}
