package extsort

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// PairSize is the encoded size of one Pair in a run file.
const PairSize = 8

// Pair is one occurrence of a term in a document.
type Pair struct {
	TermID uint32
	DocID  uint32
}

// Less orders pairs by term id, then doc id.
func (p Pair) Less(o Pair) bool {
	if p.TermID != o.TermID {
		return p.TermID < o.TermID
	}
	return p.DocID < o.DocID
}

// runWriter writes pairs to a run file.
type runWriter struct {
	f   *os.File
	bw  *bufio.Writer
	buf [PairSize]byte
	n   int64
}

func createRun(path string, bufSize int) (*runWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating run file: %w", err)
	}
	return &runWriter{f: f, bw: bufio.NewWriterSize(f, bufSize)}, nil
}

func (w *runWriter) write(p Pair) error {
	binary.LittleEndian.PutUint32(w.buf[0:4], p.TermID)
	binary.LittleEndian.PutUint32(w.buf[4:8], p.DocID)
	if _, err := w.bw.Write(w.buf[:]); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	w.n++
	return nil
}

func (w *runWriter) close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flushing run file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing run file: %w", err)
	}
	return nil
}

// PairReader streams the pairs of one run file.
type PairReader struct {
	f    *os.File
	br   *bufio.Reader
	buf  [PairSize]byte
	path string
}

// OpenRun opens the run file at path with a read buffer of bufSize bytes.
func OpenRun(path string, bufSize int) (*PairReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Corruptf(path, "opening run: %v", err)
	}
	return &PairReader{f: f, br: bufio.NewReaderSize(f, bufSize), path: path}, nil
}

// Next returns the next pair. ok is false once the run is exhausted.
func (r *PairReader) Next() (Pair, bool, error) {
	if _, err := io.ReadFull(r.br, r.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Pair{}, false, nil
		}
		return Pair{}, false, apperrors.Corruptf(r.path, "truncated pair: %v", err)
	}
	return Pair{
		TermID: binary.LittleEndian.Uint32(r.buf[0:4]),
		DocID:  binary.LittleEndian.Uint32(r.buf[4:8]),
	}, true, nil
}

func (r *PairReader) Close() error {
	return r.f.Close()
}
