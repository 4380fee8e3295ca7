// Package varint implements the length-precoded variable-byte integer
// encoding used by posting runs and the invalidation file. The top two bits
// of the first byte hold the number of bytes that follow it, so a value takes
// between one and four bytes and the largest encodable value is 2^30-1.
package varint

import (
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const (
	// MaxValue is the largest integer the codec can represent.
	MaxValue uint32 = 1<<30 - 1
	// MaxLen is the longest encoding in bytes.
	MaxLen = 4

	selectorShift = 6
	payloadMask   = 0x3f
)

// limits[i] is the largest value that fits in i+1 bytes.
var limits = [MaxLen]uint32{
	1<<6 - 1,
	1<<14 - 1,
	1<<22 - 1,
	1<<30 - 1,
}

// Size returns the number of bytes needed to encode v, or 0 if v is out of
// range.
func Size(v uint32) int {
	for i, limit := range limits {
		if v <= limit {
			return i + 1
		}
	}
	return 0
}

// Append encodes v and appends it to dst.
func Append(dst []byte, v uint32) ([]byte, error) {
	n := Size(v)
	if n == 0 {
		return dst, apperrors.Newf(apperrors.ErrOutOfRange, "varint.Append", "%d exceeds %d", v, MaxValue)
	}
	for i := n - 1; i >= 0; i-- {
		b := byte(v >> (8 * uint(i)))
		if i == n-1 {
			b |= byte(n-1) << selectorShift
		}
		dst = append(dst, b)
	}
	return dst, nil
}

// Put encodes v into buf, which must hold at least MaxLen bytes, and returns
// the number of bytes written.
func Put(buf []byte, v uint32) (int, error) {
	out, err := Append(buf[:0], v)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

// Decode reads one value from the front of src and returns it together with
// the number of bytes consumed.
func Decode(src []byte) (uint32, int, error) {
	if len(src) == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	n := int(src[0]>>selectorShift) + 1
	if len(src) < n {
		return 0, 0, io.ErrUnexpectedEOF
	}
	v := uint32(src[0] & payloadMask)
	for i := 1; i < n; i++ {
		v = v<<8 | uint32(src[i])
	}
	return v, n, nil
}

// Read decodes one value from r. It returns io.EOF only when r is exhausted
// before the first byte; a value cut short yields io.ErrUnexpectedEOF.
func Read(r io.ByteReader) (uint32, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	n := int(first>>selectorShift) + 1
	v := uint32(first & payloadMask)
	for i := 1; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// DecodeAll decodes every value in src.
func DecodeAll(src []byte) ([]uint32, error) {
	out := make([]uint32, 0, len(src)/2)
	for len(src) > 0 {
		v, n, err := Decode(src)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		src = src[n:]
	}
	return out, nil
}

// Writer encodes values onto an underlying writer.
type Writer struct {
	w       io.Writer
	buf     [MaxLen]byte
	written int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Write(v uint32) error {
	n, err := Put(w.buf[:], v)
	if err != nil {
		return err
	}
	m, err := w.w.Write(w.buf[:n])
	w.written += int64(m)
	return err
}

// Written reports the total number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}
