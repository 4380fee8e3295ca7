package index

import (
	"bufio"
	"bytes"
	"io"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// Posting is one (document, frequency) pair of a term's posting list.
type Posting struct {
	DocID     uint32
	Frequency uint32
}

// PostingList is a posting list in strictly increasing DocID order.
type PostingList []Posting

// Run is anything that can encode itself as a posting run.
type Run interface {
	io.WriterTo
	Len() int
}

func (pl PostingList) Len() int {
	return len(pl)
}

// WriteTo encodes pl as a posting run: the DocID gaps followed by the
// frequencies, each value through the varint codec.
func (pl PostingList) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	vw := varint.NewWriter(bw)
	var prev uint32
	for i, p := range pl {
		if i > 0 && p.DocID <= prev {
			return vw.Written(), apperrors.Newf(apperrors.ErrOutOfOrder, "PostingList.WriteTo", "doc %d after %d", p.DocID, prev)
		}
		if err := vw.Write(p.DocID - prev); err != nil {
			return vw.Written(), err
		}
		prev = p.DocID
	}
	for _, p := range pl {
		if err := vw.Write(p.Frequency); err != nil {
			return vw.Written(), err
		}
	}
	return vw.Written(), bw.Flush()
}

// DocIDs returns the document ids of pl.
func (pl PostingList) DocIDs() []uint32 {
	ids := make([]uint32, len(pl))
	for i, p := range pl {
		ids[i] = p.DocID
	}
	return ids
}

// TotalFrequency returns the sum of all frequencies in pl.
func (pl PostingList) TotalFrequency() uint64 {
	var total uint64
	for _, p := range pl {
		total += uint64(p.Frequency)
	}
	return total
}

// Filter returns the postings whose DocID is not dropped. pl is not modified.
func (pl PostingList) Filter(drop func(docID uint32) bool) PostingList {
	out := make(PostingList, 0, len(pl))
	for _, p := range pl {
		if !drop(p.DocID) {
			out = append(out, p)
		}
	}
	return out
}

// DecodePostings decodes one posting run. A run holds 2n varints, the first
// n being gaps and the last n frequencies.
func DecodePostings(run []byte) (PostingList, error) {
	values, err := varint.DecodeAll(run)
	if err != nil {
		return nil, apperrors.Corruptf("DecodePostings", "decoding run of %d bytes: %v", len(run), err)
	}
	if len(values)%2 != 0 {
		return nil, apperrors.Corruptf("DecodePostings", "run holds %d values", len(values))
	}
	n := len(values) / 2
	pl := make(PostingList, n)
	var docID uint32
	for i := 0; i < n; i++ {
		if i > 0 && values[i] == 0 {
			return nil, apperrors.Corruptf("DecodePostings", "zero gap at position %d", i)
		}
		docID += values[i]
		pl[i] = Posting{DocID: docID, Frequency: values[n+i]}
	}
	return pl, nil
}

// EncodePostings is a convenience wrapper returning the encoded run.
func EncodePostings(pl PostingList) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pl.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
