package frontcode

import (
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// Dictionary is a fully loaded dictionary file and its suffix blob.
type Dictionary struct {
	blocks   []byte
	suffixes []byte
	capacity int
	count    int
}

// NewDictionary wraps encoded dictionary and suffix bytes.
func NewDictionary(blocks []byte, suffixes []byte, capacity int) (*Dictionary, error) {
	if capacity < 1 {
		return nil, apperrors.Corruptf("frontcode.NewDictionary", "block capacity %d", capacity)
	}
	size := BlockSize(capacity)
	if len(blocks)%size != 0 {
		return nil, apperrors.Corruptf("frontcode.NewDictionary", "dictionary of %d bytes is not a multiple of block size %d", len(blocks), size)
	}
	return &Dictionary{
		blocks:   blocks,
		suffixes: suffixes,
		capacity: capacity,
		count:    len(blocks) / size,
	}, nil
}

// NumBlocks returns the number of blocks in the dictionary.
func (d *Dictionary) NumBlocks() int {
	return d.count
}

// Capacity returns the number of entries per block.
func (d *Dictionary) Capacity() int {
	return d.capacity
}

// Block decodes block i.
func (d *Dictionary) Block(i int) ([]Entry, error) {
	if i < 0 || i >= d.count {
		return nil, apperrors.Corruptf("frontcode.Block", "block %d out of %d", i, d.count)
	}
	size := BlockSize(d.capacity)
	entries, err := DecodeBlock(d.blocks[i*size:(i+1)*size], d.suffixes, d.capacity)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.Corruptf("frontcode.Block", "block %d is empty", i)
	}
	return entries, nil
}

// Search looks term up by binary search over blocks. Each step decodes the
// whole candidate block and compares term against its first and last entry.
// A term that falls inside a block's span but is not in it is a miss; the
// search never moves on to a neighbouring block in that case.
func (d *Dictionary) Search(term string) (Entry, bool, error) {
	lo, hi := 0, d.count-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		entries, err := d.Block(mid)
		if err != nil {
			return Entry{}, false, err
		}
		switch {
		case term < entries[0].Term:
			hi = mid - 1
		case term > entries[len(entries)-1].Term:
			lo = mid + 1
		default:
			for _, e := range entries {
				if e.Term == term {
					return e, true, nil
				}
			}
			return Entry{}, false, nil
		}
	}
	return Entry{}, false, nil
}
