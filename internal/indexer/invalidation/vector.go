// Package invalidation records logically deleted document ids. Deletes are
// appended to a file of raw varints; readers load the file into a bitmap the
// first time they need it after a write.
package invalidation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// FileName is the invalidation file's name inside the data directory.
const FileName = "invalidated.bin"

// Vector is the invalidation state owned by one engine. It is not safe for
// concurrent writes; concurrent readers are fine once Load has run.
type Vector struct {
	path   string
	set    *roaring.Bitmap
	dirty  bool
	logger *slog.Logger
}

// Open attaches to the invalidation file at path. A missing file means no
// document has been deleted yet.
func Open(path string) (*Vector, error) {
	v := &Vector{
		path:   path,
		set:    roaring.New(),
		logger: slog.Default().With("component", "invalidation"),
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("stat invalidation file: %w", err)
	case info.Size() > 0:
		v.dirty = true
	}
	return v, nil
}

// Dirty reports whether the file holds ids not yet loaded into memory.
func (v *Vector) Dirty() bool {
	return v.dirty
}

// Append persists ids as deleted. Ids may repeat and come in any order.
func (v *Vector) Append(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(ids)*varint.MaxLen)
	for _, id := range ids {
		var err error
		if buf, err = varint.Append(buf, id); err != nil {
			return fmt.Errorf("encoding deleted id %d: %w", id, err)
		}
	}
	f, err := os.OpenFile(v.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening invalidation file: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("appending to invalidation file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing invalidation file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing invalidation file: %w", err)
	}
	v.dirty = true
	return nil
}

// Load reads the whole file into the in-memory set if it changed since the
// last load.
func (v *Vector) Load() error {
	if !v.dirty {
		return nil
	}
	f, err := os.Open(v.path)
	if os.IsNotExist(err) {
		v.set.Clear()
		v.dirty = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening invalidation file: %w", err)
	}
	defer f.Close()

	set := roaring.New()
	br := bufio.NewReader(f)
	for {
		id, err := varint.Read(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return apperrors.Corruptf(v.path, "reading deleted id %d: %v", set.GetCardinality(), err)
		}
		set.Add(id)
	}
	v.set = set
	v.dirty = false
	v.logger.Debug("invalidation set loaded", "ids", set.GetCardinality())
	return nil
}

// Contains reports whether id has been deleted.
func (v *Vector) Contains(id uint32) (bool, error) {
	if err := v.Load(); err != nil {
		return false, err
	}
	return v.set.Contains(id), nil
}

// Len returns the number of distinct deleted ids.
func (v *Vector) Len() (uint64, error) {
	if err := v.Load(); err != nil {
		return 0, err
	}
	return v.set.GetCardinality(), nil
}

// Filter removes deleted documents from pl.
func (v *Vector) Filter(pl index.PostingList) (index.PostingList, error) {
	if err := v.Load(); err != nil {
		return nil, err
	}
	if v.set.IsEmpty() {
		return pl, nil
	}
	return pl.Filter(v.set.Contains), nil
}

// Snapshot returns a copy of the current set, safe to use while the vector
// keeps changing.
func (v *Vector) Snapshot() (*roaring.Bitmap, error) {
	if err := v.Load(); err != nil {
		return nil, err
	}
	return v.set.Clone(), nil
}

// Clear truncates the file and empties the set. It is only valid once no
// committed segment holds a posting for a deleted id.
func (v *Vector) Clear() error {
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing invalidation file: %w", err)
	}
	v.set.Clear()
	v.dirty = false
	return nil
}
