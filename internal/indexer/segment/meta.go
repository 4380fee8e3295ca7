package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// File names inside a segment directory.
const (
	DictionaryFile = "dictionary.bin"
	SuffixFile     = "suffixes.bin"
	PostingsFile   = "postings.bin"
	MetaFile       = "meta.bin"
)

// MagicBytes identifies a segment metadata record.
const (
	MagicBytes    uint32 = 0x52565347
	FormatVersion uint32 = 1
	MetaSize      int    = 40
)

// Meta is the fixed-size record describing one segment.
type Meta struct {
	DocCount      uint32
	TokenCount    uint64
	BlockCapacity uint32
	TermCount     uint32
	MinDocID      uint32
	MaxDocID      uint32
}

// Stats are the document statistics a caller supplies when finishing a
// segment.
type Stats struct {
	DocCount   uint32
	TokenCount uint64
	MinDocID   uint32
	MaxDocID   uint32
}

func (m Meta) encode() []byte {
	buf := make([]byte, MetaSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], m.DocCount)
	binary.LittleEndian.PutUint64(buf[12:20], m.TokenCount)
	binary.LittleEndian.PutUint32(buf[20:24], m.BlockCapacity)
	binary.LittleEndian.PutUint32(buf[24:28], m.TermCount)
	binary.LittleEndian.PutUint32(buf[28:32], m.MinDocID)
	binary.LittleEndian.PutUint32(buf[32:36], m.MaxDocID)
	binary.LittleEndian.PutUint32(buf[36:40], crc32.ChecksumIEEE(buf[:36]))
	return buf
}

func decodeMeta(path string, buf []byte) (Meta, error) {
	if len(buf) != MetaSize {
		return Meta{}, apperrors.Corruptf(path, "metadata is %d bytes, want %d", len(buf), MetaSize)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != MagicBytes {
		return Meta{}, apperrors.Corruptf(path, "bad magic bytes %x", magic)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != FormatVersion {
		return Meta{}, apperrors.Corruptf(path, "unsupported format version %d", v)
	}
	if sum := binary.LittleEndian.Uint32(buf[36:40]); sum != crc32.ChecksumIEEE(buf[:36]) {
		return Meta{}, apperrors.Corruptf(path, "metadata checksum mismatch")
	}
	m := Meta{
		DocCount:      binary.LittleEndian.Uint32(buf[8:12]),
		TokenCount:    binary.LittleEndian.Uint64(buf[12:20]),
		BlockCapacity: binary.LittleEndian.Uint32(buf[20:24]),
		TermCount:     binary.LittleEndian.Uint32(buf[24:28]),
		MinDocID:      binary.LittleEndian.Uint32(buf[28:32]),
		MaxDocID:      binary.LittleEndian.Uint32(buf[32:36]),
	}
	if m.BlockCapacity == 0 {
		return Meta{}, apperrors.Corruptf(path, "zero block capacity")
	}
	return m, nil
}

// ReadMeta loads the metadata record of the segment in dir.
func ReadMeta(dir string) (Meta, error) {
	path := filepath.Join(dir, MetaFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, apperrors.Corruptf(path, "reading segment metadata: %v", err)
	}
	return decodeMeta(path, buf)
}

func writeMeta(dir string, m Meta) error {
	path := filepath.Join(dir, MetaFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating segment metadata: %w", err)
	}
	if _, err := f.Write(m.encode()); err != nil {
		f.Close()
		return fmt.Errorf("writing segment metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing segment metadata: %w", err)
	}
	return f.Close()
}
