// Package manifest persists the committed segment set of an index. Every
// structural change writes its new segment directories first and then
// replaces MANIFEST atomically, so a crash leaves either the old or the new
// set visible, never a mix.
package manifest

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

const (
	FileName      = "MANIFEST"
	SegmentPrefix = "seg-"
	// Untiered marks segments appended by the bulk path.
	Untiered = -1

	ModeBulk   = "bulk"
	ModeTiered = "tiered"
)

// Segment is one committed segment.
type Segment struct {
	Name string `json:"name"`
	Tier int    `json:"tier"`
	Docs uint32 `json:"docs"`
}

// Manifest lists the live segments in creation order.
type Manifest struct {
	Version int `json:"version"`
	// IndexID is fixed when the index is created and survives every commit.
	IndexID     string    `json:"index_id"`
	Mode        string    `json:"mode"`
	Segments    []Segment `json:"segments"`
	NextSeq     uint64    `json:"next_seq"`
	NextDocID   uint32    `json:"next_doc_id"`
	TotalDocs   uint64    `json:"total_docs"`
	TotalTokens uint64    `json:"total_tokens"`
	Updated     time.Time `json:"updated"`
	Checksum    uint32    `json:"checksum"`
}

// New returns the manifest of a new, empty index. Document ids start at 1.
func New(mode string) *Manifest {
	return &Manifest{Version: 1, IndexID: uuid.NewString(), Mode: mode, NextDocID: 1}
}

// Clone returns a deep copy that can be edited without touching m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = append([]Segment(nil), m.Segments...)
	return &c
}

// AllocSegment reserves the directory name of a new segment.
func (m *Manifest) AllocSegment() string {
	name := fmt.Sprintf("%s%06d", SegmentPrefix, m.NextSeq)
	m.NextSeq++
	return name
}

// Tier returns the index in Segments of the segment occupying tier, or -1.
func (m *Manifest) Tier(tier int) int {
	for i, s := range m.Segments {
		if s.Tier == tier {
			return i
		}
	}
	return -1
}

// Names returns the segment directory names in creation order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names
}

// Validate checks the structural invariants: unique names and at most one
// segment per tier.
func (m *Manifest) Validate() error {
	if m.Mode != ModeBulk && m.Mode != ModeTiered {
		return apperrors.Corruptf(FileName, "unknown mode %q", m.Mode)
	}
	names := make(map[string]bool, len(m.Segments))
	tiers := make(map[int]string, len(m.Segments))
	for _, s := range m.Segments {
		if !strings.HasPrefix(s.Name, SegmentPrefix) || filepath.Base(s.Name) != s.Name {
			return apperrors.Corruptf(FileName, "bad segment name %q", s.Name)
		}
		if names[s.Name] {
			return apperrors.Corruptf(FileName, "segment %s listed twice", s.Name)
		}
		names[s.Name] = true
		if s.Tier == Untiered {
			continue
		}
		if s.Tier < 0 {
			return apperrors.Corruptf(FileName, "segment %s has tier %d", s.Name, s.Tier)
		}
		if other, taken := tiers[s.Tier]; taken {
			return apperrors.Corruptf(FileName, "segments %s and %s share tier %d", other, s.Name, s.Tier)
		}
		tiers[s.Tier] = s.Name
	}
	if m.NextDocID == 0 {
		return apperrors.Corruptf(FileName, "next document id is zero")
	}
	return nil
}

func checksum(m *Manifest) (uint32, error) {
	c := *m
	c.Checksum = 0
	data, err := json.Marshal(&c)
	if err != nil {
		return 0, fmt.Errorf("encoding manifest: %w", err)
	}
	return crc32.ChecksumIEEE(data), nil
}

// Marshal stamps the checksum and encodes m.
func Marshal(m *Manifest) ([]byte, error) {
	sum, err := checksum(m)
	if err != nil {
		return nil, err
	}
	m.Checksum = sum
	return json.MarshalIndent(m, "", "  ")
}

// Unmarshal decodes and verifies a manifest.
func Unmarshal(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Corruptf(FileName, "decoding: %v", err)
	}
	sum, err := checksum(&m)
	if err != nil {
		return nil, err
	}
	if sum != m.Checksum {
		return nil, apperrors.Corruptf(FileName, "checksum %08x, computed %08x", m.Checksum, sum)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads the manifest of dir. ok is false when the index has never been
// committed.
func Load(dir string) (m *Manifest, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading manifest: %w", err)
	}
	m, err = Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Commit atomically replaces the manifest of dir with m.
func Commit(dir string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return apperrors.Newf(apperrors.ErrCommit, "manifest.Commit", "refusing invalid manifest: %v", err)
	}
	m.Updated = time.Now().UTC()
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(filepath.Join(dir, FileName), data); err != nil {
		return apperrors.Newf(apperrors.ErrCommit, "manifest.Commit", "%v", err)
	}
	return nil
}

func atomicWriteFile(finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("atomic write create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomic write data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("atomic write rename %s: %w", finalPath, err)
	}
	if err := FsyncDir(dir); err != nil {
		return err
	}
	success = true
	return nil
}

// FsyncDir makes the directory entries of path durable.
func FsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fsync dir open %s: %w", path, err)
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("fsync dir sync %s: %w", path, err)
	}
	return d.Close()
}

// Orphans returns segment directories in dir that m does not reference,
// sorted by name. These are leftovers of interrupted or superseded writes.
func Orphans(dir string, m *Manifest) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	live := make(map[string]bool)
	if m != nil {
		for _, s := range m.Segments {
			live[s.Name] = true
		}
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, SegmentPrefix) || live[name] {
			continue
		}
		if _, err := strconv.ParseUint(strings.TrimPrefix(name, SegmentPrefix), 10, 64); err != nil {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// RemoveOrphans deletes every unreferenced segment directory and returns
// their names.
func RemoveOrphans(dir string, m *Manifest) ([]string, error) {
	orphans, err := Orphans(dir, m)
	if err != nil {
		return nil, err
	}
	for _, name := range orphans {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("removing orphan segment %s: %w", name, err)
		}
	}
	return orphans, nil
}
