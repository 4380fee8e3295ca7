package segment

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/extsort"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

type doc struct {
	id     uint32
	tokens []string
}

func buildMemory(t *testing.T, dir string, capacity int, docs []doc) *Reader {
	t.Helper()
	m := index.NewMemoryIndex(t.TempDir(), 2)
	for _, d := range docs {
		toks := append([]string(nil), d.tokens...)
		sort.Strings(toks)
		if err := m.AddDocument(d.id, toks, len(toks)); err != nil {
			t.Fatalf("AddDocument(%d): %v", d.id, err)
		}
	}
	if _, err := WriteMemory(dir, capacity, m); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func mustPostings(t *testing.T, r *Reader, term string) index.PostingList {
	t.Helper()
	pl, err := r.Postings(term)
	if err != nil {
		t.Fatalf("Postings(%q): %v", term, err)
	}
	return pl
}

func TestWriteMemoryAndLookup(t *testing.T) {
	root := t.TempDir()
	r := buildMemory(t, filepath.Join(root, "seg"), 3, []doc{
		{1, []string{"apple", "pear"}},
		{2, []string{"apple", "apple", "fig"}},
		{4, []string{"zebra", "apple"}},
		{5, []string{"banana", "cherry", "date", "elder"}},
	})

	meta := r.Meta()
	if meta.DocCount != 4 || meta.TermCount != 8 || meta.BlockCapacity != 3 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.MinDocID != 1 || meta.MaxDocID != 5 {
		t.Errorf("doc range = [%d, %d], want [1, 5]", meta.MinDocID, meta.MaxDocID)
	}

	want := index.PostingList{{DocID: 1, Frequency: 1}, {DocID: 2, Frequency: 2}, {DocID: 4, Frequency: 1}}
	if diff := cmp.Diff(want, mustPostings(t, r, "apple")); diff != "" {
		t.Errorf("apple postings mismatch (-want +got):\n%s", diff)
	}
	for _, term := range []string{"aardvark", "coconut", "zzz", "figs"} {
		if pl := mustPostings(t, r, term); pl != nil {
			t.Errorf("Postings(%q) = %v, want nil", term, pl)
		}
	}
}

func TestOpenMissingFileIsCorrupt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg")
	r := buildMemory(t, dir, 8, []doc{{1, []string{"a"}}})
	r.Close()
	if err := os.Remove(filepath.Join(dir, SuffixFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("Open = %v, want ErrCorrupt", err)
	}
}

func TestReadRunPastEndIsCorrupt(t *testing.T) {
	r := buildMemory(t, filepath.Join(t.TempDir(), "seg"), 8, []doc{{1, []string{"a"}}})
	e, ok, err := r.Lookup("a")
	if err != nil || !ok {
		t.Fatalf("Lookup = (%v, %v)", ok, err)
	}
	e.PostingLength += 100
	if _, err := r.ReadRun(e); !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("ReadRun = %v, want ErrCorrupt", err)
	}
}

func TestCursorWalksAllTerms(t *testing.T) {
	r := buildMemory(t, filepath.Join(t.TempDir(), "seg"), 2, []doc{
		{1, []string{"e", "d", "c", "b", "a"}},
	})
	var got []string
	c := r.Cursor()
	for c.Next() {
		got = append(got, c.Term())
	}
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e"}, got); diff != "" {
		t.Errorf("cursor terms mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSorted(t *testing.T) {
	docs := []extsort.Document{
		{DocID: 1, Tokens: []string{"apple", "apple", "kiwi"}, TokenCount: 3},
		{DocID: 2, Tokens: []string{"kiwi"}, TokenCount: 2},
		{DocID: 3, Tokens: []string{"apple", "melon"}, TokenCount: 2},
	}
	src := func(fn func(extsort.Document) error) error {
		for _, d := range docs {
			if err := fn(d); err != nil {
				return err
			}
		}
		return nil
	}
	lex, err := extsort.BuildLexicon(src)
	if err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	res, err := extsort.NewSorter(extsort.Config{Dir: tmp, MaxTempFiles: 4, MinRunPairs: 1}).Sort(lex, src)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Cleanup()
	pairs, err := res.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer pairs.Close()

	dir := filepath.Join(t.TempDir(), "seg")
	meta, err := WriteSorted(dir, 8, SortedInput{
		Lexicon:  lex,
		Pairs:    pairs,
		SpillDir: tmp,
		SpillCap: 1,
		Stats:    Stats{DocCount: 3, TokenCount: 7, MinDocID: 1, MaxDocID: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.TermCount != 3 || meta.TokenCount != 7 {
		t.Errorf("meta = %+v", meta)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	want := index.PostingList{{DocID: 1, Frequency: 2}, {DocID: 3, Frequency: 1}}
	if diff := cmp.Diff(want, mustPostings(t, r, "apple")); diff != "" {
		t.Errorf("apple postings mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeConcatenatesInCreationOrder(t *testing.T) {
	root := t.TempDir()
	a := buildMemory(t, filepath.Join(root, "a"), 8, []doc{
		{3, []string{"zebra", "lion"}},
		{7, []string{"zebra", "zebra"}},
	})
	b := buildMemory(t, filepath.Join(root, "b"), 8, []doc{
		{12, []string{"zebra", "ant"}},
	})

	res, err := Merge(filepath.Join(root, "merged"), []*Reader{a, b}, MergeOptions{Capacity: 8, SpillDir: root, SpillCap: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.DocCount != 3 || res.Terms != 3 {
		t.Errorf("result = %+v", res)
	}
	m, err := Open(filepath.Join(root, "merged"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	want := index.PostingList{
		{DocID: 3, Frequency: 1},
		{DocID: 7, Frequency: 2},
		{DocID: 12, Frequency: 1},
	}
	if diff := cmp.Diff(want, mustPostings(t, m, "zebra")); diff != "" {
		t.Errorf("zebra postings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(index.PostingList{{DocID: 12, Frequency: 1}}, mustPostings(t, m, "ant")); diff != "" {
		t.Errorf("ant postings mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSingleSegmentIsIdempotent(t *testing.T) {
	root := t.TempDir()
	orig := buildMemory(t, filepath.Join(root, "orig"), 3, []doc{
		{1, []string{"alpha", "beta", "gamma"}},
		{2, []string{"beta", "delta", "delta"}},
		{9, []string{"omega", "alpha"}},
	})
	if _, err := Merge(filepath.Join(root, "copy"), []*Reader{orig}, MergeOptions{Capacity: 3}); err != nil {
		t.Fatal(err)
	}
	cp, err := Open(filepath.Join(root, "copy"))
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Close()

	for _, name := range []string{DictionaryFile, SuffixFile, PostingsFile, MetaFile} {
		want, err := os.ReadFile(filepath.Join(root, "orig", name))
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(filepath.Join(root, "copy", name))
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(want, got) {
			t.Errorf("%s differs after one-input merge", name)
		}
	}
}

func TestMergeDropsInvalidatedPostings(t *testing.T) {
	root := t.TempDir()
	a := buildMemory(t, filepath.Join(root, "a"), 8, []doc{
		{1, []string{"apple"}},
		{5, []string{"apple", "apple", "gone"}},
	})
	res, err := Merge(filepath.Join(root, "m"), []*Reader{a}, MergeOptions{
		Capacity: 8,
		Drop:     func(id uint32) bool { return id == 5 },
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.DroppedDocs != 1 || res.Meta.DocCount != 1 {
		t.Errorf("result = %+v", res)
	}
	m, err := Open(filepath.Join(root, "m"))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if diff := cmp.Diff(index.PostingList{{DocID: 1, Frequency: 1}}, mustPostings(t, m, "apple")); diff != "" {
		t.Errorf("apple postings mismatch (-want +got):\n%s", diff)
	}
	if pl := mustPostings(t, m, "gone"); pl != nil {
		t.Errorf("term of dropped document survived: %v", pl)
	}
}

func TestMergeRejectsOverlappingOrder(t *testing.T) {
	root := t.TempDir()
	newer := buildMemory(t, filepath.Join(root, "newer"), 8, []doc{{10, []string{"x"}}})
	older := buildMemory(t, filepath.Join(root, "older"), 8, []doc{{2, []string{"x"}}})

	_, err := Merge(filepath.Join(root, "m"), []*Reader{newer, older}, MergeOptions{Capacity: 8})
	if !errors.Is(err, apperrors.ErrOutOfOrder) {
		t.Fatalf("Merge = %v, want ErrOutOfOrder", err)
	}
	if _, err := os.Stat(filepath.Join(root, "m")); !os.IsNotExist(err) {
		t.Errorf("failed merge left its output directory behind")
	}
}
