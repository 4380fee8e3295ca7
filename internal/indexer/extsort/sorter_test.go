package extsort

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func syntheticCorpus(docs int, seed int64) []Document {
	rng := rand.New(rand.NewSource(seed))
	vocab := make([]string, 200)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("w%03d", i)
	}
	out := make([]Document, docs)
	for i := range out {
		n := 1 + rng.Intn(12)
		toks := make([]string, n)
		for j := range toks {
			toks[j] = vocab[rng.Intn(len(vocab))]
		}
		sort.Strings(toks)
		out[i] = Document{DocID: uint32(i + 1), Tokens: toks, TokenCount: n + 1}
	}
	return out
}

func sliceSource(docs []Document) Source {
	return func(fn func(Document) error) error {
		for _, d := range docs {
			if err := fn(d); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestBuildLexicon(t *testing.T) {
	docs := []Document{
		{DocID: 1, Tokens: []string{"pear", "apple", "apple"}, TokenCount: 4},
		{DocID: 2, Tokens: []string{"fig"}, TokenCount: 1},
	}
	lex, err := BuildLexicon(sliceSource(docs))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"apple", "fig", "pear"}, lex.Terms); diff != "" {
		t.Errorf("terms mismatch (-want +got):\n%s", diff)
	}
	if id, ok := lex.ID("fig"); !ok || id != 1 {
		t.Errorf("ID(fig) = (%d, %v), want (1, true)", id, ok)
	}
	if term, ok := lex.Term(2); !ok || term != "pear" {
		t.Errorf("Term(2) = (%q, %v)", term, ok)
	}
	if lex.DocCount != 2 || lex.TokenCount != 5 || lex.PairCount != 4 {
		t.Errorf("counts = (%d, %d, %d), want (2, 5, 4)", lex.DocCount, lex.TokenCount, lex.PairCount)
	}
}

func TestBlockPairs(t *testing.T) {
	cases := []struct {
		total    int64
		maxFiles int
		minPairs int
		want     int
	}{
		{0, 1024, 1, 1},
		{1024, 1024, 1, 1},
		{1025, 1024, 1, 2},
		{10_000_000, 1024, 1, 9766},
		{100, 1024, 4096, 4096},
	}
	for _, tc := range cases {
		if got := BlockPairs(tc.total, tc.maxFiles, tc.minPairs); got != tc.want {
			t.Errorf("BlockPairs(%d, %d, %d) = %d, want %d", tc.total, tc.maxFiles, tc.minPairs, got, tc.want)
		}
	}
}

func TestGroupSize(t *testing.T) {
	cases := map[int]int{2: 2, 3: 2, 4: 2, 5: 3, 9: 3, 10: 4, 1024: 32}
	for remaining, want := range cases {
		if got := GroupSize(remaining); got != want {
			t.Errorf("GroupSize(%d) = %d, want %d", remaining, got, want)
		}
	}
}

func TestSortProducesOrderedStream(t *testing.T) {
	docs := syntheticCorpus(300, 7)
	lex, err := BuildLexicon(sliceSource(docs))
	if err != nil {
		t.Fatal(err)
	}

	var want []Pair
	for _, d := range docs {
		for _, tok := range d.Tokens {
			id, _ := lex.ID(tok)
			want = append(want, Pair{TermID: id, DocID: d.DocID})
		}
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

	dir := t.TempDir()
	s := NewSorter(Config{Dir: dir, MaxTempFiles: 64, MinRunPairs: 16})
	res, err := s.Sort(lex, sliceSource(docs))
	if err != nil {
		t.Fatal(err)
	}
	if res.Passes < 2 {
		t.Errorf("expected several merge passes, got %d", res.Passes)
	}

	r, err := res.Open()
	if err != nil {
		t.Fatal(err)
	}
	var got []Pair
	for {
		p, ok, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, p)
	}
	r.Close()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sorted stream mismatch (-want +got):\n%s", diff)
	}

	if err := res.Cleanup(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d entries left after cleanup", len(entries))
	}
}

func TestSortEmptyCorpus(t *testing.T) {
	lex, err := BuildLexicon(sliceSource(nil))
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewSorter(Config{Dir: t.TempDir()}).Sort(lex, sliceSource(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Cleanup()
	r, err := res.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok, err := r.Next(); ok || err != nil {
		t.Errorf("Next on empty sort = (%v, %v), want exhausted", ok, err)
	}
}
