// Package extsort builds a sorted (term id, doc id) stream from a corpus too
// large to invert in memory. A first pass assigns dense term ids, a second
// pass writes sorted runs of bounded size, and iterative k-way merges reduce
// the runs to one.
package extsort

import (
	"fmt"
	"sort"
)

// Document is one tokenized document as seen by the sorter. Tokens holds
// the indexable tokens; TokenCount also counts tokens too long to index.
type Document struct {
	DocID      uint32
	Tokens     []string
	TokenCount int
}

// Source replays the corpus, calling fn once per document in increasing
// DocID order. The sorter scans it twice.
type Source func(fn func(Document) error) error

// Lexicon maps every distinct term of a corpus to a dense id in sorted term
// order, so sorting by id is sorting by term.
type Lexicon struct {
	Terms      []string
	ids        map[string]uint32
	DocCount   int
	TokenCount int64
	PairCount  int64
}

// BuildLexicon runs the first pass over src.
func BuildLexicon(src Source) (*Lexicon, error) {
	seen := make(map[string]struct{})
	lex := &Lexicon{}
	err := src(func(doc Document) error {
		for _, tok := range doc.Tokens {
			seen[tok] = struct{}{}
		}
		lex.DocCount++
		lex.TokenCount += int64(doc.TokenCount)
		lex.PairCount += int64(len(doc.Tokens))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lexicon pass: %w", err)
	}
	lex.Terms = make([]string, 0, len(seen))
	for term := range seen {
		lex.Terms = append(lex.Terms, term)
	}
	sort.Strings(lex.Terms)
	lex.ids = make(map[string]uint32, len(lex.Terms))
	for i, term := range lex.Terms {
		lex.ids[term] = uint32(i)
	}
	return lex, nil
}

// ID returns the id assigned to term.
func (l *Lexicon) ID(term string) (uint32, bool) {
	id, ok := l.ids[term]
	return id, ok
}

// Term returns the term with the given id.
func (l *Lexicon) Term(id uint32) (string, bool) {
	if int(id) >= len(l.Terms) {
		return "", false
	}
	return l.Terms[id], true
}
