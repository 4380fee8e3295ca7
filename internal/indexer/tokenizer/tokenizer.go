// Package tokenizer turns review text into index terms. It lower-cases the
// input and splits it on every byte that is not an ASCII letter or digit.
package tokenizer

import (
	"sort"
	"strings"
)

// DefaultMaxLength is the longest term kept for indexing.
const DefaultMaxLength = 127

// Result is the tokenization of one text.
type Result struct {
	// Terms are the indexable tokens in sorted order, repeats included.
	Terms []string
	// Count is the number of tokens in the text, including those too long
	// to index.
	Count int
}

// Tokenizer splits text into terms no longer than MaxLength bytes.
type Tokenizer struct {
	MaxLength int
}

func New(maxLength int) *Tokenizer {
	if maxLength < 1 {
		maxLength = DefaultMaxLength
	}
	return &Tokenizer{MaxLength: maxLength}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// Tokenize returns the sorted terms of text.
func (t *Tokenizer) Tokenize(text string) Result {
	text = strings.ToLower(text)
	var res Result
	start := -1
	emit := func(end int) {
		if start < 0 {
			return
		}
		res.Count++
		if end-start <= t.MaxLength {
			res.Terms = append(res.Terms, text[start:end])
		}
		start = -1
	}
	for i := 0; i < len(text); i++ {
		if isAlnum(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		emit(i)
	}
	emit(len(text))
	sort.Strings(res.Terms)
	return res
}
