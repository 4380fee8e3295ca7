package tokenizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		max   int
		terms []string
		count int
	}{
		{"empty", "", 10, nil, 0},
		{"punctuation only", "--- !!", 10, nil, 0},
		{"sorted with repeats", "The cat, the HAT.", 10, []string{"cat", "hat", "the", "the"}, 4},
		{"digits kept", "Size 10x12 fits", 10, []string{"10x12", "fits", "size"}, 3},
		{"non ascii splits", "café crème", 10, []string{"caf", "cr", "me"}, 3},
		{"oversized counted not indexed", "ok " + strings.Repeat("z", 6), 5, []string{"ok"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := New(tc.max).Tokenize(tc.text)
			if diff := cmp.Diff(tc.terms, got.Terms); diff != "" {
				t.Errorf("terms mismatch (-want +got):\n%s", diff)
			}
			if got.Count != tc.count {
				t.Errorf("Count = %d, want %d", got.Count, tc.count)
			}
		})
	}
}

func TestDefaultMaxLength(t *testing.T) {
	if New(0).MaxLength != DefaultMaxLength {
		t.Errorf("New(0).MaxLength = %d", New(0).MaxLength)
	}
}
