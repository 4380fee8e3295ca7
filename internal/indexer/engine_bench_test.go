package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/manifest"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
)

func benchReviews(n int) reviews.SliceSource {
	src := make(reviews.SliceSource, n)
	for i := range src {
		src[i] = reviews.Review{
			ProductID: fmt.Sprintf("B%07d", i%500),
			Score:     uint8(i%5 + 1),
			Text:      fmt.Sprintf("review %d of a tasty snack with word%d and word%d", i, i%97, i%13),
		}
	}
	return src
}

// BenchmarkInsert measures indexing throughput of both build paths.
func BenchmarkInsert(b *testing.B) {
	for _, mode := range []string{manifest.ModeTiered, manifest.ModeBulk} {
		b.Run(mode, func(b *testing.B) {
			src := benchReviews(2000)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				cfg := testConfig(b.TempDir(), mode)
				cfg.MinRunPairs = 4096
				cfg.MaxTempFiles = 64
				cfg.PostingSpillCap = 1024
				e, err := Open(Options{Config: cfg})
				if err != nil {
					b.Fatal(err)
				}
				if _, err := e.Insert(context.Background(), src, ""); err != nil {
					b.Fatal(err)
				}
				e.Close()
			}
		})
	}
}

// BenchmarkQueryTerm measures single-term lookup latency across segments.
func BenchmarkQueryTerm(b *testing.B) {
	for _, segments := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("segments=%d", segments), func(b *testing.B) {
			cfg := testConfig(b.TempDir(), manifest.ModeBulk)
			cfg.BlockCapacity = 8
			e, err := Open(Options{Config: cfg})
			if err != nil {
				b.Fatal(err)
			}
			defer e.Close()
			ctx := context.Background()
			for s := 0; s < segments; s++ {
				if _, err := e.Insert(ctx, benchReviews(500), ""); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := e.QueryTerm(ctx, fmt.Sprintf("word%d", i%97)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
