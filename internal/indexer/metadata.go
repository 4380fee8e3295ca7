package indexer

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
)

// Review returns the stored metadata of a live review. Unknown and deleted
// ids report false.
func (e *Engine) Review(id uint32) (reviews.Record, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return reviews.Record{}, false, err
	}
	return e.review(id)
}

func (e *Engine) review(id uint32) (reviews.Record, bool, error) {
	rec, ok, err := e.store.Lookup(id)
	if err != nil || !ok {
		return reviews.Record{}, false, err
	}
	deleted, err := e.invalid.Contains(id)
	if err != nil || deleted {
		return reviews.Record{}, false, err
	}
	return rec, true, nil
}

func (e *Engine) ProductID(id uint32) (string, bool, error) {
	rec, ok, err := e.Review(id)
	return rec.ProductID, ok, err
}

func (e *Engine) Score(id uint32) (uint8, bool, error) {
	rec, ok, err := e.Review(id)
	return rec.Score, ok, err
}

func (e *Engine) HelpfulnessNumerator(id uint32) (uint32, bool, error) {
	rec, ok, err := e.Review(id)
	return rec.HelpfulnessNumerator, ok, err
}

func (e *Engine) HelpfulnessDenominator(id uint32) (uint32, bool, error) {
	rec, ok, err := e.Review(id)
	return rec.HelpfulnessDenominator, ok, err
}

// ReviewLength returns the token count of a review's text.
func (e *Engine) ReviewLength(id uint32) (uint32, bool, error) {
	rec, ok, err := e.Review(id)
	return rec.Length, ok, err
}

// TokenFrequency returns the number of live reviews containing word.
func (e *Engine) TokenFrequency(ctx context.Context, word string) (int, error) {
	pl, err := e.QueryTerm(ctx, word)
	return len(pl), err
}

// TokenCollectionFrequency returns the number of occurrences of word across
// all live reviews.
func (e *Engine) TokenCollectionFrequency(ctx context.Context, word string) (uint64, error) {
	pl, err := e.QueryTerm(ctx, word)
	return pl.TotalFrequency(), err
}

// NumberOfReviews returns the number of live reviews.
func (e *Engine) NumberOfReviews() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	return e.numberOfReviews()
}

func (e *Engine) numberOfReviews() (uint64, error) {
	docs, _, err := e.deletedTotals()
	if err != nil {
		return 0, err
	}
	return uint64(e.store.Len()) - docs, nil
}

// TokenSizeOfReviews returns the total token count of all live reviews. It
// is derived from the review store, which holds every review not yet
// compacted away.
func (e *Engine) TokenSizeOfReviews() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	_, tokens, err := e.deletedTotals()
	if err != nil {
		return 0, err
	}
	stored := e.store.Tokens()
	if tokens > stored {
		return 0, nil
	}
	return stored - tokens, nil
}

// deletedTotals counts the stored reviews that are deleted and their tokens.
func (e *Engine) deletedTotals() (uint64, uint64, error) {
	set, err := e.invalid.Snapshot()
	if err != nil {
		return 0, 0, err
	}
	var docs, tokens uint64
	it := set.Iterator()
	for it.HasNext() {
		rec, ok, err := e.store.Lookup(it.Next())
		if err != nil {
			return 0, 0, err
		}
		if ok {
			docs++
			tokens += uint64(rec.Length)
		}
	}
	return docs, tokens, nil
}

// ProductReviews returns the live review ids of productID in ascending order.
func (e *Engine) ProductReviews(productID string) ([]uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return nil, err
	}
	set, err := e.invalid.Snapshot()
	if err != nil {
		return nil, err
	}
	return e.store.ProductReviews(productID, set.Contains)
}
