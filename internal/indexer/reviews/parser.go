// Package reviews reads review input files and stores per-review metadata.
package reviews

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
)

// Input keys of a review block.
const (
	KeyProductID   = "product/productId"
	KeyHelpfulness = "review/helpfulness"
	KeyScore       = "review/score"
	KeyText        = "review/text"
)

// Review is one parsed input review.
type Review struct {
	ProductID              string `json:"productId"`
	HelpfulnessNumerator   uint32 `json:"helpfulnessNumerator"`
	HelpfulnessDenominator uint32 `json:"helpfulnessDenominator"`
	Score                  uint8  `json:"score"`
	Text                   string `json:"text"`
}

// Source yields reviews in input order and can be scanned more than once.
type Source interface {
	Scan(fn func(Review) error) error
}

// FileSource reads reviews from a file, reopening it on every scan.
type FileSource struct {
	Path string
}

func (s FileSource) Scan(fn func(Review) error) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, "reviews.Scan", "opening %s: %v", s.Path, err)
	}
	defer f.Close()
	return Parse(f, fn)
}

// SliceSource serves reviews held in memory.
type SliceSource []Review

func (s SliceSource) Scan(fn func(Review) error) error {
	for _, r := range s {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads blank-line separated blocks of "key: value" lines and calls fn
// for each block. Unknown keys are ignored.
func Parse(r io.Reader, fn func(Review) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var cur Review
	var started bool
	var line int
	emit := func() error {
		if !started {
			return nil
		}
		started = false
		rev := cur
		cur = Review{}
		return fn(rev)
	}
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			if err := emit(); err != nil {
				return err
			}
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return apperrors.Newf(apperrors.ErrInvalidInput, "reviews.Parse", "line %d: missing key separator", line)
		}
		started = true
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case KeyProductID:
			cur.ProductID = value
		case KeyHelpfulness:
			num, den, err := parseHelpfulness(value)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidInput, "reviews.Parse", "line %d: %v", line, err)
			}
			cur.HelpfulnessNumerator, cur.HelpfulnessDenominator = num, den
		case KeyScore:
			score, err := parseScore(value)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidInput, "reviews.Parse", "line %d: %v", line, err)
			}
			cur.Score = score
		case KeyText:
			cur.Text = value
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading reviews: %w", err)
	}
	return emit()
}

func parseHelpfulness(v string) (uint32, uint32, error) {
	n, d, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, fmt.Errorf("helpfulness %q is not num/den", v)
	}
	num, err := strconv.ParseUint(strings.TrimSpace(n), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("helpfulness numerator: %w", err)
	}
	den, err := strconv.ParseUint(strings.TrimSpace(d), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("helpfulness denominator: %w", err)
	}
	return uint32(num), uint32(den), nil
}

func parseScore(v string) (uint8, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("score: %w", err)
	}
	if f < 0 || f > math.MaxUint8 || math.IsNaN(f) {
		return 0, fmt.Errorf("score %q out of range", v)
	}
	return uint8(math.Round(f)), nil
}
