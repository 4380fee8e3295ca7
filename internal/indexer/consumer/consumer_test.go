package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/kafka"
)

type call struct {
	Op    string
	Texts []string
	IDs   []uint32
}

type fakeEngine struct {
	calls     []call
	insertErr error
}

func (f *fakeEngine) Insert(_ context.Context, src reviews.Source, _ string) (uint64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	c := call{Op: OpInsert}
	err := src.Scan(func(r reviews.Review) error {
		c.Texts = append(c.Texts, r.Text)
		return nil
	})
	f.calls = append(f.calls, c)
	return uint64(len(c.Texts)), err
}

func (f *fakeEngine) RemoveReviews(_ context.Context, ids []uint32) (int, error) {
	f.calls = append(f.calls, call{Op: OpDelete, IDs: ids})
	return len(ids), nil
}

func message(t *testing.T, ev Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Value: data}
}

func insert(t *testing.T, text string) kafka.Message {
	return message(t, Event{Op: OpInsert, Review: &reviews.Review{ProductID: "B001", Score: 4, Text: text}})
}

func TestHandleBatchKeepsTopicOrder(t *testing.T) {
	engine := &fakeEngine{}
	batch := []kafka.Message{
		insert(t, "one"),
		insert(t, "two"),
		message(t, Event{Op: OpDelete, IDs: []uint32{1}}),
		{Value: []byte("{not json")},
		message(t, Event{Op: "upsert"}),
		insert(t, "three"),
	}
	if err := HandleBatch(engine, nil)(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	want := []call{
		{Op: OpInsert, Texts: []string{"one", "two"}},
		{Op: OpDelete, IDs: []uint32{1}},
		{Op: OpInsert, Texts: []string{"three"}},
	}
	if diff := cmp.Diff(want, engine.calls); diff != "" {
		t.Errorf("engine calls mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleBatchFailsOnEngineError(t *testing.T) {
	boom := errors.New("disk full")
	engine := &fakeEngine{insertErr: boom}
	err := HandleBatch(engine, nil)(context.Background(), []kafka.Message{insert(t, "x")})
	if !errors.Is(err, boom) {
		t.Fatalf("HandleBatch = %v, want %v", err, boom)
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"insert", Event{Op: OpInsert, Review: &reviews.Review{ProductID: "B001"}}, true},
		{"insert without review", Event{Op: OpInsert}, false},
		{"long product id", Event{Op: OpInsert, Review: &reviews.Review{ProductID: "B0123456789"}}, false},
		{"delete", Event{Op: OpDelete, IDs: []uint32{4}}, true},
		{"empty delete", Event{Op: OpDelete}, false},
		{"unknown op", Event{Op: "truncate"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
