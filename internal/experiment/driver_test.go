package experiment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/postgres"
)

const first = `product/productId: B001E4KFG0
review/helpfulness: 1/1
review/score: 5.0
review/text: Good quality dog food

product/productId: B00813GRG4
review/helpfulness: 0/0
review/score: 1.0
review/text: Not as advertised, the dog hated it
`

const second = `product/productId: B000LQOCH0
review/helpfulness: 1/1
review/score: 4.0
review/text: Good candy
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunRecordsEveryStep(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Indexer.DataDir = filepath.Join(dir, "index")
	engine, err := indexer.Open(indexer.Options{Config: cfg.Indexer})
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	rec := &MemoryRecorder{}
	d := NewDriver(engine, config.ExperimentConfig{
		Name:        "smoke",
		Input:       writeFile(t, dir, "first.txt", first),
		InsertInput: writeFile(t, dir, "second.txt", second),
		Queries:     []string{"good", "dog"},
		Deletes:     []uint32{1},
		MergeAfter:  true,
	}, rec)

	runID, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	type row struct {
		Name    string
		Reviews uint64
		Detail  string
	}
	var got []row
	for _, s := range rec.Steps() {
		if s.RunID != runID {
			t.Errorf("step %s has run id %q, want %q", s.Name, s.RunID, runID)
		}
		if s.Error != "" {
			t.Errorf("step %s failed: %s", s.Name, s.Error)
		}
		got = append(got, row{s.Name, s.Reviews, s.Detail})
	}
	want := []row{
		{"construct", 2, "input=" + filepath.Join(dir, "first.txt") + " live=2"},
		{"insert", 3, "input=" + filepath.Join(dir, "second.txt") + " live=3"},
		{"remove", 2, "requested=1 removed=1"},
		{"query", 2, "term=good postings=1 occurrences=1"},
		{"query", 2, "term=dog postings=1 occurrences=1"},
		{"merge", 2, ""},
		{"query-after-merge", 2, "term=good postings=1 occurrences=1"},
		{"query-after-merge", 2, "term=dog postings=1 occurrences=1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStopsAtFailingStep(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Indexer.DataDir = filepath.Join(dir, "index")
	engine, err := indexer.Open(indexer.Options{Config: cfg.Indexer})
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	rec := &MemoryRecorder{}
	d := NewDriver(engine, config.ExperimentConfig{
		Name:    "missing-input",
		Input:   filepath.Join(dir, "absent.txt"),
		Queries: []string{"good"},
	}, rec)
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with a missing input file")
	}
	steps := rec.Steps()
	if len(steps) != 1 || steps[0].Name != "construct" || steps[0].Error == "" {
		t.Errorf("steps = %+v, want one failed construct", steps)
	}
}

func TestPostgresRecorder(t *testing.T) {
	host := os.Getenv("RI_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("RI_TEST_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	pgCfg := config.Default().Postgres
	pgCfg.Host = host
	client, err := postgres.New(ctx, pgCfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer client.Close()
	db := client.DB
	r, err := NewPostgresRecorder(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	step := Step{RunID: "6f1c2f7e-3f7a-4a55-9d8e-0d6b1f6f4a11", Experiment: "pg-test", Name: "merge", Mode: "tiered"}
	if err := r.Record(ctx, step); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM experiment_runs WHERE run_id = $1`, step.RunID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Errorf("found %d rows for run, want at least 1", n)
	}
}
