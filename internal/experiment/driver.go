// Package experiment times index operations against a data directory and
// records each step. A run constructs the index from an input file, inserts
// a second file, deletes reviews, queries a word list and optionally merges,
// querying again afterwards.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/tracing"
)

// Driver runs one experiment against an open engine.
type Driver struct {
	engine   *indexer.Engine
	cfg      config.ExperimentConfig
	recorder Recorder
	// open turns an input path into a review source.
	open func(path string) reviews.Source
}

func NewDriver(engine *indexer.Engine, cfg config.ExperimentConfig, recorder Recorder) *Driver {
	if recorder == nil {
		recorder = LogRecorder{}
	}
	return &Driver{
		engine:   engine,
		cfg:      cfg,
		recorder: recorder,
		open:     func(path string) reviews.Source { return reviews.FileSource{Path: path} },
	}
}

// Run executes the configured steps in order and returns the run id. It
// stops at the first failing step; that step is still recorded.
func (d *Driver) Run(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "experiment", "experiment", d.cfg.Name)
	ctx, root := tracing.StartSpan(ctx, "experiment."+d.cfg.Name, runID)

	log.Info("experiment started", "mode", d.engine.Mode())
	err := d.steps(ctx, runID)
	root.End(err)
	root.Log(log)
	if err != nil {
		log.Error("experiment failed", "error", err)
		return runID, err
	}
	log.Info("experiment finished", "duration_ms", root.Duration.Milliseconds())
	return runID, nil
}

func (d *Driver) steps(ctx context.Context, runID string) error {
	if d.cfg.Input != "" {
		err := d.step(ctx, runID, "construct", d.cfg.Input, func(ctx context.Context) (string, error) {
			n, err := d.engine.Construct(ctx, d.open(d.cfg.Input))
			return fmt.Sprintf("input=%s live=%d", d.cfg.Input, n), err
		})
		if err != nil {
			return err
		}
	}
	if d.cfg.InsertInput != "" {
		err := d.step(ctx, runID, "insert", d.cfg.InsertInput, func(ctx context.Context) (string, error) {
			n, err := d.engine.Insert(ctx, d.open(d.cfg.InsertInput), "")
			return fmt.Sprintf("input=%s live=%d", d.cfg.InsertInput, n), err
		})
		if err != nil {
			return err
		}
	}
	if len(d.cfg.Deletes) > 0 {
		err := d.step(ctx, runID, "remove", "", func(ctx context.Context) (string, error) {
			n, err := d.engine.RemoveReviews(ctx, d.cfg.Deletes)
			return fmt.Sprintf("requested=%d removed=%d", len(d.cfg.Deletes), n), err
		})
		if err != nil {
			return err
		}
	}
	if err := d.queries(ctx, runID, "query"); err != nil {
		return err
	}
	if !d.cfg.MergeAfter {
		return nil
	}
	err := d.step(ctx, runID, "merge", "", func(ctx context.Context) (string, error) {
		return "", d.engine.MergeAll(ctx)
	})
	if err != nil {
		return err
	}
	return d.queries(ctx, runID, "query-after-merge")
}

func (d *Driver) queries(ctx context.Context, runID, name string) error {
	for _, word := range d.cfg.Queries {
		err := d.step(ctx, runID, name, word, func(ctx context.Context) (string, error) {
			pl, err := d.engine.QueryTerm(ctx, word)
			return fmt.Sprintf("term=%s postings=%d occurrences=%d", word, len(pl), pl.TotalFrequency()), err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// step times fn in a child span and records it.
func (d *Driver) step(ctx context.Context, runID, name, label string, fn func(ctx context.Context) (string, error)) error {
	sctx, span := tracing.StartChildSpan(ctx, name)
	if label != "" {
		span.SetAttr("label", label)
	}
	detail, err := fn(sctx)
	span.End(err)

	live, lerr := d.engine.NumberOfReviews()
	if lerr != nil {
		slog.Default().Warn("counting live reviews", "error", lerr)
	}
	s := Step{
		RunID:      runID,
		Experiment: d.cfg.Name,
		Name:       name,
		Mode:       d.engine.Mode(),
		Duration:   span.Duration,
		Reviews:    live,
		Segments:   len(d.engine.Segments()),
		Detail:     detail,
		StartedAt:  span.StartTime.UTC().Truncate(time.Millisecond),
	}
	if err != nil {
		s.Error = err.Error()
	}
	if rerr := d.recorder.Record(ctx, s); rerr != nil {
		logger.FromContext(ctx).Error("recording experiment step", "step", name, "error", rerr)
	}
	if err != nil {
		return fmt.Errorf("step %s: %w", name, err)
	}
	return nil
}
