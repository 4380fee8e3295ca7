package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer/reviews"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/review-index/pkg/redis"
)

const usage = `usage: indexer <command> [flags] [args]

commands:
  construct -input FILE [-force]   build a new index from a review file
  insert    -input FILE            add the reviews of FILE
  remove    ID...                  delete reviews by id
  query     WORD...                print the postings of each word
  review    ID...                  print the metadata of reviews
  product   PRODUCT_ID             print the live review ids of a product
  stats                            print index totals and segments
  merge                            compact every segment into one
  consume                          apply review events from Kafka until stopped
  publish   -input FILE            publish the reviews of FILE as insert events

common flags: -config FILE -data-dir DIR -mode tiered|bulk
`

var commands = map[string]bool{
	"construct": true, "insert": true, "remove": true, "query": true, "review": true,
	"product": true, "stats": true, "merge": true, "consume": true, "publish": true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cmd := args[0]
	if !commands[cmd] {
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s", cmd, usage)
		return 2
	}
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	dataDir := fs.String("data-dir", "", "index data directory (overrides config)")
	mode := fs.String("mode", "", "index mode for a new index: tiered or bulk")
	input := fs.String("input", "", "review input file")
	auxDir := fs.String("aux-dir", "", "directory for temporary files")
	force := fs.Bool("force", false, "construct: delete an existing index first")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitCode(err)
	}
	if *dataDir != "" {
		cfg.Indexer.DataDir = *dataDir
	}
	if *mode != "" {
		cfg.Indexer.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return apperrors.ExitCode(err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, out: out, json: *asJSON}
	if cmd == "publish" {
		err = a.publish(ctx, *input)
	} else {
		err = a.withEngine(ctx, cmd == "construct" && *force, func(e *indexer.Engine) error {
			switch cmd {
			case "construct":
				return a.construct(ctx, e, *input)
			case "insert":
				return a.insert(ctx, e, *input, *auxDir)
			case "remove":
				return a.remove(ctx, e, fs.Args())
			case "query":
				return a.query(ctx, e, fs.Args())
			case "review":
				return a.review(e, fs.Args())
			case "product":
				return a.product(e, fs.Args())
			case "stats":
				return a.stats(e)
			case "merge":
				return e.MergeAll(ctx)
			default:
				return a.consume(ctx, e)
			}
		})
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		fmt.Fprintf(os.Stderr, "indexer %s: %v\n", cmd, err)
		return apperrors.ExitCode(err)
	}
	return 0
}

type app struct {
	cfg     *config.Config
	out     io.Writer
	json    bool
	metrics *metrics.Metrics
	checker *health.Checker
}

// withEngine opens the engine with its optional metrics server and Redis
// cache, runs fn and closes everything.
func (a *app) withEngine(ctx context.Context, wipe bool, fn func(*indexer.Engine) error) error {
	if wipe {
		slog.Warn("removing existing index", "dir", a.cfg.Indexer.DataDir)
		if err := os.RemoveAll(a.cfg.Indexer.DataDir); err != nil {
			return fmt.Errorf("removing index directory: %w", err)
		}
	}
	a.checker = health.NewChecker()
	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New(prometheus.DefaultRegisterer)
		shutdown := metrics.StartServer(a.cfg.Metrics.Port, map[string]http.Handler{
			"/healthz": a.checker.LiveHandler(),
			"/readyz":  a.checker.ReadyHandler(),
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	var pc indexer.Cache
	if a.cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, a.cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, posting cache disabled", "error", err)
		} else {
			defer client.Close()
			store := cache.NewGuardedStore(client, 500*time.Millisecond, pkgredis.IsNilError)
			pc = cache.New(store, a.cfg.Redis.CacheTTL, a.cfg.Indexer.DataDir, a.metrics)
			a.checker.Register("redis", health.PingCheck(client.Ping, true))
			slog.Info("posting cache enabled", "addr", a.cfg.Redis.Addr, "ttl", a.cfg.Redis.CacheTTL)
		}
	}

	e, err := indexer.Open(indexer.Options{Config: a.cfg.Indexer, Metrics: a.metrics, Cache: pc})
	if err != nil {
		return err
	}
	defer e.Close()
	a.checker.Register("index", health.PingCheck(func(context.Context) error {
		_, err := e.NumberOfReviews()
		return err
	}, false))
	return fn(e)
}

func requireInput(path string) error {
	if path == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "indexer", "-input is required")
	}
	return nil
}

func (a *app) construct(ctx context.Context, e *indexer.Engine, input string) error {
	if err := requireInput(input); err != nil {
		return err
	}
	n, err := e.Construct(ctx, reviews.FileSource{Path: input})
	if err != nil {
		return err
	}
	return a.print(map[string]any{"live_reviews": n}, fmt.Sprintf("%d reviews indexed\n", n))
}

func (a *app) insert(ctx context.Context, e *indexer.Engine, input, auxDir string) error {
	if err := requireInput(input); err != nil {
		return err
	}
	n, err := e.Insert(ctx, reviews.FileSource{Path: input}, auxDir)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"live_reviews": n}, fmt.Sprintf("%d live reviews\n", n))
}

func parseIDs(args []string) ([]uint32, error) {
	if len(args) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "indexer", "no review ids given")
	}
	ids := make([]uint32, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "indexer", "bad review id %q", arg)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

func (a *app) remove(ctx context.Context, e *indexer.Engine, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	n, err := e.RemoveReviews(ctx, ids)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"removed": n}, fmt.Sprintf("%d reviews removed\n", n))
}

type termResult struct {
	Term     string     `json:"term"`
	Postings [][2]int64 `json:"postings"`
}

func (a *app) query(ctx context.Context, e *indexer.Engine, words []string) error {
	if len(words) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "indexer", "no query words given")
	}
	results := make([]termResult, 0, len(words))
	var text []byte
	for _, w := range words {
		pl, err := e.QueryTerm(ctx, w)
		if err != nil {
			return err
		}
		res := termResult{Term: w, Postings: make([][2]int64, 0, len(pl))}
		text = fmt.Appendf(text, "%s: %d reviews\n", w, len(pl))
		for _, p := range pl {
			res.Postings = append(res.Postings, [2]int64{int64(p.DocID), int64(p.Frequency)})
			text = fmt.Appendf(text, "  %d\t%d\n", p.DocID, p.Frequency)
		}
		results = append(results, res)
	}
	return a.print(results, string(text))
}

type reviewResult struct {
	ID                     uint32 `json:"id"`
	Found                  bool   `json:"found"`
	ProductID              string `json:"productId,omitempty"`
	Score                  uint8  `json:"score,omitempty"`
	HelpfulnessNumerator   uint32 `json:"helpfulnessNumerator,omitempty"`
	HelpfulnessDenominator uint32 `json:"helpfulnessDenominator,omitempty"`
	Length                 uint32 `json:"length,omitempty"`
}

func (a *app) review(e *indexer.Engine, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	var results []reviewResult
	var text []byte
	for _, id := range ids {
		rec, ok, err := e.Review(id)
		if err != nil {
			return err
		}
		if !ok {
			results = append(results, reviewResult{ID: id})
			text = fmt.Appendf(text, "%d: not found\n", id)
			continue
		}
		results = append(results, reviewResult{
			ID:                     id,
			Found:                  true,
			ProductID:              rec.ProductID,
			Score:                  rec.Score,
			HelpfulnessNumerator:   rec.HelpfulnessNumerator,
			HelpfulnessDenominator: rec.HelpfulnessDenominator,
			Length:                 rec.Length,
		})
		text = fmt.Appendf(text, "%d: product=%s score=%d helpfulness=%d/%d length=%d\n",
			id, rec.ProductID, rec.Score, rec.HelpfulnessNumerator, rec.HelpfulnessDenominator, rec.Length)
	}
	return a.print(results, string(text))
}

func (a *app) product(e *indexer.Engine, args []string) error {
	if len(args) != 1 {
		return apperrors.New(apperrors.ErrInvalidInput, "indexer", "product takes exactly one product id")
	}
	ids, err := e.ProductReviews(args[0])
	if err != nil {
		return err
	}
	var text []byte
	for _, id := range ids {
		text = fmt.Appendf(text, "%d\n", id)
	}
	return a.print(map[string]any{"productId": args[0], "reviews": ids}, string(text))
}

func (a *app) stats(e *indexer.Engine) error {
	live, err := e.NumberOfReviews()
	if err != nil {
		return err
	}
	tokens, err := e.TokenSizeOfReviews()
	if err != nil {
		return err
	}
	segs := e.Segments()
	text := fmt.Appendf(nil, "mode: %s\nlive reviews: %d\ntokens: %d\nsegments: %d\n", e.Mode(), live, tokens, len(segs))
	for _, s := range segs {
		text = fmt.Appendf(text, "  %s\ttier=%d\tdocs=%d\n", s.Name, s.Tier, s.Docs)
	}
	return a.print(map[string]any{
		"mode":        e.Mode(),
		"liveReviews": live,
		"tokens":      tokens,
		"segments":    segs,
	}, string(text))
}

func (a *app) consume(ctx context.Context, e *indexer.Engine) error {
	handler := consumer.HandleBatch(e, a.metrics)
	kc := kafka.NewConsumer(a.cfg.Kafka, handler)
	ic := consumer.New(kc)
	slog.Info("consuming review events",
		"topic", a.cfg.Kafka.Topic,
		"group", a.cfg.Kafka.ConsumerGroup,
		"batch_size", a.cfg.Kafka.BatchSize,
	)
	return ic.Start(ctx)
}

func (a *app) publish(ctx context.Context, input string) error {
	if err := requireInput(input); err != nil {
		return err
	}
	p := kafka.NewProducer(a.cfg.Kafka)
	defer p.Close()

	var batch []kafka.Event
	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.PublishBatch(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	published := 0
	err := reviews.FileSource{Path: input}.Scan(func(r reviews.Review) error {
		// One key keeps every event on one partition, in file order.
		batch = append(batch, kafka.Event{
			Key:   a.cfg.Indexer.DataDir,
			Value: consumer.Event{Op: consumer.OpInsert, Review: &r},
		})
		published++
		if len(batch) >= a.cfg.Kafka.BatchSize {
			return send()
		}
		return nil
	})
	if err == nil {
		err = send()
	}
	if err != nil {
		return err
	}
	return a.print(map[string]any{"published": published}, fmt.Sprintf("%d events published\n", published))
}

func (a *app) print(v any, text string) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := io.WriteString(a.out, text)
	return err
}
