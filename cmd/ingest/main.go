// Command ingest builds explanation records for patient feature rows and
// persists them to the store. It runs once over a JSON-lines file, or as a
// NATS consumer of build requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-health/engine/explain"
	"github.com/WessleyAI/wessley-health/engine/ingest"
	"github.com/WessleyAI/wessley-health/engine/model"
	"github.com/WessleyAI/wessley-health/engine/store"
	"github.com/WessleyAI/wessley-health/engine/vindex"
	"github.com/WessleyAI/wessley-health/pkg/fn"
	"github.com/WessleyAI/wessley-health/pkg/metrics"
)

type options struct {
	modelPath   string
	paramsPath  string
	trainPath   string
	input       string
	storeMode   string
	indexPath   string
	fallback    string
	records     string
	natsURL     string
	consume     bool
	workers     int
	samples     int
	seed        uint64
	metricsAddr string
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.modelPath, "model", "heart_disease_model.json", "classifier coefficients (JSON)")
	flag.StringVar(&o.paramsPath, "params", "lime_explainer_params.json", "explainer parameters (JSON)")
	flag.StringVar(&o.trainPath, "train", "lime_training_data.npy", "training distribution (.npy)")
	flag.StringVar(&o.input, "input", "-", "JSON-lines build requests, - for stdin")
	flag.StringVar(&o.storeMode, "store-mode", os.Getenv("STORE_MODE"), "fallback or keyed")
	flag.StringVar(&o.indexPath, "index", "vector_db.index", "similarity index file")
	flag.StringVar(&o.fallback, "fallback", "fallback.json", "fallback record file")
	flag.StringVar(&o.records, "records", "records.json", "keyed records file (keyed mode)")
	flag.StringVar(&o.natsURL, "nats", os.Getenv("NATS_URL"), "NATS URL; announces built records when set")
	flag.BoolVar(&o.consume, "consume", false, "consume build requests from NATS instead of -input")
	flag.IntVar(&o.workers, "workers", 1, "concurrent builds in batch mode")
	flag.IntVar(&o.samples, "samples", explain.DefaultOptions().NumSamples, "explainer neighbourhood size")
	flag.Uint64Var(&o.seed, "seed", 1, "explainer sampling seed")
	flag.StringVar(&o.metricsAddr, "metrics", "", "serve /metrics on this address")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, log); err != nil {
		log.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, log *slog.Logger) error {
	m, err := model.Load(o.modelPath)
	if err != nil {
		return err
	}
	params, err := explain.LoadParams(o.paramsPath)
	if err != nil {
		return err
	}
	train, err := explain.LoadTrainingData(o.trainPath)
	if err != nil {
		return err
	}
	limeOpts := explain.DefaultOptions()
	limeOpts.NumSamples = o.samples
	limeOpts.Seed = o.seed
	lime, err := explain.NewLime(train, params, limeOpts)
	if err != nil {
		return err
	}

	reg := metrics.New()
	if o.metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(o.metricsAddr, reg.Handler()); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	st, err := openStore(o, log, reg)
	if err != nil {
		return err
	}

	deps := ingest.Deps{
		Model:     m,
		Explainer: explain.NewBuilder(lime, explain.WithLogger(log)),
		Store:     st,
		Retry:     fn.DefaultRetry,
		Logger:    log,
	}

	var nc *nats.Conn
	if o.natsURL != "" {
		nc, err = nats.Connect(o.natsURL, nats.Name("health-ingest"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		deps.Publisher = nc
	}

	if o.consume {
		if nc == nil {
			return fmt.Errorf("-consume needs -nats")
		}
		if _, err := ingest.StartConsumer(nc, deps); err != nil {
			return err
		}
		log.Info("consuming build requests", "subject", ingest.BuildSubject, "store_mode", st.Mode().String())
		<-ctx.Done()
		return nil
	}

	var in io.Reader = os.Stdin
	if o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	sum, err := runBatch(ctx, in, ingest.NewPipeline(deps), o.workers, reg, log)
	if err != nil {
		return err
	}
	log.Info("batch done", "built", sum.built, "failed", sum.failed, "skipped", sum.skipped)
	if sum.failed > 0 {
		return fmt.Errorf("%d of %d requests failed", sum.failed, sum.built+sum.failed)
	}
	return nil
}

func openStore(o options, log *slog.Logger, reg *metrics.Registry) (*store.Store, error) {
	mode, err := store.ParseMode(o.storeMode)
	if err != nil {
		return nil, err
	}
	opts := store.Options{
		Mode:         mode,
		FallbackPath: o.fallback,
		Logger:       log,
	}
	if mode == store.PayloadKeyed {
		opts.Records = store.NewFileRecords(o.records)
	}
	st, err := store.New(vindex.NewFileProvider(o.indexPath), opts)
	if err != nil {
		return nil, err
	}
	reg.Gauge("health_ingest_keyed_mode", "1 when records are keyed by user").Set(int64(mode))
	return st, nil
}
