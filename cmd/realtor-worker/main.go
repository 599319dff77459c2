// Command realtor-worker runs the scraping worker fleet member: it consumes
// URL tasks from the queue, fetches pages through the proxy pool, extracts
// listing records, and flushes compressed batches to object storage.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/config"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/fetch"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/fingerprint"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/llm"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/logging"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/metrics"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/ops"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/proxy"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/queue"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/sink"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/worker"
)

func main() {
	logger := logging.SetDefault().With("run_id", ulid.Make().String())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	q := queue.New(sqsClient, cfg.QueueURL, cfg.SQSWaitTime)

	snk := sink.New(s3Client, sink.Config{
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3PrefixRecords,
		Codec:     cfg.CompressCodec,
		BufferMax: cfg.BufferMax,
		FlushAge:  cfg.BufferFlushAge,
	}, m, logger)

	fetcher := fetch.New(fetch.Config{
		Timeout:  cfg.RequestTimeout,
		Attempts: cfg.RetryLimit,
	}, logger)

	pool := proxy.NewPool(cfg.ProxyURL)
	if cfg.ProxyURL == "" {
		logger.Info("no proxy configured, fetching direct")
	}

	var extractor llm.Extractor = llm.Disabled{}
	if cfg.GeminiAPIKey != "" {
		extractor = llm.NewGemini(cfg.GeminiAPIKey, llm.GeminiConfig{}, logger)
	} else {
		logger.Info("no LLM key configured, fallback extraction disabled")
	}

	w := worker.New(q, fetcher, pool, fingerprint.New(), extractor, snk, m, worker.Config{
		Concurrency: cfg.MaxConcurrency,
		IdleSleep:   cfg.SQSIdleSleep,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return snk.Run(ctx) })
	g.Go(func() error { return w.Run(ctx) })
	if cfg.OpsAddr != "" {
		srv := ops.NewServer(cfg.OpsAddr, registry)
		g.Go(func() error { return ops.Run(ctx, srv, logger) })
	}

	logger.Info("worker fleet member started",
		"queue", cfg.QueueURL,
		"bucket", cfg.S3Bucket,
		"concurrency", cfg.MaxConcurrency,
		"codec", cfg.CompressCodec,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
