// Package worker glues the queue, fetch, extract and sink stages together:
// a receiver long-polls the queue onto a bounded channel, a pool of workers
// runs the fetch/classify pipeline, and the sink's flusher drains records.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/extract"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/fetch"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/fingerprint"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/llm"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/metrics"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/proxy"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/queue"
)

// Queue is the message-queue surface the worker needs.
type Queue interface {
	Receive(ctx context.Context) ([]sqstypes.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	SendBatch(ctx context.Context, urls []string) error
}

// Fetcher issues one page fetch through an optional proxy.
type Fetcher interface {
	Do(ctx context.Context, rawURL, proxyURL string, headers map[string]string) (*fetch.Result, error)
}

// Sink receives finalized records.
type Sink interface {
	Append(rec models.Record)
}

// Config holds orchestrator settings.
type Config struct {
	Concurrency int           // worker count (default 200)
	IdleSleep   time.Duration // sleep after an empty poll (default 500ms)
	ErrorSleep  time.Duration // sleep after a queue-service error (default 1s)
}

// Worker is the runtime: receiver loop, bounded worker pool, and message
// lifecycle. At-least-once semantics: a message is deleted only after its
// pipeline returns; failures leave it to reappear after the visibility
// timeout.
type Worker struct {
	queue   Queue
	fetcher Fetcher
	pool    *proxy.Pool
	headers *fingerprint.Builder
	llm     llm.Extractor
	sink    Sink
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a worker, applying defaults for zero config values.
func New(
	q Queue,
	fetcher Fetcher,
	pool *proxy.Pool,
	headers *fingerprint.Builder,
	extractor llm.Extractor,
	sink Sink,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 200
	}
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = 500 * time.Millisecond
	}
	if cfg.ErrorSleep == 0 {
		cfg.ErrorSleep = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:   q,
		fetcher: fetcher,
		pool:    pool,
		headers: headers,
		llm:     extractor,
		sink:    sink,
		metrics: m,
		cfg:     cfg,
		logger:  logger.With("component", "worker"),
	}
}

// Run starts the receiver and the worker pool and blocks until the context is
// cancelled. In-flight messages get a best-effort finish; undeleted messages
// redeliver after their visibility timeout.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting", "concurrency", w.cfg.Concurrency)

	tasks := make(chan sqstypes.Message, 2*w.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.receive(ctx, tasks)
		return nil
	})
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			w.consume(ctx, id, tasks)
			return nil
		})
	}

	err := g.Wait()
	w.logger.Info("stopped")
	return err
}

// receive long-polls the queue and pushes messages onto the bounded channel.
// A full channel blocks the push, which throttles polling.
func (w *Worker) receive(ctx context.Context, tasks chan<- sqstypes.Message) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("receive error", "error", err)
			if !sleepCtx(ctx, w.cfg.ErrorSleep) {
				return
			}
			continue
		}
		if len(msgs) == 0 {
			if !sleepCtx(ctx, w.cfg.IdleSleep) {
				return
			}
			continue
		}
		for _, m := range msgs {
			select {
			case tasks <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context, id int, tasks <-chan sqstypes.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-tasks:
			w.handle(ctx, id, m)
		}
	}
}

// handle runs the lifecycle for one message:
// received -> in_flight -> (record | children | neither) -> deleted.
// A processing failure leaves the message undeleted for redelivery.
func (w *Worker) handle(ctx context.Context, id int, m sqstypes.Message) {
	receipt := aws.ToString(m.ReceiptHandle)

	task, err := queue.ParseTask(aws.ToString(m.Body))
	if err != nil || task.URLToScrape == "" {
		// Malformed bodies can never succeed; delete to stop redelivery.
		w.logger.Warn("dropping malformed task body",
			"worker_id", id,
			"message_id", aws.ToString(m.MessageId),
			"error", err,
		)
		w.delete(ctx, receipt)
		return
	}

	rec, err := w.process(ctx, task.URLToScrape)
	if err != nil {
		w.metrics.MessagesAbandoned.Inc()
		w.logger.Warn("processing failed, message left for redelivery",
			"worker_id", id,
			"url", task.URLToScrape,
			"error", err,
		)
		return
	}
	if rec != nil {
		w.sink.Append(rec)
		w.metrics.Records.WithLabelValues(rec["parser_used"].(string)).Inc()
	}
	w.delete(ctx, receipt)
}

func (w *Worker) delete(ctx context.Context, receipt string) {
	if err := w.queue.Delete(ctx, receipt); err != nil {
		// The record (if any) is already buffered; a failed delete only means
		// a duplicate delivery later.
		w.logger.Warn("delete failed", "error", err)
		return
	}
	w.metrics.MessagesDeleted.Inc()
}

// process fetches one URL and runs the index or detail path. It returns a
// record for detail pages and nil for index pages.
func (w *Worker) process(ctx context.Context, url string) (models.Record, error) {
	headers := w.headers.BuildHeaders()

	ep := w.pool.Select()
	proxyURL := ""
	if ep != nil {
		proxyURL = ep.URL
	}

	res, err := w.fetcher.Do(ctx, url, proxyURL, headers)
	if err != nil {
		w.pool.MarkFailure(ep)
		w.metrics.FetchOutcomes.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	w.pool.MarkSuccess(ep)
	w.metrics.FetchOutcomes.WithLabelValues("success").Inc()

	if extract.IsIndex(url) {
		w.metrics.PagesClassified.WithLabelValues("index").Inc()
		w.discover(ctx, url, res.Body)
		return nil, nil
	}
	w.metrics.PagesClassified.WithLabelValues("detail").Inc()

	fields := extract.Rules(res.Body)
	llmUsed := false
	if !fields.AnyPopulated() {
		out, err := w.llm.ExtractListing(ctx, res.Body)
		if err != nil {
			// The record proceeds with whatever the rules yielded.
			w.logger.Debug("llm fallback failed", "url", url, "error", err)
		} else if out != nil {
			llmUsed = fields.ApplyLLM(out)
		}
	}

	return models.Finalize(url, res.Body, fields, llmUsed), nil
}

// discover enqueues detail links found on an index page. Enqueue failures are
// logged and swallowed; the index page is not re-queued.
func (w *Worker) discover(ctx context.Context, url, body string) {
	links := extract.DetailLinks(body)
	if len(links) == 0 {
		w.metrics.IndexPagesWithoutLinks.Inc()
		w.logger.Debug("index page yielded no detail links", "url", url)
		return
	}
	if err := w.queue.SendBatch(ctx, links); err != nil {
		w.logger.Warn("discovery enqueue failed", "url", url, "links", len(links), "error", err)
		return
	}
	w.metrics.DiscoveryEnqueued.Add(float64(len(links)))
	w.logger.Debug("enqueued discovered links", "url", url, "links", len(links))
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
