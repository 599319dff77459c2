// Package sink accumulates listing records and flushes them as compressed
// NDJSON objects, one object per flush.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/metrics"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
)

// PutObjectAPI is the subset of the S3 client the sink needs. The concrete
// *s3.Client satisfies it; tests substitute fakes.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds sink settings.
type Config struct {
	Bucket    string
	Prefix    string        // object-key prefix (default "records")
	Codec     string        // "zstd" or "gzip" (default "zstd")
	BufferMax int           // flush when the buffer reaches this size (default 500)
	FlushAge  time.Duration // flush when the buffer is older than this (default 10s)
	Tick      time.Duration // flusher wake interval (default 1s)
	ShedCap   int           // safety cap before oldest records are shed (default 20 x BufferMax)
}

// Sink is the shared batch buffer. Workers append; the flusher drains.
type Sink struct {
	api     PutObjectAPI
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	buf       []models.Record
	lastFlush time.Time
	now       func() time.Time
}

// New creates a sink, applying defaults for zero config values.
func New(api PutObjectAPI, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Sink {
	if cfg.Prefix == "" {
		cfg.Prefix = "records"
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecZstd
	}
	if cfg.BufferMax == 0 {
		cfg.BufferMax = 500
	}
	if cfg.FlushAge == 0 {
		cfg.FlushAge = 10 * time.Second
	}
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	if cfg.ShedCap == 0 {
		cfg.ShedCap = 20 * cfg.BufferMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		api:     api,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "sink"),
		now:     time.Now,
	}
}

// Append adds one record to the buffer. When the safety cap is exceeded the
// oldest records are shed with a warning so a dead store cannot exhaust
// memory.
func (s *Sink) Append(rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= s.cfg.ShedCap {
		drop := len(s.buf) - s.cfg.ShedCap + 1
		s.buf = s.buf[drop:]
		s.metrics.RecordsShed.Add(float64(drop))
		s.logger.Warn("buffer over safety cap, shedding oldest records",
			"shed", drop,
			"cap", s.cfg.ShedCap,
		)
	}
	s.buf = append(s.buf, rec)
	s.metrics.BufferSize.Set(float64(len(s.buf)))
}

// Run is the flusher loop: it wakes every tick and flushes when the buffer is
// non-empty and either full or stale. On shutdown it performs one final drain
// with a fresh context so buffered records are not lost.
func (s *Sink) Run(ctx context.Context) error {
	s.mu.Lock()
	s.lastFlush = s.now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Flush(drainCtx); err != nil {
				s.logger.Error("final drain failed", "error", err)
			}
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick flushes when len >= BufferMax or age > FlushAge. A tick with an empty
// buffer performs no storage write.
func (s *Sink) tick(ctx context.Context) {
	s.mu.Lock()
	size := len(s.buf)
	stale := s.now().Sub(s.lastFlush) > s.cfg.FlushAge
	if size == 0 || (size < s.cfg.BufferMax && !stale) {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	s.flushBatch(ctx, batch)
}

// Flush drains the buffer unconditionally. Used for the shutdown drain.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.flushBatch(ctx, batch)
}

// flushBatch writes one object for the batch. The write is atomic at the
// object level: on failure the whole batch goes back to the front of the
// buffer for the next tick.
func (s *Sink) flushBatch(ctx context.Context, batch []models.Record) error {
	payload, err := encodeNDJSON(batch)
	if err != nil {
		// Records that cannot serialize can never flush; drop them loudly.
		s.metrics.RecordsShed.Add(float64(len(batch)))
		s.logger.Error("dropping unserializable batch", "records", len(batch), "error", err)
		return err
	}

	blob, ext, encoding, err := Compress(payload, s.cfg.Codec)
	if err != nil {
		s.requeue(batch)
		s.metrics.FlushFailures.Inc()
		s.logger.Error("compression failed, batch retained", "records", len(batch), "error", err)
		return err
	}

	now := s.now().UTC()
	key := fmt.Sprintf("%s/%s/part-%s-%d.ndjson.%s",
		s.cfg.Prefix, now.Format("20060102"), now.Format("150405"), now.UnixMilli(), ext)

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(blob),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String(encoding),
	})
	if err != nil {
		s.requeue(batch)
		s.metrics.FlushFailures.Inc()
		s.logger.Error("flush failed, batch retained", "records", len(batch), "key", key, "error", err)
		return fmt.Errorf("failed to put batch object: %w", err)
	}

	s.mu.Lock()
	s.lastFlush = s.now()
	s.metrics.BufferSize.Set(float64(len(s.buf)))
	s.mu.Unlock()
	s.metrics.Flushes.Inc()

	s.logger.Info("flushed records",
		"records", len(batch),
		"key", key,
		"bytes", len(blob),
		"codec", s.cfg.Codec,
	)
	return nil
}

// requeue puts a failed batch back at the front so append order survives.
func (s *Sink) requeue(batch []models.Record) {
	s.mu.Lock()
	s.buf = append(batch, s.buf...)
	s.metrics.BufferSize.Set(float64(len(s.buf)))
	s.mu.Unlock()
}

// Len returns the current buffer size.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
