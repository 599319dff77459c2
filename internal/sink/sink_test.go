package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/metrics"
	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
)

type capturedPut struct {
	key      string
	body     []byte
	encoding string
}

type fakeS3 struct {
	puts []capturedPut
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, capturedPut{
		key:      aws.ToString(in.Key),
		body:     body,
		encoding: aws.ToString(in.ContentEncoding),
	})
	return &s3.PutObjectOutput{}, nil
}

func newTestSink(t *testing.T, api PutObjectAPI, cfg Config) *Sink {
	t.Helper()
	cfg.Bucket = "scraped-records"
	m := metrics.New(prometheus.NewRegistry())
	return New(api, cfg, m, nil)
}

func record(i int) models.Record {
	return models.Record{"listing_id": fmt.Sprintf("M%d", i), "url": "https://www.realtor.com/x"}
}

func decompressZstd(t *testing.T, blob []byte) string {
	t.Helper()
	zr, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("zstd decompress: %v", err)
	}
	return string(out)
}

// ========================================
// NDJSON Encoding Tests
// ========================================

func TestEncodeNDJSON(t *testing.T) {
	payload, err := encodeNDJSON([]models.Record{
		{"listing_id": "M1", "property_description": "<b>3 bed</b> & more"},
		{"listing_id": "M2"},
	})
	if err != nil {
		t.Fatalf("encodeNDJSON error = %v", err)
	}

	s := string(payload)
	if strings.HasSuffix(s, "\n") {
		t.Error("payload ends with a newline, want trimmed")
	}
	lines := strings.Split(s, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "<b>3 bed</b> & more") {
		t.Errorf("line 0 = %q, want unescaped HTML", lines[0])
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("line 1 does not parse: %v", err)
	}
	if rec["listing_id"] != "M2" {
		t.Errorf("line 1 listing_id = %v", rec["listing_id"])
	}
}

// ========================================
// Compression Tests
// ========================================

func TestCompress_ZstdRoundTrip(t *testing.T) {
	blob, ext, encoding, err := Compress([]byte("payload"), CodecZstd)
	if err != nil {
		t.Fatalf("Compress error = %v", err)
	}
	if ext != "zst" || encoding != "zstd" {
		t.Errorf("ext=%q encoding=%q, want zst/zstd", ext, encoding)
	}
	if got := decompressZstd(t, blob); got != "payload" {
		t.Errorf("round trip = %q", got)
	}
}

func TestCompress_GzipRoundTrip(t *testing.T) {
	blob, ext, encoding, err := Compress([]byte("payload"), CodecGzip)
	if err != nil {
		t.Fatalf("Compress error = %v", err)
	}
	if ext != "gz" || encoding != "gzip" {
		t.Errorf("ext=%q encoding=%q, want gz/gzip", ext, encoding)
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gzip decompress: %v", err)
	}
	if string(out) != "payload" {
		t.Errorf("round trip = %q", out)
	}
}

func TestCompress_UnknownCodec(t *testing.T) {
	if _, _, _, err := Compress([]byte("x"), "lz4"); err == nil {
		t.Fatal("Compress should reject unknown codecs")
	}
}

// ========================================
// Flush Trigger Tests
// ========================================

func TestTick_EmptyBufferWritesNothing(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{})
	s.lastFlush = s.now()

	s.tick(context.Background())
	if len(api.puts) != 0 {
		t.Errorf("puts = %d, want none for an empty buffer", len(api.puts))
	}
}

func TestTick_BelowMaxAndFreshHoldsRecords(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 10})
	s.lastFlush = s.now()

	s.Append(record(1))
	s.tick(context.Background())

	if len(api.puts) != 0 {
		t.Errorf("puts = %d, want none while fresh and below max", len(api.puts))
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestTick_FlushesOnSize(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 3})
	s.lastFlush = s.now()

	for i := 0; i < 3; i++ {
		s.Append(record(i))
	}
	s.tick(context.Background())

	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(api.puts))
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want drained", s.Len())
	}

	lines := strings.Split(decompressZstd(t, api.puts[0].body), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d does not parse: %v", i, err)
		}
		if want := fmt.Sprintf("M%d", i); rec["listing_id"] != want {
			t.Errorf("line %d listing_id = %v, want %v (append order)", i, rec["listing_id"], want)
		}
	}
}

func TestTick_FlushesOnAge(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 100, FlushAge: 10 * time.Second})
	base := time.Now()
	s.lastFlush = base
	s.now = func() time.Time { return base.Add(11 * time.Second) }

	s.Append(record(1))
	s.tick(context.Background())

	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1 for a stale buffer", len(api.puts))
	}
}

func TestFlushBatch_KeyLayout(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 1})
	s.lastFlush = s.now()

	s.Append(record(1))
	s.tick(context.Background())

	key := api.puts[0].key
	re := regexp.MustCompile(`^records/\d{8}/part-\d{6}-\d+\.ndjson\.zst$`)
	if !re.MatchString(key) {
		t.Errorf("key = %q, want to match %v", key, re)
	}
	if api.puts[0].encoding != "zstd" {
		t.Errorf("ContentEncoding = %q, want zstd", api.puts[0].encoding)
	}
}

func TestFlushBatch_GzipCodec(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 1, Codec: CodecGzip})
	s.lastFlush = s.now()

	s.Append(record(1))
	s.tick(context.Background())

	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(api.puts))
	}
	if !strings.HasSuffix(api.puts[0].key, ".ndjson.gz") {
		t.Errorf("key = %q, want .ndjson.gz suffix", api.puts[0].key)
	}
	if api.puts[0].encoding != "gzip" {
		t.Errorf("ContentEncoding = %q, want gzip", api.puts[0].encoding)
	}
}

// ========================================
// Failure Handling Tests
// ========================================

func TestFlushBatch_PutFailureRetainsBatch(t *testing.T) {
	api := &fakeS3{err: errors.New("slowdown")}
	s := newTestSink(t, api, Config{BufferMax: 2})
	s.lastFlush = s.now()

	s.Append(record(0))
	s.Append(record(1))
	s.tick(context.Background())

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 retained after a failed put", s.Len())
	}

	// Store recovers; the retained batch flushes on the next tick.
	api.err = nil
	s.tick(context.Background())
	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1 after recovery", len(api.puts))
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want drained", s.Len())
	}
	lines := strings.Split(decompressZstd(t, api.puts[0].body), "\n")
	if len(lines) != 2 {
		t.Errorf("lines = %d, want both retained records", len(lines))
	}
}

func TestAppend_ShedsOldestOverCap(t *testing.T) {
	s := newTestSink(t, &fakeS3{}, Config{BufferMax: 2, ShedCap: 4})
	s.lastFlush = s.now()

	for i := 0; i < 6; i++ {
		s.Append(record(i))
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want held at the cap", s.Len())
	}
	if s.buf[0]["listing_id"] != "M2" {
		t.Errorf("oldest retained = %v, want M2 after shedding M0 and M1", s.buf[0]["listing_id"])
	}
}

// ========================================
// Shutdown Drain Tests
// ========================================

func TestRun_DrainsOnShutdown(t *testing.T) {
	api := &fakeS3{}
	s := newTestSink(t, api, Config{BufferMax: 100, Tick: time.Hour})

	s.Append(record(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want final drain", len(api.puts))
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want drained", s.Len())
	}
}
