package sink

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
)

// Supported compression codecs.
const (
	CodecZstd = "zstd"
	CodecGzip = "gzip"
)

const (
	zstdLevel = 10
	gzipLevel = 6
)

// encodeNDJSON serializes records as newline-delimited compact JSON, UTF-8
// without HTML escaping and without a trailing newline.
func encodeNDJSON(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Compress compresses the payload with the configured codec and returns the
// blob, the object-key extension, and the Content-Encoding value.
func Compress(payload []byte, codec string) (blob []byte, ext, encoding string, err error) {
	var out bytes.Buffer
	switch codec {
	case CodecGzip:
		zw, err := gzip.NewWriterLevel(&out, gzipLevel)
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, "", "", fmt.Errorf("failed to gzip payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, "", "", fmt.Errorf("failed to finish gzip payload: %w", err)
		}
		return out.Bytes(), "gz", CodecGzip, nil
	case CodecZstd:
		zw, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if _, err := zw.Write(payload); err != nil {
			zw.Close()
			return nil, "", "", fmt.Errorf("failed to zstd payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, "", "", fmt.Errorf("failed to finish zstd payload: %w", err)
		}
		return out.Bytes(), "zst", CodecZstd, nil
	default:
		return nil, "", "", fmt.Errorf("unknown codec %q", codec)
	}
}
