// Package config handles worker configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all worker configuration, loaded from environment variables.
type Config struct {
	// AWS
	AWSRegion string
	QueueURL  string
	S3Bucket  string

	// Egress
	ProxyURL       string // base proxy gateway; empty means direct requests
	RequestTimeout time.Duration
	RetryLimit     int           // total fetch attempts
	BackoffBase    time.Duration // reserved; current retry curve is 500ms x attempt

	// LLM fallback
	GeminiAPIKey string // empty disables the LLM fallback

	// Concurrency
	MaxConcurrency int

	// Queue polling
	SQSWaitTime  time.Duration // long-poll wait
	SQSIdleSleep time.Duration // sleep when the queue returns no messages

	// Batch sink
	S3PrefixRecords string
	CompressCodec   string // "zstd" or "gzip"
	BufferMax       int
	BufferFlushAge  time.Duration

	// Ops listener (health + metrics); empty disables it
	OpsAddr string
}

// Load reads configuration from environment variables. It returns an error
// when a required variable is missing or a value is out of range.
func Load() (*Config, error) {
	cfg := &Config{
		AWSRegion: getEnv("AWS_REGION", "us-east-2"),
		QueueURL:  getEnv("QUEUE_URL", ""),
		S3Bucket:  getEnv("S3_BUCKET", ""),

		ProxyURL:       getEnv("PROXY_URL", ""),
		RequestTimeout: secondsEnv("REQUEST_TIMEOUT_S", 25),
		RetryLimit:     getEnvInt("RETRY_LIMIT", 5),
		BackoffBase:    time.Duration(getEnvInt("BACKOFF_BASE_MS", 250)) * time.Millisecond,

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 200),

		SQSWaitTime:  secondsEnv("SQS_WAIT_TIME_SECONDS", 5),
		SQSIdleSleep: secondsEnv("SQS_IDLE_SLEEP_S", 0.5),

		S3PrefixRecords: getEnv("S3_PREFIX_RECORDS", "records"),
		CompressCodec:   getEnv("COMPRESS_CODEC", "zstd"),
		BufferMax:       getEnvInt("BUFFER_MAX", 500),
		BufferFlushAge:  secondsEnv("BUFFER_FLUSH_SECONDS", 10),

		OpsAddr: getEnv("OPS_ADDR", ":9090"),
	}

	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QUEUE_URL is required")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.CompressCodec != "zstd" && cfg.CompressCodec != "gzip" {
		return nil, fmt.Errorf("COMPRESS_CODEC must be zstd or gzip, got %q", cfg.CompressCodec)
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", cfg.MaxConcurrency)
	}
	if cfg.RetryLimit < 1 {
		return nil, fmt.Errorf("RETRY_LIMIT must be at least 1, got %d", cfg.RetryLimit)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// secondsEnv reads a fractional seconds value, e.g. SQS_IDLE_SLEEP_S=0.5.
func secondsEnv(key string, defaultSeconds float64) time.Duration {
	seconds := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = parsed
		}
	}
	return time.Duration(seconds * float64(time.Second))
}
