// Package fetch issues HTTPS GETs through the proxy pool with bounded retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Result is one fetched page. Immutable; lives for one request.
type Result struct {
	Status   int
	Body     string
	FinalURL string
}

// Transient statuses are retried with linear backoff; anything else outside
// 2xx fails immediately.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ErrExhausted is returned when every attempt hit a transient failure.
var ErrExhausted = errors.New("fetch: attempts exhausted")

// ErrPermanentStatus is returned for non-retryable non-2xx responses.
var ErrPermanentStatus = errors.New("fetch: permanent status")

// Config holds fetcher settings.
type Config struct {
	Timeout     time.Duration // per-request timeout (default 25s)
	Attempts    int           // total attempts including the first (default 5)
	BackoffUnit time.Duration // sleep = BackoffUnit x (attempt+1) (default 500ms)
}

// Fetcher issues GETs with retry on transient statuses and transport errors.
// One Fetcher is shared by all workers; HTTP clients are cached per proxy URL
// so connections are pooled and HTTP/2 is negotiated where available.
type Fetcher struct {
	timeout     time.Duration
	attempts    int
	backoffUnit time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New creates a Fetcher, applying defaults for zero config values.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.BackoffUnit == 0 {
		cfg.BackoffUnit = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		timeout:     cfg.Timeout,
		attempts:    cfg.Attempts,
		backoffUnit: cfg.BackoffUnit,
		sleep:       sleepCtx,
		logger:      logger.With("component", "fetch"),
		clients:     make(map[string]*http.Client),
	}
}

// Do fetches rawURL through proxyURL (empty means direct) with the given
// headers, following redirects. A 2xx returns the body; statuses in the
// transient set and transport errors are retried with sleep
// BackoffUnit x (attempt+1); other statuses fail immediately.
func (f *Fetcher) Do(ctx context.Context, rawURL, proxyURL string, headers map[string]string) (*Result, error) {
	client, err := f.clientFor(proxyURL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		res, err := f.once(ctx, client, rawURL, headers)
		if err != nil {
			lastErr = err
			if attempt == f.attempts-1 {
				break
			}
			f.logger.Debug("retrying after transport error", "url", rawURL, "attempt", attempt, "error", err)
			if serr := f.sleep(ctx, f.backoff(attempt)); serr != nil {
				return nil, serr
			}
			continue
		}
		if retryStatus[res.Status] {
			lastErr = fmt.Errorf("transient status %d", res.Status)
			f.logger.Debug("retrying after transient status", "url", rawURL, "attempt", attempt, "status", res.Status)
			if serr := f.sleep(ctx, f.backoff(attempt)); serr != nil {
				return nil, serr
			}
			continue
		}
		if res.Status >= 200 && res.Status < 300 {
			return res, nil
		}
		return nil, fmt.Errorf("%w: %d fetching %s", ErrPermanentStatus, res.Status, rawURL)
	}

	return nil, fmt.Errorf("%w after %d attempts fetching %s: %w", ErrExhausted, f.attempts, rawURL, lastErr)
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	return f.backoffUnit * time.Duration(attempt+1)
}

func (f *Fetcher) once(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Spoofed headers advertise Accept-Encoding explicitly, which turns off
	// the transport's transparent gzip handling. Decode here so callers
	// always see the page bytes.
	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &Result{
		Status:   resp.StatusCode,
		Body:     string(body),
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// decodeBody wraps the response body with the decoder for its
// Content-Encoding. The header is absent when the transport already
// decompressed, or when the origin sent identity.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// clientFor returns the shared client for a proxy URL, creating it on first
// use. The empty key is the direct client.
func (f *Fetcher) clientFor(proxyURL string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[proxyURL]; ok {
		return client, nil
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	client := &http.Client{Transport: transport}
	f.clients[proxyURL] = client
	return client, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
