// Package fingerprint produces randomized header sets that mimic a desktop
// browser. The set of headers is fixed; the values vary per call.
package fingerprint

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/corpix/uarand"
)

// UAProvider supplies user-agent strings. The zero provider is the uarand
// corpus; a curated fallback list covers the empty case.
type UAProvider interface {
	UserAgent() string
}

type libraryProvider struct{}

func (libraryProvider) UserAgent() string { return uarand.GetRandom() }

// fallbackAgents covers Windows, macOS and Linux on a Chromium-class agent.
var fallbackAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8,es;q=0.6",
}

// Builder produces header maps for outgoing fetches.
type Builder struct {
	ua UAProvider
}

// New creates a Builder backed by the user-agent library.
func New() *Builder {
	return &Builder{ua: libraryProvider{}}
}

// NewWithProvider creates a Builder with an injected user-agent source.
func NewWithProvider(p UAProvider) *Builder {
	return &Builder{ua: p}
}

// BuildHeaders returns a fresh header map on each call. The set of headers is
// what a plain Chromium-class browser emits for a top-level navigation.
// Accept-Encoding names only the encodings the fetcher can decode.
func (b *Builder) BuildHeaders() map[string]string {
	ua := b.ua.UserAgent()
	if ua == "" {
		ua = fallbackAgents[rand.Intn(len(fallbackAgents))]
	}
	lang := acceptLanguages[rand.Intn(len(acceptLanguages))]

	return map[string]string{
		"User-Agent":                ua,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           lang,
		"Accept-Encoding":           "gzip, deflate",
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"DNT":                       "1",
		"Sec-CH-UA":                 `"Chromium";v="124", "Not.A/Brand";v="24"`,
		"Sec-CH-UA-Mobile":          "?0",
		"Sec-CH-UA-Platform":        `"macOS"`,
		"Upgrade-Insecure-Requests": "1",
		"Referer":                   "https://www.google.com/search?q=realtor",
		"X-Request-Time":            strconv.FormatInt(time.Now().Unix(), 10),
	}
}
