// Package llm provides the fallback listing extractor. The worker composes
// with the Extractor interface so a missing API key degrades to a no-op.
package llm

import "context"

// Extractor pulls listing fields out of raw page HTML.
type Extractor interface {
	// ExtractListing returns the extracted fields, or nil when extraction is
	// unavailable. Errors never abort a worker; the caller keeps whatever the
	// rules pass yielded.
	ExtractListing(ctx context.Context, html string) (map[string]any, error)
}

// Disabled is the no-op extractor used when no API key is configured.
type Disabled struct{}

// ExtractListing always returns nil without error.
func (Disabled) ExtractListing(context.Context, string) (map[string]any, error) {
	return nil, nil
}
