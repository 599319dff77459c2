// Package models defines the listing record and its derivation rules.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Parser provenance values carried on every record.
const (
	ParserRules    = "rules"
	ParserRulesLLM = "rules+llm"
)

// FieldNames is the fixed extraction schema. Every record carries these keys;
// values stay nil until a parser fills them.
var FieldNames = []string{
	"price",
	"beds",
	"baths",
	"sqft",
	"lot_size_sqft",
	"address_street",
	"address_city",
	"address_state",
	"address_zip",
	"property_type",
	"year_built",
	"agent_name",
	"brokerage_name",
	"property_description",
}

// Fields holds extracted listing attributes keyed by schema name. Optional
// keys returned by the LLM fallback are carried verbatim alongside the schema.
type Fields map[string]any

// NewFields returns a Fields map with every schema key present and nil.
func NewFields() Fields {
	f := make(Fields, len(FieldNames))
	for _, name := range FieldNames {
		f[name] = nil
	}
	return f
}

// AnyPopulated reports whether at least one field carries a populated value.
func (f Fields) AnyPopulated() bool {
	for _, v := range f {
		if Truthy(v) {
			return true
		}
	}
	return false
}

// ApplyLLM overwrites fields with non-nil values from an LLM extraction,
// carrying unknown keys verbatim. It reports whether anything changed.
func (f Fields) ApplyLLM(out map[string]any) bool {
	changed := false
	for k, v := range out {
		if v == nil {
			continue
		}
		f[k] = v
		changed = true
	}
	return changed
}

// Truthy reports whether v counts as a populated field value. nil, empty
// strings, zero numbers, false, and empty collections are all unpopulated.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Record is a finalized listing as written to storage. It is a flat map so
// optional LLM attributes serialize next to the fixed schema.
type Record map[string]any

// ListingID derives the id from the trailing _<id> URL segment, falling back
// to the first 12 hex chars of the URL's SHA-256.
func ListingID(url string) string {
	if i := strings.LastIndex(url, "_"); i >= 0 {
		if id := url[i+1:]; id != "" {
			return id
		}
	}
	return hashHex(url)[:12]
}

// ContentHash is the first 16 hex chars of the SHA-256 of the fetched HTML.
func ContentHash(html string) string {
	return hashHex(html)[:16]
}

// Finalize stamps provenance onto extracted fields and produces the record.
// ts records the moment extraction completed, not fetch start.
func Finalize(url, html string, fields Fields, llmUsed bool) Record {
	rec := make(Record, len(fields)+6)
	for k, v := range fields {
		rec[k] = v
	}

	parser := ParserRules
	if llmUsed {
		parser = ParserRulesLLM
	}
	confidence := 0.4
	if fields.AnyPopulated() {
		confidence = 0.8
	}

	rec["listing_id"] = ListingID(url)
	rec["url"] = url
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["content_hash"] = ContentHash(html)
	rec["parser_used"] = parser
	rec["confidence"] = confidence
	return rec
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
