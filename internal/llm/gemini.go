package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel   = "gemini-1.5-pro"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	// maxHTMLChars keeps the request under the model's input limit.
	maxHTMLChars = 500_000
)

const extractionPrompt = "You are an expert real estate listing extraction bot. Read the provided HTML and return a compact JSON with these keys (missing => null). Include as much listing-specific info as available.\n" +
	"Required keys: price, beds (int), baths (int), sqft (int), lot_size_sqft (int), address_street, address_city, address_state, address_zip, property_type, year_built, agent_name, brokerage_name, property_description.\n" +
	"Also include: images (array of absolute URLs), is_foreclosure (bool), hoa_fee, property_taxes, days_on_market, mls_id, latitude, longitude, open_house (array of ISO8601 times or strings), virtual_tour_urls (array), parking, heating, cooling, flooring, amenities (array), year_renovated, listing_status, listing_source, school_info (array of objects), price_history (array), tax_history (array), lot_acres, county, parcel_number, unit_number, condo_fee, appliances (array).\n" +
	"If a field is not present, return null. Use additional_attributes (object) to store any other key information specific to the listing not covered above."

// ErrNoJSON is returned when the model output contains no JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in response")

// Gemini extracts listing fields via Gemini's OpenAI-compatible
// chat-completions endpoint.
type Gemini struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// GeminiConfig holds optional overrides; zero values take the defaults.
type GeminiConfig struct {
	BaseURL string
	Model   string
}

// NewGemini creates the Gemini-backed extractor.
func NewGemini(apiKey string, cfg GeminiConfig, logger *slog.Logger) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Gemini{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With("component", "llm"),
	}
}

// ExtractListing sends the instruction prompt and the HTML (truncated to the
// first 500k characters) and parses the JSON object embedded in the reply.
func (g *Gemini) ExtractListing(ctx context.Context, html string) (map[string]any, error) {
	if len(html) > maxHTMLChars {
		html = html[:maxHTMLChars]
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: extractionPrompt + "\n\n" + html},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty completion")
	}

	fields, err := DecodeResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("llm extraction parsed", "model", g.model, "fields", len(fields))
	return fields, nil
}

// DecodeResponse recovers the JSON object embedded in model output by taking
// the substring between the first '{' and the last '}'.
func DecodeResponse(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, ErrNoJSON
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return out, nil
}
