// Package anthropic implements extractor.Extractor against the Anthropic
// Messages API, following the teacher's client-construction idiom
// (option.WithAPIKey/option.WithBaseURL over the official SDK) rather than
// hand-rolled HTTP.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingestctl/internal/config"
	"ingestctl/internal/extractor"
	"ingestctl/internal/ingesterr"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Client struct {
	client anthropic.Client
}

func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: anthropic.NewClient(opts...)}
}

const systemPrompt = `You extract concepts, relationships, and verbatim evidence quotes from a
document chunk for a knowledge graph. Respond with a single JSON object with
exactly the keys "concepts", "instances", "relationships". Concept ids are
kebab-case ASCII. Quotes must be verbatim substrings of the chunk. Confidence
values are in [0, 1].`

func (c *Client) Extract(ctx context.Context, chunkText string, existing []extractor.ConceptRef, profile config.Profile) (extractor.ExtractionResult, extractor.Usage, error) {
	userPrompt := buildPrompt(chunkText, existing)

	temp := profile.Temperature
	topP := profile.TopP
	model := profile.ModelID
	if model == "" {
		model = "claude-opus-4"
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temp),
		TopP:        anthropic.Float(topP),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, classifyError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, err := parseJSONObject(text.String())
	if err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, ingesterr.InvalidOutput(err)
	}
	if err := extractor.Validate(result, chunkText); err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, err
	}

	usage := extractor.Usage{
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
	}
	return result, usage, nil
}

func buildPrompt(chunkText string, existing []extractor.ConceptRef) string {
	var b strings.Builder
	b.WriteString("Known concepts (reuse their ids when the chunk refers to the same idea):\n")
	for _, c := range existing {
		fmt.Fprintf(&b, "- %s: %s\n", c.ConceptID, c.Label)
	}
	b.WriteString("\nChunk:\n")
	b.WriteString(chunkText)
	return b.String()
}

func parseJSONObject(s string) (extractor.ExtractionResult, error) {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return extractor.ExtractionResult{}, fmt.Errorf("extractor/anthropic: no JSON object found in model output")
	}
	var result extractor.ExtractionResult
	if err := json.Unmarshal([]byte(s[start:end+1]), &result); err != nil {
		return extractor.ExtractionResult{}, fmt.Errorf("extractor/anthropic: parsing extraction JSON: %w", err)
	}
	return result, nil
}

// classifyError maps SDK errors onto the taxonomy of §6.2: rate limits and
// 5xx are Transient/RateLimited (retried), everything else Permanent.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		switch apiErr.StatusCode {
		case 429:
			return ingesterr.RateLimited(err)
		case 500, 502, 503, 504:
			return ingesterr.Transient(err)
		}
	}
	return ingesterr.Permanent(err)
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	e, ok := err.(*anthropic.Error)
	if ok {
		*target = e
	}
	return ok
}
