// Package google implements extractor.Extractor against the Gemini API via
// google.golang.org/genai, the third pluggable extraction backend.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingestctl/internal/config"
	"ingestctl/internal/extractor"
	"ingestctl/internal/ingesterr"

	"google.golang.org/genai"
)

type Client struct {
	client *genai.Client
}

func New(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor/google: creating client: %w", err)
	}
	return &Client{client: client}, nil
}

const systemPrompt = `You extract concepts, relationships, and verbatim evidence quotes from a
document chunk for a knowledge graph. Respond with a single JSON object with
exactly the keys "concepts", "instances", "relationships". Concept ids are
kebab-case ASCII. Quotes must be verbatim substrings of the chunk. Confidence
values are in [0, 1].`

func (c *Client) Extract(ctx context.Context, chunkText string, existing []extractor.ConceptRef, profile config.Profile) (extractor.ExtractionResult, extractor.Usage, error) {
	model := profile.ModelID
	if model == "" {
		model = "gemini-2.0-flash"
	}

	temp := float32(profile.Temperature)
	topP := float32(profile.TopP)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		ResponseMIMEType:  "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(buildPrompt(chunkText, existing)), cfg)
	if err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, classifyError(err)
	}

	text := resp.Text()
	var result extractor.ExtractionResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, ingesterr.InvalidOutput(fmt.Errorf("extractor/google: parsing extraction JSON: %w", err))
	}
	if err := extractor.Validate(result, chunkText); err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, err
	}

	var usage extractor.Usage
	if resp.UsageMetadata != nil {
		usage = extractor.Usage{
			TokensIn:  int64(resp.UsageMetadata.PromptTokenCount),
			TokensOut: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
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

// classifyError has no HTTP status to inspect through genai's error type in
// every case, so it matches on the error text: anything that looks like a
// quota/rate message is treated as RateLimited, a 5xx or "unavailable"
// message as Transient, and everything else as Permanent.
func classifyError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit"):
		return ingesterr.RateLimited(err)
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "504") || strings.Contains(lower, "unavailable"):
		return ingesterr.Transient(err)
	default:
		return ingesterr.Permanent(err)
	}
}
