// Package openai implements extractor.Extractor against the OpenAI chat
// completions API as an alternate pluggable backend (§3 extraction profile
// selector).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ingestctl/internal/config"
	"ingestctl/internal/extractor"
	"ingestctl/internal/ingesterr"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type Client struct {
	client openai.Client
}

func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...)}
}

const systemPrompt = `You extract concepts, relationships, and verbatim evidence quotes from a
document chunk for a knowledge graph. Respond with a single JSON object with
exactly the keys "concepts", "instances", "relationships". Concept ids are
kebab-case ASCII. Quotes must be verbatim substrings of the chunk. Confidence
values are in [0, 1].`

func (c *Client) Extract(ctx context.Context, chunkText string, existing []extractor.ConceptRef, profile config.Profile) (extractor.ExtractionResult, extractor.Usage, error) {
	model := profile.ModelID
	if model == "" {
		model = openai.ChatModelGPT4o
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(chunkText, existing)),
		},
		Temperature:    openai.Float(profile.Temperature),
		TopP:           openai.Float(profile.TopP),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &openai.ResponseFormatJSONObjectParam{}},
	})
	if err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return extractor.ExtractionResult{}, extractor.Usage{}, ingesterr.InvalidOutput(fmt.Errorf("extractor/openai: no choices returned"))
	}

	var result extractor.ExtractionResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, ingesterr.InvalidOutput(fmt.Errorf("extractor/openai: parsing extraction JSON: %w", err))
	}
	if err := extractor.Validate(result, chunkText); err != nil {
		return extractor.ExtractionResult{}, extractor.Usage{}, err
	}

	usage := extractor.Usage{
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
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

func classifyError(err error) error {
	var apiErr *openai.Error
	if e, ok := err.(*openai.Error); ok {
		apiErr = e
		switch apiErr.StatusCode {
		case 429:
			return ingesterr.RateLimited(err)
		case 500, 502, 503, 504:
			return ingesterr.Transient(err)
		}
	}
	return ingesterr.Permanent(err)
}
