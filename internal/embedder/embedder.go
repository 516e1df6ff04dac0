// Package embedder implements the Embedder interface of §6.3: converting
// chunk and concept text into fixed-dimension vectors.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Embedder converts text to embedding vectors at a fixed dimension.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// ActiveConfig reports the provider/model/dimension triple that
	// produced (or will produce) these embeddings, per §6.3 active_config.
	ActiveConfig() ActiveConfig
}

// ActiveConfig mirrors §6.3 active_config().
type ActiveConfig struct {
	Provider  string
	Model     string
	Dimension int
	Normalize bool
}

// openAIEmbedder calls the OpenAI embeddings endpoint.
type openAIEmbedder struct {
	client openai.Client
	cfg    ActiveConfig
}

// NewOpenAI constructs an embedder backed by the OpenAI embeddings API.
func NewOpenAI(apiKey, baseURL, model string, dimension int) Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIEmbedder{
		client: openai.NewClient(opts...),
		cfg:    ActiveConfig{Provider: "openai", Model: model, Dimension: dimension, Normalize: true},
	}
}

func (e *openAIEmbedder) ActiveConfig() ActiveConfig { return e.cfg }

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.cfg.Model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions: openai.Int(int64(e.cfg.Dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: openai embeddings call: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// deterministicEmbedder hashes byte 3-grams into a fixed-size vector. It is
// suitable for tests and for environments with no embedding credentials.
type deterministicEmbedder struct {
	cfg  ActiveConfig
	seed uint64
}

// NewDeterministic constructs a deterministic, dependency-free embedder.
func NewDeterministic(dim int, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{cfg: ActiveConfig{Provider: "deterministic", Model: "fnv-3gram", Dimension: dim, Normalize: true}, seed: seed}
}

func (d *deterministicEmbedder) ActiveConfig() ActiveConfig { return d.cfg }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.cfg.Dimension)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		add(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			add(d.seed, b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func add(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
