package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// APIEncoder calls an OpenAI-compatible embeddings endpoint. It is the
// "remote fetch" path and is only constructed when configuration
// explicitly allows remote access.
type APIEncoder struct {
	client *openai.Client
	model  string
	dim    int
}

// Dimensions of the models this deployment uses. Unknown models fall
// back to probing the first response.
var knownDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewAPIEncoder builds the encoder. baseURL overrides the vendor
// endpoint for OpenAI-compatible providers; empty keeps the default.
func NewAPIEncoder(apiKey, model, baseURL string) *APIEncoder {
	var cfg = openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &APIEncoder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    knownDims[model],
	}
}

func (e *APIEncoder) Name() string { return "api:" + e.model }

func (e *APIEncoder) Dim() int { return e.dim }

// EncodeBatch embeds a batch in one API call and unit-normalizes every
// returned vector.
func (e *APIEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings call returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	var out = make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings call returned out-of-range index %d", d.Index)
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	if e.dim == 0 && len(out) > 0 {
		e.dim = len(out[0])
	}
	return out, nil
}
