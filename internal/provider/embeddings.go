package provider

import (
	"context"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// Embeddings returns one vector per input, in input order.
func (c *Client) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(inputs))
	}

	// The API does not guarantee response order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Embedding is the single-input convenience wrapper around Embeddings.
func (c *Client) Embedding(ctx context.Context, model, input string) ([]float32, error) {
	vecs, err := c.Embeddings(ctx, model, []string{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
