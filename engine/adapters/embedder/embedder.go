// Package embedder turns text into vectors via the OpenAI embeddings API,
// guarded by a retry policy with exponential backoff and a circuit breaker
// so a flapping provider degrades the service rather than cascades into it.
package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/fn"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/resilience"
	openai "github.com/sashabaranov/go-openai"
)

// Dims is the native output dimension of text-embedding-3-small, the model
// this service standardizes on. The startup dimension check does not read
// this constant: it compares the configured embedding.dim against the
// vector index's collection size.
const Dims = 1536

const defaultModel = openai.SmallEmbedding3

// client is the subset of the OpenAI SDK this package calls, so tests can
// substitute a fake.
type client interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedder computes text embeddings.
type Embedder struct {
	client  client
	model   openai.EmbeddingModel
	breaker *resilience.Breaker
}

// New builds an Embedder backed by the OpenAI API.
func New(apiKey string) *Embedder {
	return &Embedder{
		client:  openai.NewClient(apiKey),
		model:   defaultModel,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// NewWithClient builds an Embedder around a pre-constructed client, used by
// tests.
func NewWithClient(c client) *Embedder {
	return &Embedder{client: c, model: defaultModel, breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts)}
}

// ModelID identifies the embedding model in cache keys, so switching
// models never serves a vector computed by a different one.
func (e *Embedder) ModelID() string { return string(e.model) }

// Embed computes a single embedding, retrying transient failures with
// exponential backoff and jitter up to fn.DefaultRetry.MaxAttempts times.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, apperr.Wrap("embedder.Embed", apperr.ErrInvalidInput)
	}

	result := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[[]float32] {
		return resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[[]float32] {
			resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: e.model,
			})
			if err != nil {
				return fn.Err[[]float32](fmt.Errorf("embedder: create embeddings: %w", err))
			}
			if len(resp.Data) == 0 {
				return fn.Err[[]float32](errors.New("embedder: no embeddings returned"))
			}
			return fn.Ok(resp.Data[0].Embedding)
		})
	})

	if result.IsErr() {
		return nil, apperr.WrapDetail("embedder.Embed", result.Err().Error(), apperr.ErrAdapterUnavailable)
	}
	return result.Unwrap(), nil
}

// EmbedBatch computes embeddings for many texts in one request. OpenAI's
// embeddings endpoint accepts a string array natively, so this is not just a
// loop over Embed.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[[][]float32] {
		return resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
			resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: texts,
				Model: e.model,
			})
			if err != nil {
				return fn.Err[[][]float32](fmt.Errorf("embedder: create embeddings: %w", err))
			}
			if len(resp.Data) != len(texts) {
				return fn.Err[[][]float32](fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(resp.Data)))
			}
			out := make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				out[i] = d.Embedding
			}
			return fn.Ok(out)
		})
	})

	if result.IsErr() {
		return nil, apperr.WrapDetail("embedder.EmbedBatch", result.Err().Error(), apperr.ErrAdapterUnavailable)
	}
	return result.Unwrap(), nil
}
