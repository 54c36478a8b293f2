package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	openai "github.com/sashabaranov/go-openai"
)

type fakeClient struct {
	resp openai.EmbeddingResponse
	err  error
	hits int
}

func (f *fakeClient) CreateEmbeddings(_ context.Context, _ openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.hits++
	return f.resp, f.err
}

func TestEmbed_Success(t *testing.T) {
	fc := &fakeClient{resp: openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}}}}
	e := NewWithClient(fc)
	vec, err := e.Embed(context.Background(), "madde bir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	e := NewWithClient(&fakeClient{})
	_, err := e.Embed(context.Background(), "")
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEmbed_RetriesThenFails(t *testing.T) {
	fc := &fakeClient{err: errors.New("rate limited upstream")}
	e := NewWithClient(fc)
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, apperr.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
	if fc.hits == 0 {
		t.Fatalf("expected at least one attempt")
	}
}

func TestEmbedBatch_MismatchedCount(t *testing.T) {
	fc := &fakeClient{resp: openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{0.1}}}}}
	e := NewWithClient(fc)
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, apperr.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := NewWithClient(&fakeClient{})
	out, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || out != nil {
		t.Fatalf("expected nil/nil for empty input, got %v/%v", out, err)
	}
}

func TestEmbedBatch_Success(t *testing.T) {
	fc := &fakeClient{resp: openai.EmbeddingResponse{Data: []openai.Embedding{
		{Embedding: []float32{1}}, {Embedding: []float32{2}},
	}}}
	e := NewWithClient(fc)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(out))
	}
}
