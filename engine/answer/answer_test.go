package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/retrieval"
)

type fakeGenerator struct {
	text     string
	provider string
	err      error
}

func (f *fakeGenerator) Generate(ctx context.Context, system, user string) (string, string, error) {
	return f.text, f.provider, f.err
}

func samplePassages() []retrieval.RetrievedPassage {
	return []retrieval.RetrievedPassage{
		{DocumentID: "d1", Title: "Vergi Usul Kanunu", Page: 5, Text: "ödeme süresi 30 gündür"},
		{DocumentID: "d2", Title: "Gelir Vergisi Kanunu", Page: 12, Text: "ilgisiz pasaj"},
	}
}

func TestCompose_Success(t *testing.T) {
	gen := &fakeGenerator{text: "Ödeme süresi 30 gündür [#1].", provider: "openai"}
	c := New(gen, nil, 0)

	out, err := c.Compose(context.Background(), "ödeme süresi nedir", "openai", "user", samplePassages())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Citations) != 1 || out.Citations[0].Page != 5 {
		t.Fatalf("expected one citation to page 5, got %+v", out.Citations)
	}
	if out.Provider != "openai" {
		t.Fatalf("expected provider openai, got %q", out.Provider)
	}
}

func TestCompose_StripsHallucinatedCitation(t *testing.T) {
	gen := &fakeGenerator{text: "Cevap metni [#1] ve uydurma kaynak [#99].", provider: "openai"}
	c := New(gen, nil, 0)

	out, err := c.Compose(context.Background(), "soru", "openai", "user", samplePassages())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Citations) != 1 {
		t.Fatalf("expected only the valid citation to survive, got %+v", out.Citations)
	}
	if strings.Contains(out.Text, "[#99]") {
		t.Fatalf("hallucinated citation not stripped: %q", out.Text)
	}
}

func TestCompose_GeneratorFailureWrapsErrGeneratorFailed(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("both providers down")}
	c := New(gen, nil, 0)

	_, err := c.Compose(context.Background(), "soru", "openai", "user", samplePassages())
	if !errors.Is(err, apperr.ErrGeneratorFailed) {
		t.Fatalf("expected ErrGeneratorFailed, got %v", err)
	}
}

func TestCompose_EmptyPassagesStillComposes(t *testing.T) {
	gen := &fakeGenerator{text: "Yeterli bilgi bulunamadı.", provider: "openai"}
	c := New(gen, nil, 0)

	out, err := c.Compose(context.Background(), "soru", "openai", "user", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Citations) != 0 {
		t.Fatalf("expected no citations for empty context, got %+v", out.Citations)
	}
}

func TestTemplateStore_FallsBackToDefault(t *testing.T) {
	ts := NewTemplateStore()
	if ts.Lookup(PromptKey{Provider: "openai", Role: "user"}) != defaultSystemPrompt {
		t.Fatal("expected built-in default when no template registered")
	}
	ts.Set(PromptKey{Provider: "openai", Role: "user"}, "custom")
	if ts.Lookup(PromptKey{Provider: "openai", Role: "user"}) != "custom" {
		t.Fatal("expected registered template to take precedence")
	}
}
