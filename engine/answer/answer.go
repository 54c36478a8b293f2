// Package answer is the Answer Composer (C6): builds a citation-anchored
// context block from retrieved passages, invokes the Generator, and
// post-processes the result so no citation the model hallucinated ever
// reaches the response payload.
package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/retrieval"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/tokencount"
)

// DefaultTimeout bounds the whole primary+fallback generation attempt, as
// spec.md §6's generation.timeout_s default.
const DefaultTimeout = 30 * time.Second

// Generator produces an answer from a system prompt and a user message,
// reporting which provider actually answered.
type Generator interface {
	Generate(ctx context.Context, system, user string) (text, provider string, err error)
}

// PromptKey selects a system-prompt template by provider and role, as
// spec.md §4.6 step 2.
type PromptKey struct {
	Provider string
	Role     string
}

// TemplateStore is a versioned, in-process system-prompt table. A real
// deployment may swap this for one backed by the external configuration
// table spec.md calls out as read-only and out of scope; the built-in
// fallback guarantees a template always exists.
type TemplateStore struct {
	templates map[PromptKey]string
}

// NewTemplateStore builds an empty store; every lookup falls back to the
// built-in default until templates are registered with Set.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: map[PromptKey]string{}}
}

// Set registers a template for a provider/role pair.
func (t *TemplateStore) Set(key PromptKey, template string) {
	t.templates[key] = template
}

// Lookup returns the registered template, or the built-in default when
// none is registered for key.
func (t *TemplateStore) Lookup(key PromptKey) string {
	if tmpl, ok := t.templates[key]; ok {
		return tmpl
	}
	return defaultSystemPrompt
}

const defaultSystemPrompt = `Sen Türkiye mevzuatı konusunda uzman bir hukuk asistanısın. Soruyu YALNIZCA aşağıda verilen bağlamı kullanarak yanıtla. Bağlam yeterli bilgi içermiyorsa bunu açıkça belirt, tahmin yürütme. Her iddiayı kaynak gösterdiğin pasajla [#i] biçiminde ilişkilendir.`

// Citation is a single anchor the model referenced, resolved back to the
// document and page it points at.
type Citation struct {
	Index      int
	DocumentID string
	Title      string
	Page       int
}

// Composed is the Composer's output, shaped for the HTTP response and the
// query log.
type Composed struct {
	Text      string
	Citations []Citation
	Provider  string
	TokensIn  int
	TokensOut int
	ElapsedMS int64
}

// Composer implements spec.md §4.6.
type Composer struct {
	generator Generator
	templates *TemplateStore
	timeout   time.Duration
	counter   tokencount.Counter
}

// New builds a Composer with a word-count token approximation. A nil
// TemplateStore uses the built-in default for every lookup.
func New(generator Generator, templates *TemplateStore, timeout time.Duration) *Composer {
	return NewWithCounter(generator, templates, timeout, nil)
}

// NewWithCounter builds a Composer that reports TokensIn/TokensOut using
// counter. A nil counter falls back to tokencount.WordApprox.
func NewWithCounter(generator Generator, templates *TemplateStore, timeout time.Duration, counter tokencount.Counter) *Composer {
	if templates == nil {
		templates = NewTemplateStore()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if counter == nil {
		counter = tokencount.WordApprox{}
	}
	return &Composer{generator: generator, templates: templates, timeout: timeout, counter: counter}
}

// Compose builds the context block, invokes the generator, and returns a
// cleaned answer with its surviving citations. Generator failure after
// both providers are exhausted always surfaces as apperr.ErrGeneratorFailed
// so the caller knows to issue a compensating Ledger.refund.
func (c *Composer) Compose(ctx context.Context, queryText, provider, role string, passages []retrieval.RetrievedPassage) (Composed, error) {
	contextBlock, anchors := buildContext(passages)
	system := c.templates.Lookup(PromptKey{Provider: provider, Role: role})
	userPrompt := fmt.Sprintf("Bağlam:\n%s\n\nSoru: %s", contextBlock, queryText)

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, usedProvider, err := c.generator.Generate(genCtx, system, userPrompt)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Composed{}, apperr.WrapDetail("answer.Compose", err.Error(), apperr.ErrGeneratorFailed)
	}

	cleaned, citations := stripHallucinatedCitations(text, anchors)

	return Composed{
		Text:      cleaned,
		Citations: citations,
		Provider:  usedProvider,
		TokensIn:  c.counter.Count(system) + c.counter.Count(userPrompt),
		TokensOut: c.counter.Count(cleaned),
		ElapsedMS: elapsed,
	}, nil
}

func buildContext(passages []retrieval.RetrievedPassage) (string, []Citation) {
	if len(passages) == 0 {
		return "(bu soru için ilgili bir pasaj bulunamadı)", nil
	}

	var b strings.Builder
	anchors := make([]Citation, len(passages))
	for i, p := range passages {
		idx := i + 1
		anchors[i] = Citation{Index: idx, DocumentID: p.DocumentID, Title: p.Title, Page: p.Page}
		fmt.Fprintf(&b, "[#%d] (%s, sayfa %d)\n%s\n\n", idx, p.Title, p.Page, p.Text)
	}
	return b.String(), anchors
}

var citationAnchor = regexp.MustCompile(`\[#(\d+)\]`)

// stripHallucinatedCitations removes any [#i] reference whose index exceeds
// the passage count and returns the citations the model actually used,
// re-embedded as {title, page} pairs per spec.md §4.6 step 4.
func stripHallucinatedCitations(text string, anchors []Citation) (string, []Citation) {
	used := make(map[int]bool, len(anchors))
	cleaned := citationAnchor.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(citationAnchor.FindStringSubmatch(match)[1])
		if err != nil || idx < 1 || idx > len(anchors) {
			return ""
		}
		used[idx] = true
		return match
	})

	citations := make([]Citation, 0, len(anchors))
	for _, a := range anchors {
		if used[a.Index] {
			citations = append(citations, a)
		}
	}
	return cleaned, citations
}
