package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/vectorindex"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/cache"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

type fakeEmbedder struct {
	vec  []float32
	err  error
	hits int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.hits++
	return f.vec, f.err
}
func (f *fakeEmbedder) ModelID() string { return "test-model" }

type fakeSearcher struct {
	hits []vectorindex.Hit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, opts vectorindex.SearchOpts) ([]vectorindex.Hit, error) {
	return f.hits, f.err
}

type fakeReserver struct {
	txnID string
	err   error
	calls int
}

func (f *fakeReserver) Reserve(ctx context.Context, user domain.User, amount int, queryLogID string) (string, error) {
	f.calls++
	return f.txnID, f.err
}

type fakeCoordinator struct {
	admit      bool
	embeddings map[string][]float32
	results    map[string]cache.QueryResult
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{admit: true, embeddings: map[string][]float32{}, results: map[string]cache.QueryResult{}}
}

func (f *fakeCoordinator) Admit(ctx context.Context, userID string, limitPerMinute int64, now time.Time) bool {
	return f.admit
}
func (f *fakeCoordinator) GetEmbedding(ctx context.Context, key string) ([]float32, bool) {
	v, ok := f.embeddings[key]
	return v, ok
}
func (f *fakeCoordinator) PutEmbedding(ctx context.Context, key string, vec []float32) {
	f.embeddings[key] = vec
}
func (f *fakeCoordinator) GetQueryResult(ctx context.Context, fingerprint string) (cache.QueryResult, bool) {
	v, ok := f.results[fingerprint]
	return v, ok
}

func testUser() domain.User { return domain.User{ID: "u1", Role: domain.RoleUser, Balance: 30} }

func TestPlan_RateLimited(t *testing.T) {
	coord := newFakeCoordinator()
	coord.admit = false
	p := New(&fakeEmbedder{}, &fakeSearcher{}, &fakeReserver{}, coord, Config{})

	_, err := p.Plan(context.Background(), Request{User: testUser(), QueryText: "ödeme süresi"})
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestPlan_CacheHitSkipsReservationAndSearch(t *testing.T) {
	coord := newFakeCoordinator()
	reserver := &fakeReserver{}
	searcher := &fakeSearcher{hits: []vectorindex.Hit{{DocumentID: "d1", Score: 0.9}}}

	req := Request{User: testUser(), QueryText: "ödeme süresi", UseCache: true}
	fp := cache.Fingerprint(domain.NormalizeTurkish(req.QueryText), "", DefaultK, DefaultThreshold)
	coord.results[fp] = cache.QueryResult{Answer: "cached answer"}

	p := New(&fakeEmbedder{}, searcher, reserver, coord, Config{})
	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.CacheHit || plan.CachedResult.Answer != "cached answer" {
		t.Fatalf("expected cache hit, got %+v", plan)
	}
	if reserver.calls != 0 {
		t.Fatalf("expected no reservation on cache hit, got %d calls", reserver.calls)
	}
}

func TestPlan_InsufficientCreditsPropagates(t *testing.T) {
	coord := newFakeCoordinator()
	reserver := &fakeReserver{err: apperr.Wrap("x", apperr.ErrInsufficientCredits)}
	p := New(&fakeEmbedder{}, &fakeSearcher{}, reserver, coord, Config{})

	_, err := p.Plan(context.Background(), Request{User: testUser(), QueryText: "ödeme süresi"})
	if !errors.Is(err, apperr.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestPlan_FiltersBelowThresholdAndDedups(t *testing.T) {
	coord := newFakeCoordinator()
	searcher := &fakeSearcher{hits: []vectorindex.Hit{
		{DocumentID: "d1", Page: 2, Score: 0.91, Text: "a"},
		{DocumentID: "d1", Page: 2, Score: 0.85, Text: "dup of a, lower score"},
		{DocumentID: "d2", Page: 1, Score: 0.50, Text: "below threshold"},
	}}
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	p := New(embedder, searcher, &fakeReserver{txnID: "txn1"}, coord, Config{})

	plan, err := p.Plan(context.Background(), Request{User: testUser(), QueryText: "ödeme süresi", Threshold: 0.70})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Passages) != 1 {
		t.Fatalf("expected 1 surviving deduped passage, got %d: %+v", len(plan.Passages), plan.Passages)
	}
	if plan.Passages[0].Text != "a" {
		t.Fatalf("expected highest-score duplicate to survive, got %q", plan.Passages[0].Text)
	}
	if plan.ReserveTxnID != "txn1" {
		t.Fatalf("expected reservation txn id propagated, got %q", plan.ReserveTxnID)
	}
}

func TestPlan_EmbedderFailurePreservesReservation(t *testing.T) {
	coord := newFakeCoordinator()
	embedder := &fakeEmbedder{err: apperr.Wrap("x", apperr.ErrAdapterUnavailable)}
	p := New(embedder, &fakeSearcher{}, &fakeReserver{txnID: "txn1"}, coord, Config{})

	plan, err := p.Plan(context.Background(), Request{User: testUser(), QueryText: "ödeme süresi"})
	if !errors.Is(err, apperr.ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
	if plan.ReserveTxnID != "txn1" {
		t.Fatalf("expected reservation txn id preserved on embed failure, got %q", plan.ReserveTxnID)
	}
}

func TestPlan_EmbeddingCacheHitSkipsEmbedderCall(t *testing.T) {
	coord := newFakeCoordinator()
	embedder := &fakeEmbedder{vec: []float32{9, 9}}
	normalized := domain.NormalizeTurkish("ödeme süresi")
	coord.embeddings[cache.EmbedKey(embedder.ModelID(), normalized)] = []float32{1, 2}

	searcher := &fakeSearcher{}
	p := New(embedder, searcher, &fakeReserver{}, coord, Config{})

	_, err := p.Plan(context.Background(), Request{User: testUser(), QueryText: "ödeme süresi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.hits != 0 {
		t.Fatalf("expected embedder not called on cache hit, got %d calls", embedder.hits)
	}
}
