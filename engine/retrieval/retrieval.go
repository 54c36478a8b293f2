// Package retrieval is the Query Planner (C5): admission, caching,
// credit reservation, embedding, vector search, threshold filtering, and
// deduplication for a single ask or search request. It calls the
// Composer (engine/answer) for nothing — generation stays out of this
// package so `search` can reuse it without ever invoking a Generator.
package retrieval

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/vectorindex"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/cache"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/fn"
)

// Defaults from spec.md §6 Config.
const (
	DefaultK          = 5
	MaxK              = 20
	DefaultThreshold  = 0.70
	DefaultOversample = 2
	DefaultRatePerMin = 30
	DefaultCreditCost = 1
)

// Embedder computes query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// VectorSearcher finds the nearest passages to a query embedding.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, opts vectorindex.SearchOpts) ([]vectorindex.Hit, error)
}

// CreditReserver deducts (or bypasses, for admins) the cost of a query.
type CreditReserver interface {
	Reserve(ctx context.Context, user domain.User, amount int, queryLogID string) (string, error)
}

// Coordinator is the subset of the Cache Coordinator the planner needs.
type Coordinator interface {
	Admit(ctx context.Context, userID string, limitPerMinute int64, now time.Time) bool
	GetEmbedding(ctx context.Context, key string) ([]float32, bool)
	PutEmbedding(ctx context.Context, key string, vec []float32)
	GetQueryResult(ctx context.Context, fingerprint string) (cache.QueryResult, bool)
}

// Request is a single ask/search invocation.
type Request struct {
	User        domain.User
	QueryLogID  string
	QueryText   string
	Institution string
	K           int
	Threshold   float32
	UseCache    bool
}

// RetrievedPassage is a single surviving search hit, shaped for the
// Composer and for the query-log's denormalized source list.
type RetrievedPassage struct {
	DocumentID  string
	Title       string
	Page        int
	LineStart   int
	LineEnd     int
	Text        string
	Similarity  float32
	Institution string
}

// Plan is the planner's output: either a cache hit (skip reservation,
// retrieval, and generation entirely) or a fresh set of passages with an
// active credit reservation the Composer must refund on failure.
type Plan struct {
	CacheHit     bool
	CachedResult cache.QueryResult
	Fingerprint  string
	ReserveTxnID string
	Passages     []RetrievedPassage
}

// Planner implements spec.md §4.5.
type Planner struct {
	embedder    Embedder
	searcher    VectorSearcher
	reserver    CreditReserver
	coordinator Coordinator

	ratePerMinute int64
	creditCost    int
	oversample    int
}

// Config tunes the planner's defaults; zero values fall back to spec.md's
// documented defaults.
type Config struct {
	RatePerMinute int64
	CreditCost    int
	Oversample    int
}

// New builds a Planner.
func New(embedder Embedder, searcher VectorSearcher, reserver CreditReserver, coordinator Coordinator, cfg Config) *Planner {
	p := &Planner{embedder: embedder, searcher: searcher, reserver: reserver, coordinator: coordinator}
	p.ratePerMinute = cfg.RatePerMinute
	if p.ratePerMinute <= 0 {
		p.ratePerMinute = DefaultRatePerMin
	}
	p.creditCost = cfg.CreditCost
	if p.creditCost <= 0 {
		p.creditCost = DefaultCreditCost
	}
	p.oversample = cfg.Oversample
	if p.oversample <= 0 {
		p.oversample = DefaultOversample
	}
	return p
}

// Plan executes spec.md §4.5's steps 1-8. On a cache hit, the returned
// Plan carries no reservation and the caller must charge zero credits.
func (p *Planner) Plan(ctx context.Context, req Request) (Plan, error) {
	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	if !p.coordinator.Admit(ctx, req.User.ID, p.ratePerMinute, time.Now()) {
		return Plan{}, apperr.Wrap("retrieval.Plan", apperr.ErrRateLimited)
	}

	normalized := domain.NormalizeTurkish(req.QueryText)
	fingerprint := cache.Fingerprint(normalized, req.Institution, k, float64(threshold))

	if req.UseCache {
		if cached, ok := p.coordinator.GetQueryResult(ctx, fingerprint); ok {
			return Plan{CacheHit: true, CachedResult: cached, Fingerprint: fingerprint}, nil
		}
	}

	txnID, err := p.reserver.Reserve(ctx, req.User, p.creditCost, req.QueryLogID)
	if err != nil {
		return Plan{}, err
	}

	vec, err := p.embedQuery(ctx, normalized)
	if err != nil {
		return Plan{Fingerprint: fingerprint, ReserveTxnID: txnID}, err
	}

	hits, err := p.searcher.Search(ctx, vec, vectorindex.SearchOpts{
		TopK:        k * p.oversample,
		Institution: req.Institution,
	})
	if err != nil {
		return Plan{Fingerprint: fingerprint, ReserveTxnID: txnID}, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	survivors := fn.Filter(hits, func(h vectorindex.Hit) bool { return h.Score >= threshold })
	deduped := fn.UniqueBy(survivors, func(h vectorindex.Hit) string {
		return h.DocumentID + "#" + strconv.Itoa(h.Page)
	})
	if len(deduped) > k {
		deduped = deduped[:k]
	}

	passages := fn.Map(deduped, func(h vectorindex.Hit) RetrievedPassage {
		return RetrievedPassage{
			DocumentID:  h.DocumentID,
			Title:       h.DocTitle,
			Page:        h.Page,
			LineStart:   h.LineStart,
			LineEnd:     h.LineEnd,
			Text:        h.Text,
			Similarity:  h.Score,
			Institution: h.Institution,
		}
	})

	return Plan{Fingerprint: fingerprint, ReserveTxnID: txnID, Passages: passages}, nil
}

func (p *Planner) embedQuery(ctx context.Context, normalized string) ([]float32, error) {
	key := cache.EmbedKey(p.embedder.ModelID(), normalized)
	if vec, ok := p.coordinator.GetEmbedding(ctx, key); ok {
		return vec, nil
	}
	vec, err := p.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	p.coordinator.PutEmbedding(ctx, key, vec)
	return vec, nil
}
