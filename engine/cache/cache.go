// Package cache is the Cache Coordinator (C8): a thin policy layer over
// engine/adapters/cache that owns key construction and TTLs for the
// embedding cache, query-result cache, and per-user rate-limit counters.
// Every method degrades silently to a miss (or, for Admit, to "allow") on
// a backing-store error, matching the teacher's "log and continue
// without" pattern for optional enrichment.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

// TTLs for each cache policy, as spec.md §4.8.
const (
	EmbeddingTTL   = time.Hour
	QueryResultTTL = 30 * time.Minute
	RateLimitTTL   = 60 * time.Second
)

// Store is the subset of engine/adapters/cache.Cache this coordinator
// needs.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	IncrWithExpire(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Coordinator implements the three cache policies of spec.md §4.8.
type Coordinator struct {
	store Store
}

// New wraps a Store.
func New(store Store) *Coordinator { return &Coordinator{store: store} }

// EmbedKey is the embedding-cache key: hash of normalized text plus the
// embedding model id, so switching models never serves a stale vector.
func EmbedKey(modelID, normalizedText string) string {
	return "emb:" + modelID + ":" + hashString(normalizedText)
}

// Fingerprint is the query-result-cache key: hash of every input that
// determines the answer.
func Fingerprint(normalizedQuery, institution string, k int, threshold float64) string {
	raw := fmt.Sprintf("%s|%s|%d|%.4f", normalizedQuery, institution, k, threshold)
	return "qr:" + hashString(raw)
}

// RateLimitKey buckets a user's asks into one-minute windows.
func RateLimitKey(userID string, minuteBucket int64) string {
	return fmt.Sprintf("rl:user:%s:minute:%d", userID, minuteBucket)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// GetEmbedding returns a cached embedding vector. The bool is false on a
// miss or any store error — embeddings are always recomputable.
func (c *Coordinator) GetEmbedding(ctx context.Context, key string) ([]float32, bool) {
	var vec []float32
	if err := c.store.Get(ctx, key, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// PutEmbedding caches vec under key. Store failures are swallowed: a
// failed write just means the next lookup recomputes.
func (c *Coordinator) PutEmbedding(ctx context.Context, key string, vec []float32) {
	_ = c.store.Set(ctx, key, vec, EmbeddingTTL)
}

// QueryResult is the cached shape of a composed answer, enough to replay
// a response without re-running retrieval or generation.
type QueryResult struct {
	Answer      string
	Citations   []domain.SourceRef
	Reliability float64
	Confidence  float64
}

// GetQueryResult returns a cached answer for fingerprint, if present.
func (c *Coordinator) GetQueryResult(ctx context.Context, fingerprint string) (QueryResult, bool) {
	var qr QueryResult
	if err := c.store.Get(ctx, fingerprint, &qr); err != nil {
		return QueryResult{}, false
	}
	return qr, true
}

// PutQueryResult caches qr under fingerprint.
func (c *Coordinator) PutQueryResult(ctx context.Context, fingerprint string, qr QueryResult) {
	_ = c.store.Set(ctx, fingerprint, qr, QueryResultTTL)
}

// Admit applies the per-user per-minute ask quota. It fails open: a
// backing-store error allows the request through rather than blocking
// every ask because Redis is unreachable.
func (c *Coordinator) Admit(ctx context.Context, userID string, limitPerMinute int64, now time.Time) bool {
	bucket := now.Unix() / 60
	count, err := c.store.IncrWithExpire(ctx, RateLimitKey(userID, bucket), 1, RateLimitTTL)
	if err != nil {
		return true
	}
	return count <= limitPerMinute
}
