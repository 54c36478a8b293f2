// Package main implements the mevzuatgpt API server: the Orchestrator
// (C9) that wires every adapter and engine package into an HTTP surface.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/blob"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/cache"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/embedder"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/generator"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/metastore"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/queue"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/vectorindex"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/answer"
	enginecache "github.com/mevzuatgpt/mevzuatgpt-server/engine/cache"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/config"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/ledger"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/retrieval"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/auth"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/metrics"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/mid"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/tokencount"
)

// Exit codes for CLI wrappers, as spec.md §6.
const (
	exitOK                = 0
	exitConfig            = 1
	exitAdapterUnavailable = 2
	exitInvariantViolation = 3
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(exitConfig)
	}

	code := run(cfg, logger)
	os.Exit(code)
}

// app bundles every dependency a handler needs.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	meta    *metastore.Store
	blobs   *blob.Store
	queue   *queue.Queue
	vindex  *vectorindex.Index
	planner *retrieval.Planner
	composer *answer.Composer
	ledger  *ledger.Ledger
	coordinator *enginecache.Coordinator
	metrics *metrics.Registry
	verifier *auth.Verifier

	docsIngested *metrics.Counter
	asksServed   *metrics.Counter
	cacheHits    *metrics.Counter
}

func run(cfg config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meta, err := metastore.New(metastore.Config{DSN: cfg.MetaStore.DSN, MaxOpenConns: cfg.MetaStore.MaxConns})
	if err != nil {
		logger.Error("connect metastore", "err", err)
		return exitAdapterUnavailable
	}
	defer meta.Close()
	if err := meta.Migrate(ctx); err != nil {
		logger.Error("migrate metastore", "err", err)
		return exitAdapterUnavailable
	}

	blobStore, err := blob.New(ctx, blob.Config{
		Bucket: cfg.Blob.Bucket, Region: cfg.Blob.Region, Endpoint: cfg.Blob.Endpoint,
		AccessKeyID: cfg.Blob.AccessKeyID, SecretAccessKey: cfg.Blob.SecretAccessKey,
	})
	if err != nil {
		logger.Error("connect blob store", "err", err)
		return exitAdapterUnavailable
	}

	q, err := queue.Connect(cfg.Queue.URL)
	if err != nil {
		logger.Error("connect queue", "err", err)
		return exitAdapterUnavailable
	}
	defer q.Close()

	vindex, err := vectorindex.New(cfg.VectorIndex.Addr, cfg.VectorIndex.Collection)
	if err != nil {
		logger.Error("connect vector index", "err", err)
		return exitAdapterUnavailable
	}
	defer vindex.Close()
	if err := vindex.EnsureCollection(ctx, cfg.Embedding.Dim); err != nil {
		logger.Error("ensure vector collection", "err", err)
		return exitAdapterUnavailable
	}
	if err := vindex.VerifyDimensions(ctx, cfg.Embedding.Dim); err != nil {
		logger.Error("embedding dimension mismatch", "err", err)
		return exitInvariantViolation
	}

	emb := embedder.New(cfg.OpenAIAPIKey)
	gen := generator.New(generator.Config{
		OpenAIAPIKey: cfg.OpenAIAPIKey, AnthropicAPIKey: cfg.AnthropicAPIKey,
		PrimaryModel: cfg.Generation.Primary, FallbackModel: cfg.Generation.Fallback,
	})

	redisCache := cache.New(cfg.Cache.Addr, cfg.Cache.Password, 0)
	coordinator := enginecache.New(redisCache)
	led := ledger.New(meta)

	planner := retrieval.New(emb, vindex, led, coordinator, retrieval.Config{
		RatePerMinute: cfg.RateLimit.AsksPerMinute,
		CreditCost:    cfg.Credits.CostPerAsk,
		Oversample:    cfg.Retrieval.Oversample,
	})

	counter, err := tokencount.New()
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to word-count token approximation", "err", err)
		counter = tokencount.WordApprox{}
	}
	composer := answer.NewWithCounter(gen, answer.NewTemplateStore(), cfg.GenerationTimeout(), counter)

	registry := metrics.New()
	a := &app{
		cfg: cfg, logger: logger,
		meta: meta, blobs: blobStore, queue: q, vindex: vindex,
		planner: planner, composer: composer, ledger: led, coordinator: coordinator,
		metrics: registry, verifier: auth.NewVerifier(cfg.Auth.JWTSecret),
		docsIngested: registry.Counter("mevzuatgpt_documents_uploaded_total", "documents accepted for ingestion"),
		asksServed:   registry.Counter("mevzuatgpt_asks_served_total", "ask requests answered"),
		cacheHits:    registry.Counter("mevzuatgpt_query_cache_hits_total", "query-result cache hits"),
	}

	mux := a.routes()
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.HTTP.CORSOrigin),
		mid.OTel("mevzuatgpt-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited with error", "err", err)
			return exitAdapterUnavailable
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		return exitAdapterUnavailable
	}
	return exitOK
}

// routes builds the mux per spec.md §6's HTTP surface plus SPEC_FULL.md §5's
// supplemented routes. Auth middleware wraps admin and user routes
// individually rather than globally, since health/readiness/maintenance-status
// are public.
func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/ready", a.handleReady)
	mux.HandleFunc("GET /api/maintenance/status", a.handleMaintenanceStatus)
	mux.Handle("GET /metrics", a.metrics.Handler())

	adminAuth := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(a.verifier)(auth.RequireAdmin(h))
	}
	userAuth := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(a.verifier)(h)
	}

	mux.Handle("POST /api/admin/documents/upload", adminAuth(a.handleUploadDocument))
	mux.Handle("GET /api/admin/documents", adminAuth(a.handleListDocuments))
	mux.Handle("DELETE /api/admin/documents/{id}", adminAuth(a.handleDeleteDocument))
	mux.Handle("PATCH /api/admin/documents/{id}", adminAuth(a.handlePatchDocument))

	mux.Handle("POST /api/user/ask", userAuth(a.handleAsk))
	mux.Handle("POST /api/user/search", userAuth(a.handleSearch))
	mux.Handle("GET /api/user/search-history", userAuth(a.handleSearchHistory))
	mux.Handle("POST /api/user/feedback", userAuth(a.handleFeedback))
	mux.Handle("GET /api/user/credits", userAuth(a.handleCredits))

	return mux
}

// newID generates a request-scoped identifier the way the teacher uses
// google/uuid for every primary key it hands out itself.
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
