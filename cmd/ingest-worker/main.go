// Command ingest-worker subscribes to the ingest queue and runs each
// document through the Ingestion Worker pipeline (C3). A second goroutine
// sweeps documents stuck in "processing" past the configured threshold,
// resetting them to "pending" so a live worker picks them back up.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/blob"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/embedder"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/metastore"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/queue"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/vectorindex"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/chunker"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/config"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/ingest"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/metrics"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/tokencount"
)

const (
	exitOK                 = 0
	exitConfig             = 1
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

	os.Exit(run(cfg, logger))
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

	blobStore, err := blob.New(ctx, blob.Config{
		Bucket: cfg.Blob.Bucket, Region: cfg.Blob.Region, Endpoint: cfg.Blob.Endpoint,
		AccessKeyID: cfg.Blob.AccessKeyID, SecretAccessKey: cfg.Blob.SecretAccessKey,
	})
	if err != nil {
		logger.Error("connect blob store", "err", err)
		return exitAdapterUnavailable
	}

	vindex, err := vectorindex.New(cfg.VectorIndex.Addr, cfg.VectorIndex.Collection)
	if err != nil {
		logger.Error("connect vector index", "err", err)
		return exitAdapterUnavailable
	}
	defer vindex.Close()
	if err := vindex.VerifyDimensions(ctx, cfg.Embedding.Dim); err != nil {
		logger.Error("embedding dimension mismatch", "err", err)
		return exitInvariantViolation
	}

	q, err := queue.Connect(cfg.Queue.URL)
	if err != nil {
		logger.Error("connect queue", "err", err)
		return exitAdapterUnavailable
	}
	defer q.Close()

	emb := embedder.New(cfg.OpenAIAPIKey)

	counter, err := tokencount.New()
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to word-count token approximation", "err", err)
		counter = tokencount.WordApprox{}
	}

	worker := ingest.New(ingest.Deps{
		MetaStore:    meta,
		Blob:         blobStore,
		Embedder:     emb,
		VectorIndex:  vindex,
		Logger:       logger,
		EmbeddingDim: cfg.Embedding.Dim,
		ChunkerOpts: chunker.Options{
			ChunkSize:         chunker.TokensForChars(cfg.Chunking.TargetChars),
			Overlap:           chunker.TokensForChars(cfg.Chunking.OverlapChars),
			MinCarryoverChars: cfg.Chunking.MinChars,
			Counter:           counter,
		},
	})

	registry := metrics.New()
	jobsProcessed := registry.Counter("mevzuatgpt_ingest_jobs_processed_total", "ingestion jobs processed")
	jobsRequeued := registry.Counter("mevzuatgpt_ingest_jobs_requeued_total", "ingestion jobs requeued after a transient failure")
	documentsStuck := registry.Gauge("mevzuatgpt_ingest_documents_stuck", "documents reset from processing back to pending by the sweeper")
	go registry.ServeAsync(cfg.Metrics.Port)

	sub, err := q.Subscribe(func(jobCtx context.Context, job queue.IngestJob) {
		requeue, runErr := worker.Process(jobCtx, job.DocumentID, job.Attempt)
		jobsProcessed.Inc()
		if runErr != nil {
			logger.Warn("ingest job failed", "document_id", job.DocumentID, "attempt", job.Attempt, "err", runErr, "requeue", requeue)
		}
		if requeue {
			jobsRequeued.Inc()
			if pubErr := q.Publish(jobCtx, queue.IngestJob{DocumentID: job.DocumentID, Attempt: job.Attempt + 1}); pubErr != nil {
				logger.Error("requeue failed, routing to dead letter", "document_id", job.DocumentID, "err", pubErr)
				_ = q.PublishDLQ(jobCtx, job)
			}
		}
	})
	if err != nil {
		logger.Error("subscribe to ingest queue", "err", err)
		return exitAdapterUnavailable
	}
	defer sub.Unsubscribe()

	sweepStop := make(chan struct{})
	go sweepStuckDocuments(ctx, sweepStop, meta, q, logger, cfg.SweepInterval(), cfg.StuckThreshold(), documentsStuck)

	logger.Info("ingest worker started", "parallelism", cfg.Worker.IngestParallelism)
	<-ctx.Done()
	logger.Info("shutting down ingest worker")
	close(sweepStop)
	return exitOK
}

// sweepStuckDocuments resets documents that have sat in "processing" past
// threshold back to "pending", the way a crashed worker's abandoned CAS
// slot is reclaimed, and publishes a fresh ingest job for each document it
// reclaims. It reuses metastore.Store's existing CAS transition rather than
// a dedicated reset method.
func sweepStuckDocuments(ctx context.Context, stop chan struct{}, meta *metastore.Store, q *queue.Queue, logger *slog.Logger, interval, threshold time.Duration, gauge *metrics.Gauge) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			stuck, err := meta.StuckProcessing(ctx, threshold)
			if err != nil {
				logger.Error("sweep: list stuck documents failed", "err", err)
				continue
			}
			gauge.Set(int64(len(stuck)))
			for _, doc := range stuck {
				won, err := meta.TransitionProcessing(ctx, doc.ID, domain.ProcessingInProgress, domain.ProcessingPending)
				if err != nil {
					logger.Error("sweep: reset stuck document failed", "document_id", doc.ID, "err", err)
					continue
				}
				if won {
					logger.Warn("sweep: reset stuck document to pending", "document_id", doc.ID)
					if pubErr := q.Publish(ctx, queue.IngestJob{DocumentID: doc.ID}); pubErr != nil {
						logger.Error("sweep: requeue stuck document failed", "document_id", doc.ID, "err", pubErr)
					}
				}
			}
		}
	}
}
