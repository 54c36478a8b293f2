// Package ingest is the Ingestion Worker (C3): the document processing
// pipeline that takes a queued document from pending through extraction,
// chunking, embedding, and vector indexing to completed or failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/extractor"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/vectorindex"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/chunker"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/fn"
)

const (
	// MaxRetries is the number of attempts before a document is marked
	// failed for good on a transient error.
	MaxRetries = 3
	// EmbedBatchSize bounds each Embedder.EmbedBatch call.
	EmbedBatchSize = 64
	// IndexBatchSize bounds each VectorIndex.UpsertBatch call.
	IndexBatchSize = 256
	// StuckThreshold is how long a document may sit in "processing" before
	// a sweeper considers it abandoned by a crashed worker and resets it
	// to "pending" for reprocessing.
	StuckThreshold = 10 * time.Minute
)

// MetaStore is the subset of metastore.Store this package drives the
// document processing state machine through.
type MetaStore interface {
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	TransitionProcessing(ctx context.Context, id string, from, to domain.ProcessingStatus) (bool, error)
	MarkProcessingFailed(ctx context.Context, id, reason string) error
	CompleteProcessing(ctx context.Context, id string, passageCount int) error
}

// Blob fetches the raw bytes a Document's BlobURL points at.
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Embedder computes embeddings for a batch of passage texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the subset of vectorindex.Index the worker writes through.
type VectorIndex interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	UpsertBatch(ctx context.Context, records []vectorindex.UpsertRecord) error
}

// Deps bundles the Worker's adapters and configuration.
type Deps struct {
	MetaStore   MetaStore
	Blob        Blob
	Embedder    Embedder
	VectorIndex VectorIndex
	Logger      *slog.Logger

	EmbeddingDim int
	ChunkerOpts  chunker.Options
}

// Worker runs the ingestion pipeline for one document at a time. Multiple
// Workers run concurrently, one document each; the CAS transition in
// Process excludes two Workers from processing the same document.
type Worker struct {
	deps Deps
}

// New builds a Worker from its dependencies.
func New(deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Worker{deps: deps}
}

// outcome classifies how a run attempt ended, so Process knows whether to
// ask the queue for a requeue-with-backoff or accept the message for good.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeTransient
	outcomeTerminal
)

// Process loads and runs the document through the pipeline once. The
// boolean return is true when the caller should requeue the job with
// attempt+1 (a transient failure under the retry budget); it is false when
// the message should be acked, whether because the run succeeded, the
// document was already resolved, or the failure was terminal.
func (w *Worker) Process(ctx context.Context, documentID string, attempt int) (requeue bool, err error) {
	doc, err := w.deps.MetaStore.GetDocument(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("ingest: load document %s: %w", documentID, err)
	}

	if doc.ProcessingStatus != domain.ProcessingPending && doc.ProcessingStatus != domain.ProcessingInProgress {
		w.deps.Logger.Info("ingest: document already resolved, dropping", "document_id", documentID, "status", doc.ProcessingStatus)
		return false, nil
	}

	won, err := w.deps.MetaStore.TransitionProcessing(ctx, documentID, domain.ProcessingPending, domain.ProcessingInProgress)
	if err != nil {
		return false, fmt.Errorf("ingest: transition document %s to processing: %w", documentID, err)
	}
	if !won {
		// Either another worker already holds the processing slot, or the
		// CAS lost a race; either way this caller has no work to do.
		w.deps.Logger.Info("ingest: lost processing CAS, dropping", "document_id", documentID)
		return false, nil
	}

	oc, failReason, runErr := w.run(ctx, doc)

	switch oc {
	case outcomeOK:
		return false, nil
	case outcomeTerminal:
		if markErr := w.deps.MetaStore.MarkProcessingFailed(ctx, documentID, failReason); markErr != nil {
			return false, fmt.Errorf("ingest: mark document %s failed: %w", documentID, markErr)
		}
		w.deps.Logger.Warn("ingest: terminal failure", "document_id", documentID, "reason", failReason)
		return false, nil
	default: // outcomeTransient
		if attempt+1 >= MaxRetries {
			reason := fmt.Sprintf("exhausted %d attempts: %v", MaxRetries, runErr)
			if markErr := w.deps.MetaStore.MarkProcessingFailed(ctx, documentID, reason); markErr != nil {
				return false, fmt.Errorf("ingest: mark document %s failed after retries: %w", documentID, markErr)
			}
			w.deps.Logger.Warn("ingest: exhausted retries", "document_id", documentID, "error", runErr)
			return false, nil
		}
		// Hand the slot back so the requeued attempt can win the
		// pending -> processing CAS again. If this reset fails, the sweeper
		// reclaims the document after StuckThreshold.
		if _, resetErr := w.deps.MetaStore.TransitionProcessing(ctx, documentID, domain.ProcessingInProgress, domain.ProcessingPending); resetErr != nil {
			w.deps.Logger.Warn("ingest: reset to pending failed", "document_id", documentID, "error", resetErr)
		}
		w.deps.Logger.Warn("ingest: transient failure, will retry", "document_id", documentID, "attempt", attempt, "error", runErr)
		return true, runErr
	}
}

// run executes the extract-chunk-embed-index sequence for a document that
// already holds the processing slot.
func (w *Worker) run(ctx context.Context, doc domain.Document) (outcome, string, error) {
	data, err := w.deps.Blob.Get(ctx, doc.BlobURL)
	if err != nil {
		if errors.Is(err, apperr.ErrAdapterUnavailable) {
			return outcomeTransient, "", err
		}
		return outcomeTerminal, "blob fetch failed: " + err.Error(), err
	}

	pages, err := extractor.Extract(doc.OriginalFilename, data)
	if err != nil {
		if errors.Is(err, apperr.ErrAdapterUnavailable) {
			return outcomeTransient, "", err
		}
		if errors.Is(err, apperr.ErrEmptyDocument) {
			return outcomeTerminal, "EmptyDocument", err
		}
		return outcomeTerminal, "ExtractionFailed: " + err.Error(), err
	}

	chunks, err := chunker.ChunkPages(pages, w.deps.ChunkerOpts)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyDocument) {
			return outcomeTerminal, "EmptyDocument", err
		}
		return outcomeTerminal, "chunking failed: " + err.Error(), err
	}

	passages := make([]domain.Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = domain.Passage{
			DocumentID:  doc.ID,
			ChunkIndex:  c.Index,
			Text:        c.Text,
			Page:        c.Page,
			LineStart:   c.LineStart,
			LineEnd:     c.LineEnd,
			Institution: doc.SourceInstitution,
			DocTitle:    doc.Title,
		}
	}

	if err := w.embedInBatches(ctx, passages); err != nil {
		if errors.Is(err, apperr.ErrInvariantViolation) {
			return outcomeTerminal, "InvariantViolation: " + err.Error(), err
		}
		return outcomeTransient, "", err
	}

	// Unconditional purge before upsert guarantees reprocessing never
	// leaves stale passages from a prior run behind.
	if err := w.deps.VectorIndex.DeleteByDocument(ctx, doc.ID); err != nil {
		return outcomeTransient, "", err
	}

	if err := w.indexInBatches(ctx, passages); err != nil {
		return outcomeTransient, "", err
	}

	if err := w.deps.MetaStore.CompleteProcessing(ctx, doc.ID, len(passages)); err != nil {
		return outcomeTransient, "", err
	}
	return outcomeOK, "", nil
}

// embedInBatches fills in Embedding on every passage, batching at
// EmbedBatchSize and validating every vector has the configured dimension.
// fn.Chunk returns sub-slices sharing the original backing array, so
// writing into a batch element mutates passages in place.
func (w *Worker) embedInBatches(ctx context.Context, passages []domain.Passage) error {
	texts := fn.Map(passages, func(p domain.Passage) string { return p.Text })

	textBatches := fn.Chunk(texts, EmbedBatchSize)
	passageBatches := fn.Chunk(passages, EmbedBatchSize)

	for i, textBatch := range textBatches {
		vectors, err := w.deps.Embedder.EmbedBatch(ctx, textBatch)
		if err != nil {
			return err
		}
		if len(vectors) != len(textBatch) {
			return apperr.WrapDetail("ingest.embedInBatches",
				fmt.Sprintf("expected %d vectors, got %d", len(textBatch), len(vectors)),
				apperr.ErrInvariantViolation)
		}
		batch := passageBatches[i]
		for j, vec := range vectors {
			if w.deps.EmbeddingDim > 0 && len(vec) != w.deps.EmbeddingDim {
				return apperr.WrapDetail("ingest.embedInBatches",
					fmt.Sprintf("passage %d: expected dim %d, got %d", batch[j].ChunkIndex, w.deps.EmbeddingDim, len(vec)),
					apperr.ErrInvariantViolation)
			}
			batch[j].Embedding = vec
		}
	}
	return nil
}

// indexInBatches upserts every passage, batching at IndexBatchSize.
func (w *Worker) indexInBatches(ctx context.Context, passages []domain.Passage) error {
	for _, batch := range fn.Chunk(passages, IndexBatchSize) {
		records := fn.Map(batch, func(p domain.Passage) vectorindex.UpsertRecord {
			return vectorindex.UpsertRecord{ID: pointID(p.DocumentID, p.ChunkIndex), Passage: p}
		})
		if err := w.deps.VectorIndex.UpsertBatch(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

func pointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID+":"+strconv.Itoa(chunkIndex))).String()
}
