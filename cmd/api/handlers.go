package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/adapters/queue"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/answer"
	enginecache "github.com/mevzuatgpt/mevzuatgpt-server/engine/cache"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/reliability"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/retrieval"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/auth"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/repo"
)

// errCode maps a classified error to the short string spec.md §6's error
// bodies use, e.g. {"error":"InsufficientCredits"}.
func errCode(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return "InvalidInput"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "Unauthenticated"
	case errors.Is(err, apperr.ErrForbidden):
		return "Forbidden"
	case errors.Is(err, apperr.ErrInsufficientCredits):
		return "InsufficientCredits"
	case errors.Is(err, apperr.ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, apperr.ErrNotFound):
		return "NotFound"
	case errors.Is(err, apperr.ErrDuplicateFeedback):
		return "DuplicateFeedback"
	case errors.Is(err, apperr.ErrMaintenanceMode):
		return "MaintenanceMode"
	case errors.Is(err, apperr.ErrGeneratorFailed):
		return "GeneratorFailed"
	case errors.Is(err, apperr.ErrAdapterUnavailable):
		return "AdapterUnavailable"
	case errors.Is(err, apperr.ErrInvariantViolation):
		return "InvariantViolation"
	default:
		return "InternalError"
	}
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return apperr.StatusFor(err)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWithExtra(w, err, nil)
}

// writeErrorWithExtra writes a classified JSON error body, merging in any
// extra fields (e.g. refund_txn_id for a compensated failure).
func writeErrorWithExtra(w http.ResponseWriter, err error, extra map[string]any) {
	body := map[string]any{"error": errCode(err)}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return domain.NewValidationError("body", "", domain.ErrInvalidQuery)
	}
	return nil
}

// --- health / readiness / maintenance ---------------------------------

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]bool{}

	_, err := a.meta.GetMaintenanceFlag(ctx)
	checks["metastore"] = err == nil

	if sub, err := a.queue.Subscribe(func(context.Context, queue.IngestJob) {}); err == nil {
		_ = sub.Unsubscribe()
		checks["queue"] = true
	} else {
		checks["queue"] = false
	}

	checks["vectorindex"] = a.vindex.VerifyDimensions(ctx, a.cfg.Embedding.Dim) == nil

	ready := true
	for _, ok := range checks {
		if !ok {
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func (a *app) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	flag, err := a.meta.GetMaintenanceFlag(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": flag.Enabled,
		"title":   flag.Title,
		"message": flag.Message,
	})
}

// --- admin: documents ---------------------------------------------------

func (a *app) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	if err := r.ParseMultipartForm(domain.MaxDocumentBytes); err != nil {
		writeError(w, domain.NewValidationError("file", "", domain.ErrDocumentTooLarge))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.NewValidationError("file", "", domain.ErrInvalidDocument))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, domain.MaxDocumentBytes+1))
	if err != nil {
		writeError(w, apperr.Wrap("handleUploadDocument", apperr.ErrAdapterUnavailable))
		return
	}
	if int64(len(data)) > domain.MaxDocumentBytes {
		writeError(w, domain.NewValidationError("size_bytes", strconv.Itoa(len(data)), domain.ErrDocumentTooLarge))
		return
	}

	docID := newID("doc")
	blobKey := docID + "/" + header.Filename
	blobURL, err := a.blobs.Put(r.Context(), blobKey, data)
	if err != nil {
		writeError(w, apperr.Wrap("handleUploadDocument", apperr.ErrAdapterUnavailable))
		return
	}

	doc := domain.NewDocument(docID, r.FormValue("title"), header.Filename, blobURL,
		int64(len(data)), r.FormValue("institution"), domain.DocumentType(r.FormValue("doc_type")), user.ID)
	if doc.Title == "" {
		doc.Title = header.Filename
	}
	if err := domain.ValidateDocumentUpload(doc); err != nil {
		writeError(w, err)
		return
	}

	if err := a.meta.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, apperr.Wrap("handleUploadDocument", apperr.ErrAdapterUnavailable))
		return
	}
	if err := a.queue.Publish(r.Context(), queue.IngestJob{DocumentID: docID}); err != nil {
		writeError(w, apperr.Wrap("handleUploadDocument", apperr.ErrAdapterUnavailable))
		return
	}

	a.docsIngested.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": docID})
}

func (a *app) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	opts := repo.ListOpts{Offset: atoiDefault(r.URL.Query().Get("offset"), 0), Limit: atoiDefault(r.URL.Query().Get("limit"), 50)}
	filter := map[string]any{}
	if s := r.URL.Query().Get("status"); s != "" {
		filter["processing_status"] = s
	}
	if inst := r.URL.Query().Get("institution"); inst != "" {
		filter["source_institution"] = inst
	}
	opts.Filter = filter

	docs, err := a.meta.ListDocuments(r.Context(), opts)
	if err != nil {
		writeError(w, apperr.Wrap("handleListDocuments", apperr.ErrAdapterUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *app) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := a.meta.UpdateDocumentMetadata(r.Context(), id, map[string]any{
		"visibility": domain.VisibilityDeleted,
	})
	if err != nil {
		writeError(w, apperr.Wrap("handleDeleteDocument", apperr.ErrAdapterUnavailable))
		return
	}
	if err := a.vindex.DeleteByDocument(r.Context(), id); err != nil {
		writeError(w, apperr.Wrap("handleDeleteDocument", apperr.ErrAdapterUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := a.meta.UpdateDocumentMetadata(r.Context(), id, patch); err != nil {
		writeError(w, apperr.Wrap("handlePatchDocument", apperr.ErrAdapterUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- user: ask / search / history / feedback / credits ------------------

type askRequest struct {
	Query       string  `json:"query"`
	Institution string  `json:"institution"`
	Limit       int     `json:"limit"`
	Threshold   float32 `json:"threshold"`
	UseCache    bool    `json:"use_cache"`
}

type askResponse struct {
	Answer      string           `json:"answer"`
	Citations   []answerCitation `json:"citations"`
	Reliability float64          `json:"reliability"`
	Confidence  float64          `json:"confidence"`
	Cached      bool             `json:"cached"`
	QueryLogID  string           `json:"query_log_id"`
	ElapsedMS   int64            `json:"elapsed_ms"`
}

type answerCitation struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Page       int    `json:"page"`
}

// compensateReservation refunds a credit reservation left dangling by a
// retrieval-stage failure after Plan already called Reserve. A blank txnID
// means no reservation exists (rate-limited or insufficient-credits
// failures return before Reserve runs), so it's a no-op.
func (a *app) compensateReservation(ctx context.Context, userID, txnID, reason string) string {
	if txnID == "" {
		return ""
	}
	refundID, err := a.ledger.Refund(ctx, userID, txnID, reason)
	if err != nil {
		a.logger.Error("compensating refund failed", "err", err, "txn", txnID)
	}
	return refundID
}

// logFailedQuery writes the QueryLog row for a retrieval-stage failure that
// still consumed a reservation, per spec.md §7: every terminal outcome
// except InsufficientCredits gets a log row.
func (a *app) logFailedQuery(ctx context.Context, queryLogID, userID, queryText string, kind domain.QueryKind, institution string, threshold float32, k int, start time.Time) {
	_ = a.meta.InsertQueryLog(ctx, domain.QueryLog{
		ID: queryLogID, UserID: userID, QueryText: queryText, QueryKind: kind,
		InstitutionFilter: institution, SimilarityThreshold: threshold, K: k,
		CacheUsed: false, ResultsCount: 0, ResponseTimeMS: time.Since(start).Milliseconds(),
		CreditsCharged: 0, CreatedAt: time.Now(),
	})
}

func (a *app) handleAsk(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	flag, err := a.meta.GetMaintenanceFlag(r.Context())
	if err == nil && flag.Enabled && !flag.Bypasses(user.ID) {
		writeError(w, apperr.Wrap("handleAsk", apperr.ErrMaintenanceMode))
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := domain.ValidateQueryText(req.Query); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	queryLogID := newID("qlog")
	start := time.Now()

	plan, err := a.planner.Plan(ctx, retrieval.Request{
		User: user, QueryLogID: queryLogID, QueryText: req.Query,
		Institution: req.Institution, K: req.Limit, Threshold: req.Threshold, UseCache: req.UseCache,
	})
	if err != nil {
		refundID := a.compensateReservation(ctx, user.ID, plan.ReserveTxnID, "retrieval failed")
		if plan.ReserveTxnID != "" {
			a.logFailedQuery(ctx, queryLogID, user.ID, req.Query, domain.QueryKindAsk, req.Institution, req.Threshold, req.Limit, start)
		}
		if refundID != "" {
			writeErrorWithExtra(w, err, map[string]any{"refund_txn_id": refundID})
		} else {
			writeError(w, err)
		}
		return
	}

	if plan.CacheHit {
		a.cacheHits.Inc()
		elapsed := time.Since(start).Milliseconds()
		_ = a.meta.InsertQueryLog(ctx, domain.QueryLog{
			ID: queryLogID, UserID: user.ID, QueryText: req.Query, QueryKind: domain.QueryKindAsk,
			InstitutionFilter: req.Institution, SimilarityThreshold: req.Threshold, K: req.Limit,
			CacheUsed: true, ResultsCount: len(plan.CachedResult.Citations), ResponseTimeMS: elapsed,
			ReliabilityScore: plan.CachedResult.Reliability, ConfidenceScore: plan.CachedResult.Confidence,
			CreditsCharged: 0, TopSources: plan.CachedResult.Citations, CreatedAt: time.Now(),
		})
		writeJSON(w, http.StatusOK, askResponse{
			Answer:      plan.CachedResult.Answer,
			Citations:   toAnswerCitations(plan.CachedResult.Citations),
			Reliability: plan.CachedResult.Reliability,
			Confidence:  plan.CachedResult.Confidence,
			Cached:      true,
			QueryLogID:  queryLogID,
			ElapsedMS:   elapsed,
		})
		return
	}

	composed, err := a.composer.Compose(ctx, req.Query, "openai", "legal_qa", plan.Passages)
	if err != nil {
		refundID, rerr := a.ledger.Refund(ctx, user.ID, plan.ReserveTxnID, "generator failed")
		if rerr != nil {
			a.logger.Error("compensating refund failed", "err", rerr, "txn", plan.ReserveTxnID)
		}
		_ = a.meta.InsertQueryLog(ctx, domain.QueryLog{
			ID: queryLogID, UserID: user.ID, QueryText: req.Query, QueryKind: domain.QueryKindAsk,
			InstitutionFilter: req.Institution, SimilarityThreshold: req.Threshold, K: req.Limit,
			CacheUsed: false, ResultsCount: len(plan.Passages), ResponseTimeMS: time.Since(start).Milliseconds(),
			CreditsCharged: 0, TopSources: toSourceRefs(plan.Passages), CreatedAt: time.Now(),
		})
		writeErrorWithExtra(w, err, map[string]any{"refund_txn_id": refundID})
		return
	}

	score := reliability.Compute(toReliabilityPassages(plan.Passages), len([]rune(composed.Text)), len(plan.Passages), time.Now())
	elapsed := time.Since(start).Milliseconds()

	sources := toSourceRefs(plan.Passages)
	_ = a.meta.InsertQueryLog(ctx, domain.QueryLog{
		ID: queryLogID, UserID: user.ID, QueryText: req.Query, QueryKind: domain.QueryKindAsk,
		InstitutionFilter: req.Institution, SimilarityThreshold: req.Threshold, K: req.Limit,
		CacheUsed: false, ResultsCount: len(plan.Passages), ResponseTimeMS: elapsed,
		ReliabilityScore: score.Reliability, ConfidenceScore: score.Confidence,
		CreditsCharged: 1, TopSources: sources, CreatedAt: time.Now(),
	})

	if req.UseCache {
		a.coordinator.PutQueryResult(ctx, plan.Fingerprint, enginecache.QueryResult{
			Answer: composed.Text, Citations: sources, Reliability: score.Reliability, Confidence: score.Confidence,
		})
	}

	a.asksServed.Inc()
	writeJSON(w, http.StatusOK, askResponse{
		Answer:      composed.Text,
		Citations:   citationsFromComposer(composed.Citations),
		Reliability: score.Reliability,
		Confidence:  score.Confidence,
		Cached:      false,
		QueryLogID:  queryLogID,
		ElapsedMS:   elapsed,
	})
}

type searchRequest struct {
	Query       string  `json:"query"`
	Institution string  `json:"institution"`
	Limit       int     `json:"limit"`
	Threshold   float32 `json:"threshold"`
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := domain.ValidateQueryText(req.Query); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	queryLogID := newID("qlog")
	start := time.Now()

	plan, err := a.planner.Plan(ctx, retrieval.Request{
		User: user, QueryLogID: queryLogID, QueryText: req.Query,
		Institution: req.Institution, K: req.Limit, Threshold: req.Threshold, UseCache: false,
	})
	if err != nil {
		refundID := a.compensateReservation(ctx, user.ID, plan.ReserveTxnID, "retrieval failed")
		if plan.ReserveTxnID != "" {
			a.logFailedQuery(ctx, queryLogID, user.ID, req.Query, domain.QueryKindSearch, req.Institution, req.Threshold, req.Limit, start)
		}
		if refundID != "" {
			writeErrorWithExtra(w, err, map[string]any{"refund_txn_id": refundID})
		} else {
			writeError(w, err)
		}
		return
	}

	elapsed := time.Since(start).Milliseconds()
	_ = a.meta.InsertQueryLog(ctx, domain.QueryLog{
		ID: queryLogID, UserID: user.ID, QueryText: req.Query, QueryKind: domain.QueryKindSearch,
		InstitutionFilter: req.Institution, SimilarityThreshold: req.Threshold, K: req.Limit,
		ResultsCount: len(plan.Passages), ResponseTimeMS: elapsed, CreditsCharged: 1,
		TopSources: toSourceRefs(plan.Passages), CreatedAt: time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"passages":     plan.Passages,
		"query_log_id": queryLogID,
		"elapsed_ms":   elapsed,
	})
}

func (a *app) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	opts := repo.ListOpts{Offset: atoiDefault(r.URL.Query().Get("offset"), 0), Limit: atoiDefault(r.URL.Query().Get("limit"), 20)}

	logs, err := a.meta.ListQueryLogsForUser(r.Context(), user.ID, opts)
	if err != nil {
		writeError(w, apperr.Wrap("handleSearchHistory", apperr.ErrAdapterUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": logs})
}

type feedbackRequest struct {
	QueryLogID string `json:"query_log_id"`
	Kind       string `json:"kind"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (a *app) handleFeedback(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.QueryLogID == "" {
		writeError(w, domain.NewValidationError("query_log_id", "", domain.ErrInvalidQuery))
		return
	}

	f := domain.Feedback{
		ID: newID("fb"), UserID: user.ID, QueryLogID: req.QueryLogID,
		Kind: domain.FeedbackKind(req.Kind), Rating: req.Rating, Comment: req.Comment,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := a.meta.UpsertFeedback(r.Context(), f); err != nil {
		writeError(w, apperr.Wrap("handleFeedback", apperr.ErrAdapterUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleCredits(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	balance, err := a.ledger.Balance(r.Context(), user.ID)
	if err != nil {
		writeError(w, apperr.Wrap("handleCredits", apperr.ErrAdapterUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "is_admin": user.IsAdmin()})
}

// --- mapping helpers ------------------------------------------------------

func toReliabilityPassages(passages []retrieval.RetrievedPassage) []reliability.Passage {
	out := make([]reliability.Passage, len(passages))
	for i, p := range passages {
		// No publication date reaches retrieval.RetrievedPassage today, so
		// the recency term always falls back to missingDateRecency.
		out[i] = reliability.Passage{DocumentID: p.DocumentID, Similarity: float64(p.Similarity)}
	}
	return out
}

func toSourceRefs(passages []retrieval.RetrievedPassage) []domain.SourceRef {
	out := make([]domain.SourceRef, len(passages))
	for i, p := range passages {
		out[i] = domain.SourceRef{DocumentID: p.DocumentID, Title: p.Title, Page: p.Page, Similarity: p.Similarity}
	}
	return out
}

func citationsFromComposer(cites []answer.Citation) []answerCitation {
	out := make([]answerCitation, len(cites))
	for i, c := range cites {
		out[i] = answerCitation{DocumentID: c.DocumentID, Title: c.Title, Page: c.Page}
	}
	return out
}

func toAnswerCitations(refs []domain.SourceRef) []answerCitation {
	out := make([]answerCitation, len(refs))
	for i, r := range refs {
		out[i] = answerCitation{DocumentID: r.DocumentID, Title: r.Title, Page: r.Page}
	}
	return out
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
