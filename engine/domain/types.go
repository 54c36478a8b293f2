// Package domain defines the core entities, state machines, and validation
// rules for the legal-document RAG service. It is the validation gate at
// pipeline entry points and has no dependency on any adapter package.
package domain

import "time"

// DocumentType classifies a legal document.
type DocumentType string

const (
	DocTypeLaw        DocumentType = "law"
	DocTypeRegulation DocumentType = "regulation"
	DocTypeCommunique DocumentType = "communique"
	DocTypeCircular   DocumentType = "circular"
	DocTypeDecision   DocumentType = "decision"
	DocTypeOther      DocumentType = "other"
)

// ValidDocumentTypes is the set of recognised document types.
var ValidDocumentTypes = map[DocumentType]bool{
	DocTypeLaw: true, DocTypeRegulation: true, DocTypeCommunique: true,
	DocTypeCircular: true, DocTypeDecision: true, DocTypeOther: true,
}

// ProcessingStatus is the ingestion state machine for a Document.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// VisibilityStatus is the catalog-listing flag, orthogonal to ProcessingStatus.
type VisibilityStatus string

const (
	VisibilityActive   VisibilityStatus = "active"
	VisibilityArchived VisibilityStatus = "archived"
	VisibilityDeleted  VisibilityStatus = "deleted"
)

// MaxDocumentBytes is the upload size ceiling (100 MB).
const MaxDocumentBytes = 100_000_000

// Document is a single uploaded legal document and its ingestion state.
type Document struct {
	ID                string
	Title             string
	OriginalFilename  string
	BlobURL           string
	SizeBytes         int64
	SourceInstitution string
	DocType           DocumentType
	Category          string
	Keywords          []string
	PublicationDate   *time.Time
	Language          string
	UploaderID        string
	Metadata          map[string]string

	ProcessingStatus ProcessingStatus
	Visibility       VisibilityStatus
	ProcessingError  string
	PassageCount     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDocument builds a Document in its initial pending/active state.
func NewDocument(id, title, filename, blobURL string, size int64, institution string, docType DocumentType, uploaderID string) Document {
	now := time.Now()
	return Document{
		ID:                id,
		Title:             title,
		OriginalFilename:  filename,
		BlobURL:           blobURL,
		SizeBytes:         size,
		SourceInstitution: institution,
		DocType:           docType,
		Language:          "tr",
		UploaderID:        uploaderID,
		Metadata:          map[string]string{},
		ProcessingStatus:  ProcessingPending,
		Visibility:        VisibilityActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Passage is a single indexed chunk of a Document, identified by
// (DocumentID, ChunkIndex). Passages live exclusively in the vector index.
type Passage struct {
	DocumentID  string
	ChunkIndex  int
	Text        string
	Embedding   []float32
	Page        int
	LineStart   int
	LineEnd     int
	Institution string
	DocTitle    string
	Metadata    map[string]string
}

// Role identifies a user's permission level.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RolePremium Role = "premium"
)

// User is an authenticated account with a credit balance.
type User struct {
	ID      string
	Email   string
	Role    Role
	Balance int
}

// IsAdmin reports whether the user bypasses credit deduction.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CreditTransactionKind classifies a ledger entry.
type CreditTransactionKind string

const (
	TxnInitial   CreditTransactionKind = "initial"
	TxnDeduction CreditTransactionKind = "deduction"
	TxnRefund    CreditTransactionKind = "refund"
	TxnBonus     CreditTransactionKind = "bonus"
	TxnPurchase  CreditTransactionKind = "purchase"
)

// CreditTransaction is a single append-only ledger entry.
type CreditTransaction struct {
	ID           string
	UserID       string
	Kind         CreditTransactionKind
	Amount       int
	BalanceAfter int
	Description  string
	QueryLogID   string
	CreatedAt    time.Time
}

// QueryKind classifies how a QueryLog entry was produced.
type QueryKind string

const (
	QueryKindSearch QueryKind = "search"
	QueryKindAsk    QueryKind = "ask"
	QueryKindBrowse QueryKind = "browse"
)

// SourceRef is a denormalized citation pointer stored on a QueryLog.
type SourceRef struct {
	DocumentID string
	Title      string
	Page       int
	Similarity float32
}

// QueryLog is an immutable, once-written record of a completed query.
type QueryLog struct {
	ID                  string
	UserID              string
	SessionID           string
	QueryText           string
	QueryKind           QueryKind
	InstitutionFilter   string
	SimilarityThreshold float32
	K                   int
	CacheUsed           bool
	ResultsCount        int
	ResponseTimeMS      int64
	ReliabilityScore    float64
	ConfidenceScore     float64
	CreditsCharged      int
	TopSources          []SourceRef
	Metadata            map[string]string
	CreatedAt           time.Time
}

// FeedbackKind classifies a feedback submission.
type FeedbackKind string

const (
	FeedbackUp      FeedbackKind = "up"
	FeedbackDown    FeedbackKind = "down"
	FeedbackRating  FeedbackKind = "rating"
	FeedbackComment FeedbackKind = "comment"
	FeedbackBug     FeedbackKind = "bug"
)

// Feedback is at most one live record per (UserID, QueryLogID).
type Feedback struct {
	ID         string
	UserID     string
	QueryLogID string
	Kind       FeedbackKind
	Rating     int
	Comment    string
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MaintenanceFlag is the singleton maintenance-mode switch.
type MaintenanceFlag struct {
	Enabled     bool
	Title       string
	Message     string
	WindowStart *time.Time
	WindowEnd   *time.Time
	Allowlist   []string
}

// Bypasses reports whether userID is exempt from maintenance mode.
func (m MaintenanceFlag) Bypasses(userID string) bool {
	for _, id := range m.Allowlist {
		if id == userID {
			return true
		}
	}
	return false
}
