package metastore

import (
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

// The gorm* structs are the relational shape of the domain types. Keeping
// them separate from engine/domain means a schema migration never forces a
// change on the pipeline-facing types, and vice versa.

type gormDocument struct {
	ID                string `gorm:"primaryKey"`
	Title             string
	OriginalFilename  string
	BlobURL           string
	SizeBytes         int64
	SourceInstitution string `gorm:"index"`
	DocType           string `gorm:"index"`
	Category          string
	Keywords          string // comma-joined
	PublicationDate   *time.Time
	Language          string
	UploaderID        string `gorm:"index"`
	Metadata          string // JSON-encoded map[string]string

	ProcessingStatus string `gorm:"index"`
	Visibility       string `gorm:"index"`
	ProcessingError  string
	PassageCount     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (gormDocument) TableName() string { return "documents" }

type gormUser struct {
	ID      string `gorm:"primaryKey"`
	Email   string `gorm:"uniqueIndex"`
	Role    string
	Balance int
}

func (gormUser) TableName() string { return "users" }

type gormCreditTransaction struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	Kind         string
	Amount       int
	BalanceAfter int
	Description  string
	QueryLogID   string
	CreatedAt    time.Time
}

func (gormCreditTransaction) TableName() string { return "credit_transactions" }

type gormQueryLog struct {
	ID                  string `gorm:"primaryKey"`
	UserID              string `gorm:"index"`
	SessionID           string
	QueryText           string
	QueryKind           string
	InstitutionFilter   string
	SimilarityThreshold float32
	K                   int
	CacheUsed           bool
	ResultsCount        int
	ResponseTimeMS      int64
	ReliabilityScore    float64
	ConfidenceScore     float64
	CreditsCharged      int
	TopSourcesJSON      string
	MetadataJSON        string
	CreatedAt           time.Time
}

func (gormQueryLog) TableName() string { return "query_logs" }

type gormFeedback struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"uniqueIndex:idx_user_query"`
	QueryLogID string `gorm:"uniqueIndex:idx_user_query"`
	Kind       string
	Rating     int
	Comment    string
	TagsJSON   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (gormFeedback) TableName() string { return "feedback" }

// gormMaintenanceFlag is a singleton row, always keyed ID=1.
type gormMaintenanceFlag struct {
	ID            int `gorm:"primaryKey"`
	Enabled       bool
	Title         string
	Message       string
	WindowStart   *time.Time
	WindowEnd     *time.Time
	AllowlistJSON string
}

func (gormMaintenanceFlag) TableName() string { return "maintenance_flags" }

func fromGormDocument(g gormDocument) domain.Document {
	return domain.Document{
		ID:                g.ID,
		Title:             g.Title,
		OriginalFilename:  g.OriginalFilename,
		BlobURL:           g.BlobURL,
		SizeBytes:         g.SizeBytes,
		SourceInstitution: g.SourceInstitution,
		DocType:           domain.DocumentType(g.DocType),
		Category:          g.Category,
		Keywords:          splitCSV(g.Keywords),
		PublicationDate:   g.PublicationDate,
		Language:          g.Language,
		UploaderID:        g.UploaderID,
		Metadata:          decodeStringMap(g.Metadata),
		ProcessingStatus:  domain.ProcessingStatus(g.ProcessingStatus),
		Visibility:        domain.VisibilityStatus(g.Visibility),
		ProcessingError:   g.ProcessingError,
		PassageCount:      g.PassageCount,
		CreatedAt:         g.CreatedAt,
		UpdatedAt:         g.UpdatedAt,
	}
}

func toGormDocument(d domain.Document) gormDocument {
	return gormDocument{
		ID:                d.ID,
		Title:             d.Title,
		OriginalFilename:  d.OriginalFilename,
		BlobURL:           d.BlobURL,
		SizeBytes:         d.SizeBytes,
		SourceInstitution: d.SourceInstitution,
		DocType:           string(d.DocType),
		Category:          d.Category,
		Keywords:          joinCSV(d.Keywords),
		PublicationDate:   d.PublicationDate,
		Language:          d.Language,
		UploaderID:        d.UploaderID,
		Metadata:          encodeStringMap(d.Metadata),
		ProcessingStatus:  string(d.ProcessingStatus),
		Visibility:        string(d.Visibility),
		ProcessingError:   d.ProcessingError,
		PassageCount:      d.PassageCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func fromGormUser(g gormUser) domain.User {
	return domain.User{ID: g.ID, Email: g.Email, Role: domain.Role(g.Role), Balance: g.Balance}
}

func fromGormQueryLog(g gormQueryLog) domain.QueryLog {
	return domain.QueryLog{
		ID:                  g.ID,
		UserID:              g.UserID,
		SessionID:           g.SessionID,
		QueryText:           g.QueryText,
		QueryKind:           domain.QueryKind(g.QueryKind),
		InstitutionFilter:   g.InstitutionFilter,
		SimilarityThreshold: g.SimilarityThreshold,
		K:                   g.K,
		CacheUsed:           g.CacheUsed,
		ResultsCount:        g.ResultsCount,
		ResponseTimeMS:      g.ResponseTimeMS,
		ReliabilityScore:    g.ReliabilityScore,
		ConfidenceScore:     g.ConfidenceScore,
		CreditsCharged:      g.CreditsCharged,
		TopSources:          decodeSourceRefs(g.TopSourcesJSON),
		Metadata:            decodeStringMap(g.MetadataJSON),
		CreatedAt:           g.CreatedAt,
	}
}

func toGormQueryLog(q domain.QueryLog) gormQueryLog {
	return gormQueryLog{
		ID:                  q.ID,
		UserID:              q.UserID,
		SessionID:           q.SessionID,
		QueryText:           q.QueryText,
		QueryKind:           string(q.QueryKind),
		InstitutionFilter:   q.InstitutionFilter,
		SimilarityThreshold: q.SimilarityThreshold,
		K:                   q.K,
		CacheUsed:           q.CacheUsed,
		ResultsCount:        q.ResultsCount,
		ResponseTimeMS:      q.ResponseTimeMS,
		ReliabilityScore:    q.ReliabilityScore,
		ConfidenceScore:     q.ConfidenceScore,
		CreditsCharged:      q.CreditsCharged,
		TopSourcesJSON:      encodeSourceRefs(q.TopSources),
		MetadataJSON:        encodeStringMap(q.Metadata),
		CreatedAt:           q.CreatedAt,
	}
}

func fromGormFeedback(g gormFeedback) domain.Feedback {
	return domain.Feedback{
		ID:         g.ID,
		UserID:     g.UserID,
		QueryLogID: g.QueryLogID,
		Kind:       domain.FeedbackKind(g.Kind),
		Rating:     g.Rating,
		Comment:    g.Comment,
		Tags:       splitCSV(g.TagsJSON),
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func toGormFeedback(f domain.Feedback) gormFeedback {
	return gormFeedback{
		ID:         f.ID,
		UserID:     f.UserID,
		QueryLogID: f.QueryLogID,
		Kind:       string(f.Kind),
		Rating:     f.Rating,
		Comment:    f.Comment,
		TagsJSON:   joinCSV(f.Tags),
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func fromGormMaintenanceFlag(g gormMaintenanceFlag) domain.MaintenanceFlag {
	return domain.MaintenanceFlag{
		Enabled:     g.Enabled,
		Title:       g.Title,
		Message:     g.Message,
		WindowStart: g.WindowStart,
		WindowEnd:   g.WindowEnd,
		Allowlist:   splitCSV(g.AllowlistJSON),
	}
}

func toGormMaintenanceFlag(m domain.MaintenanceFlag) gormMaintenanceFlag {
	return gormMaintenanceFlag{
		ID:          1,
		Enabled:     m.Enabled,
		Title:       m.Title,
		Message:     m.Message,
		WindowStart: m.WindowStart,
		WindowEnd:   m.WindowEnd,
		AllowlistJSON: joinCSV(m.Allowlist),
	}
}
