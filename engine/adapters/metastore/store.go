// Package metastore is the Postgres-backed system of record for documents,
// users, the credit ledger, query logs, feedback, and the maintenance flag.
// It owns the only writes to user balances, serialized through row-level
// locking inside a single transaction per ledger operation, rather than an
// in-process mutex that would not hold across multiple API replicas.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config configures the Postgres connection pool.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store wraps a *gorm.DB with the queries every other component needs.
type Store struct {
	db *gorm.DB
}

// New connects to Postgres and configures the pool.
func New(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("metastore: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("metastore: get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{db: db}, nil
}

// NewWithDB wraps a pre-opened *gorm.DB, used by tests and migrations.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate runs auto-migration for every table this store owns.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&gormDocument{}, &gormUser{}, &gormCreditTransaction{},
		&gormQueryLog{}, &gormFeedback{}, &gormMaintenanceFlag{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Documents ---

// CreateDocument inserts a new Document row.
func (s *Store) CreateDocument(ctx context.Context, d domain.Document) error {
	g := toGormDocument(d)
	if err := s.db.WithContext(ctx).Create(&g).Error; err != nil {
		return fmt.Errorf("metastore: create document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var g gormDocument
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Document{}, apperr.Wrap("metastore.GetDocument", apperr.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("metastore: get document %s: %w", id, err)
	}
	return fromGormDocument(g), nil
}

// ListDocuments returns documents matching opts, ordered newest first.
func (s *Store) ListDocuments(ctx context.Context, opts repo.ListOpts) ([]domain.Document, error) {
	q := s.db.WithContext(ctx).Model(&gormDocument{}).Order("created_at DESC")
	q = applyListOpts(q, opts)

	var rows []gormDocument
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("metastore: list documents: %w", err)
	}
	out := make([]domain.Document, len(rows))
	for i, r := range rows {
		out[i] = fromGormDocument(r)
	}
	return out, nil
}

// TransitionProcessing performs a compare-and-set on a document's
// processing status, guaranteeing at most one worker can successfully move
// a document out of `from`. Returns (true, nil) only when this call won the
// race.
func (s *Store) TransitionProcessing(ctx context.Context, id string, from, to domain.ProcessingStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&gormDocument{}).
		Where("id = ? AND processing_status = ?", id, string(from)).
		Updates(map[string]any{"processing_status": string(to), "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("metastore: transition document %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkProcessingFailed records a terminal failure with its cause.
func (s *Store) MarkProcessingFailed(ctx context.Context, id, reason string) error {
	return s.db.WithContext(ctx).Model(&gormDocument{}).Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": string(domain.ProcessingFailed),
			"processing_error":  reason,
			"updated_at":        time.Now(),
		}).Error
}

// CompleteProcessing marks ingestion done and records the final passage
// count.
func (s *Store) CompleteProcessing(ctx context.Context, id string, passageCount int) error {
	return s.db.WithContext(ctx).Model(&gormDocument{}).Where("id = ?", id).
		Updates(map[string]any{
			"processing_status": string(domain.ProcessingCompleted),
			"passage_count":     passageCount,
			"updated_at":        time.Now(),
		}).Error
}

// UpdateDocumentMetadata applies an admin metadata patch (title, category,
// keywords, visibility).
func (s *Store) UpdateDocumentMetadata(ctx context.Context, id string, patch map[string]any) error {
	patch["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&gormDocument{}).Where("id = ?", id).Updates(patch).Error
}

// StuckProcessing returns documents that have been `processing` longer than
// threshold, for the sweeper to reset to pending and requeue.
func (s *Store) StuckProcessing(ctx context.Context, threshold time.Duration) ([]domain.Document, error) {
	cutoff := time.Now().Add(-threshold)
	var rows []gormDocument
	err := s.db.WithContext(ctx).
		Where("processing_status = ? AND updated_at < ?", string(domain.ProcessingInProgress), cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("metastore: find stuck documents: %w", err)
	}
	out := make([]domain.Document, len(rows))
	for i, r := range rows {
		out[i] = fromGormDocument(r)
	}
	return out, nil
}

// --- Users & credit ledger ---

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var g gormUser
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, apperr.Wrap("metastore.GetUser", apperr.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("metastore: get user %s: %w", id, err)
	}
	return fromGormUser(g), nil
}

// ApplyCreditDelta atomically adjusts a user's balance and appends a ledger
// row in one transaction, using SELECT ... FOR UPDATE to serialize
// concurrent deductions against the same user across every API replica. It
// refuses to apply a delta that would drive the balance negative.
func (s *Store) ApplyCreditDelta(ctx context.Context, userID string, delta int, kind domain.CreditTransactionKind, description, queryLogID, txnID string) (int, error) {
	var newBalance int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user gormUser
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
			return err
		}

		candidate := user.Balance + delta
		if candidate < 0 {
			return apperr.Wrap("metastore.ApplyCreditDelta", apperr.ErrInsufficientCredits)
		}

		if err := tx.Model(&user).Update("balance", candidate).Error; err != nil {
			return err
		}

		entry := gormCreditTransaction{
			ID:           txnID,
			UserID:       userID,
			Kind:         string(kind),
			Amount:       delta,
			BalanceAfter: candidate,
			Description:  description,
			QueryLogID:   queryLogID,
			CreatedAt:    time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		newBalance = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientCredits) {
			return 0, err
		}
		return 0, fmt.Errorf("metastore: apply credit delta for %s: %w", userID, err)
	}
	return newBalance, nil
}

// GetCreditTransaction fetches a single ledger row by id, used by the
// ledger to look up the original deduction a refund reverses.
func (s *Store) GetCreditTransaction(ctx context.Context, id string) (domain.CreditTransaction, error) {
	var g gormCreditTransaction
	err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CreditTransaction{}, apperr.Wrap("metastore.GetCreditTransaction", apperr.ErrNotFound)
	}
	if err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("metastore: get credit transaction %s: %w", id, err)
	}
	return domain.CreditTransaction{
		ID:           g.ID,
		UserID:       g.UserID,
		Kind:         domain.CreditTransactionKind(g.Kind),
		Amount:       g.Amount,
		BalanceAfter: g.BalanceAfter,
		Description:  g.Description,
		QueryLogID:   g.QueryLogID,
		CreatedAt:    g.CreatedAt,
	}, nil
}

// --- Query logs ---

// InsertQueryLog appends an immutable query log row.
func (s *Store) InsertQueryLog(ctx context.Context, q domain.QueryLog) error {
	g := toGormQueryLog(q)
	if err := s.db.WithContext(ctx).Create(&g).Error; err != nil {
		return fmt.Errorf("metastore: insert query log: %w", err)
	}
	return nil
}

// ListQueryLogsForUser returns a user's query history, newest first.
func (s *Store) ListQueryLogsForUser(ctx context.Context, userID string, opts repo.ListOpts) ([]domain.QueryLog, error) {
	q := s.db.WithContext(ctx).Model(&gormQueryLog{}).Where("user_id = ?", userID).Order("created_at DESC")
	q = applyListOpts(q, opts)

	var rows []gormQueryLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("metastore: list query logs for %s: %w", userID, err)
	}
	out := make([]domain.QueryLog, len(rows))
	for i, r := range rows {
		out[i] = fromGormQueryLog(r)
	}
	return out, nil
}

// --- Feedback ---

// UpsertFeedback inserts feedback for a (user, query) pair or updates the
// existing row, enforcing the at-most-one-per-pair invariant with an
// ON CONFLICT clause rather than a read-then-write race.
func (s *Store) UpsertFeedback(ctx context.Context, f domain.Feedback) error {
	g := toGormFeedback(f)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "query_log_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "rating", "comment", "tags_json", "updated_at"}),
	}).Create(&g).Error
	if err != nil {
		return fmt.Errorf("metastore: upsert feedback: %w", err)
	}
	return nil
}

// --- Maintenance flag ---

// GetMaintenanceFlag reads the singleton maintenance row, defaulting to
// disabled if it has never been set.
func (s *Store) GetMaintenanceFlag(ctx context.Context) (domain.MaintenanceFlag, error) {
	var g gormMaintenanceFlag
	err := s.db.WithContext(ctx).First(&g, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.MaintenanceFlag{}, nil
	}
	if err != nil {
		return domain.MaintenanceFlag{}, fmt.Errorf("metastore: get maintenance flag: %w", err)
	}
	return fromGormMaintenanceFlag(g), nil
}

// SetMaintenanceFlag upserts the singleton maintenance row.
func (s *Store) SetMaintenanceFlag(ctx context.Context, m domain.MaintenanceFlag) error {
	g := toGormMaintenanceFlag(m)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&g).Error
	if err != nil {
		return fmt.Errorf("metastore: set maintenance flag: %w", err)
	}
	return nil
}

func applyListOpts(q *gorm.DB, opts repo.ListOpts) *gorm.DB {
	for k, v := range opts.Filter {
		q = q.Where(fmt.Sprintf("%s = ?", k), v)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}
