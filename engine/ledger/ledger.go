// Package ledger implements the append-only credit ledger (C4): atomic
// reservation, refund, and grant of query credits. Every mutation goes
// through MetaStore's row-locked balance update so the invariant
// balance == Σ amount holds across every API replica, not just one
// in-process mutex's worth of serialization.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"gorm.io/gorm"
)

// Store is the persistence surface the ledger needs from MetaStore.
type Store interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	ApplyCreditDelta(ctx context.Context, userID string, delta int, kind domain.CreditTransactionKind, description, queryLogID, txnID string) (int, error)
	GetCreditTransaction(ctx context.Context, id string) (domain.CreditTransaction, error)
}

// Ledger mediates every credit-balance mutation.
type Ledger struct {
	store Store
}

// New wraps a MetaStore-backed Store.
func New(store Store) *Ledger { return &Ledger{store: store} }

// Balance returns the user's denormalized balance. Recomputing it from the
// transaction log on every read is the invariant property tests check, not
// the hot path: this is the O(1) read spec.md §4.4 calls for.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// Reserve atomically deducts amount from user's balance for queryLogID and
// returns the deduction's transaction id, which Refund later references.
// Admin users bypass the deduction but still get a zero-amount row so the
// bypass is auditable.
func (l *Ledger) Reserve(ctx context.Context, user domain.User, amount int, queryLogID string) (string, error) {
	if amount < 0 {
		return "", apperr.Wrap("ledger.Reserve", apperr.ErrInvalidInput)
	}
	txnID := uuid.NewString()
	delta := -amount
	description := fmt.Sprintf("reserve %d credits for query %s", amount, queryLogID)
	if user.IsAdmin() {
		delta = 0
		description = "admin bypass: " + description
	}
	if _, err := l.store.ApplyCreditDelta(ctx, user.ID, delta, domain.TxnDeduction, description, queryLogID, txnID); err != nil {
		return "", err
	}
	return txnID, nil
}

// Refund reverses a prior Reserve, crediting back exactly the amount that
// was deducted, and returns the refund's own transaction id. It is
// idempotent: the refund row's id is deterministically derived from the
// original transaction id, so a second call collides on the primary key
// instead of double-crediting the user, and still returns that same id.
func (l *Ledger) Refund(ctx context.Context, userID, originalTxnID, reason string) (string, error) {
	original, err := l.store.GetCreditTransaction(ctx, originalTxnID)
	if err != nil {
		return "", fmt.Errorf("ledger: refund: load original transaction %s: %w", originalTxnID, err)
	}
	if original.Kind != domain.TxnDeduction {
		return "", apperr.Wrap("ledger.Refund", apperr.ErrInvariantViolation)
	}
	refundID := "rf_" + originalTxnID
	if original.Amount == 0 {
		// Admin bypass reservation never actually deducted anything.
		return refundID, nil
	}

	_, err = l.store.ApplyCreditDelta(ctx, userID, -original.Amount, domain.TxnRefund, reason, original.QueryLogID, refundID)
	if err != nil {
		if isDuplicateKey(err) {
			return refundID, nil
		}
		return "", fmt.Errorf("ledger: refund %s: %w", originalTxnID, err)
	}
	return refundID, nil
}

// Grant appends a positive-amount ledger entry: initial allocation, bonus,
// or purchase.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, kind domain.CreditTransactionKind, description string) error {
	if amount <= 0 {
		return apperr.Wrap("ledger.Grant", apperr.ErrInvalidInput)
	}
	txnID := uuid.NewString()
	_, err := l.store.ApplyCreditDelta(ctx, userID, amount, kind, description, "", txnID)
	return err
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
