package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"gorm.io/gorm"
)

type fakeStore struct {
	users    map[string]domain.User
	txns     map[string]domain.CreditTransaction
	deltaErr error
}

func newFakeStore(balance int) *fakeStore {
	return &fakeStore{
		users: map[string]domain.User{"u1": {ID: "u1", Role: domain.RoleUser, Balance: balance}},
		txns:  map[string]domain.CreditTransaction{},
	}
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return domain.User{}, apperr.Wrap("fakeStore.GetUser", apperr.ErrNotFound)
	}
	return u, nil
}

func (f *fakeStore) ApplyCreditDelta(ctx context.Context, userID string, delta int, kind domain.CreditTransactionKind, description, queryLogID, txnID string) (int, error) {
	if f.deltaErr != nil {
		return 0, f.deltaErr
	}
	if _, exists := f.txns[txnID]; exists {
		return 0, gorm.ErrDuplicatedKey
	}
	u := f.users[userID]
	candidate := u.Balance + delta
	if candidate < 0 {
		return 0, apperr.Wrap("fakeStore.ApplyCreditDelta", apperr.ErrInsufficientCredits)
	}
	u.Balance = candidate
	f.users[userID] = u
	f.txns[txnID] = domain.CreditTransaction{
		ID: txnID, UserID: userID, Kind: kind, Amount: delta,
		BalanceAfter: candidate, Description: description, QueryLogID: queryLogID,
	}
	return candidate, nil
}

func (f *fakeStore) GetCreditTransaction(ctx context.Context, id string) (domain.CreditTransaction, error) {
	t, ok := f.txns[id]
	if !ok {
		return domain.CreditTransaction{}, apperr.Wrap("fakeStore.GetCreditTransaction", apperr.ErrNotFound)
	}
	return t, nil
}

func TestReserve_DeductsBalance(t *testing.T) {
	store := newFakeStore(30)
	l := New(store)
	user := store.users["u1"]

	txnID, err := l.Reserve(context.Background(), user, 1, "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.users["u1"].Balance != 29 {
		t.Fatalf("expected balance 29, got %d", store.users["u1"].Balance)
	}
	if store.txns[txnID].Amount != -1 {
		t.Fatalf("expected deduction amount -1, got %d", store.txns[txnID].Amount)
	}
}

func TestReserve_InsufficientCredits(t *testing.T) {
	store := newFakeStore(0)
	l := New(store)
	user := store.users["u1"]

	_, err := l.Reserve(context.Background(), user, 1, "q1")
	if !errors.Is(err, apperr.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestReserve_AdminBypassIsZeroCharge(t *testing.T) {
	store := newFakeStore(0)
	store.users["admin1"] = domain.User{ID: "admin1", Role: domain.RoleAdmin, Balance: 0}
	l := New(store)

	txnID, err := l.Reserve(context.Background(), store.users["admin1"], 1, "q1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.txns[txnID].Amount != 0 {
		t.Fatalf("expected zero-amount bypass row, got %d", store.txns[txnID].Amount)
	}
	if store.users["admin1"].Balance != 0 {
		t.Fatalf("admin balance should be unchanged, got %d", store.users["admin1"].Balance)
	}
}

func TestRefund_CreditsBackExactAmount(t *testing.T) {
	store := newFakeStore(10)
	l := New(store)
	user := store.users["u1"]

	txnID, err := l.Reserve(context.Background(), user, 3, "q1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := l.Refund(context.Background(), "u1", txnID, "generator failed"); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if store.users["u1"].Balance != 10 {
		t.Fatalf("expected balance restored to 10, got %d", store.users["u1"].Balance)
	}
}

func TestRefund_IsIdempotent(t *testing.T) {
	store := newFakeStore(10)
	l := New(store)
	user := store.users["u1"]

	txnID, _ := l.Reserve(context.Background(), user, 3, "q1")
	firstRefundID, err := l.Refund(context.Background(), "u1", txnID, "r1")
	if err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	secondRefundID, err := l.Refund(context.Background(), "u1", txnID, "r2")
	if err != nil {
		t.Fatalf("second refund should be a no-op, got error: %v", err)
	}
	if firstRefundID != secondRefundID {
		t.Fatalf("expected idempotent refund id, got %q then %q", firstRefundID, secondRefundID)
	}
	if store.users["u1"].Balance != 10 {
		t.Fatalf("expected balance to remain 10 after double refund, got %d", store.users["u1"].Balance)
	}
}

func TestRefund_AdminBypassIsNoOp(t *testing.T) {
	store := newFakeStore(0)
	store.users["admin1"] = domain.User{ID: "admin1", Role: domain.RoleAdmin, Balance: 0}
	l := New(store)

	txnID, _ := l.Reserve(context.Background(), store.users["admin1"], 1, "q1")
	if _, err := l.Refund(context.Background(), "admin1", txnID, "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.users["admin1"].Balance != 0 {
		t.Fatalf("expected balance unchanged, got %d", store.users["admin1"].Balance)
	}
}

func TestGrant_AddsPositiveAmount(t *testing.T) {
	store := newFakeStore(0)
	l := New(store)

	if err := l.Grant(context.Background(), "u1", 30, domain.TxnInitial, "initial grant"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.users["u1"].Balance != 30 {
		t.Fatalf("expected balance 30, got %d", store.users["u1"].Balance)
	}
}

func TestGrant_RejectsNonPositiveAmount(t *testing.T) {
	store := newFakeStore(0)
	l := New(store)

	if err := l.Grant(context.Background(), "u1", 0, domain.TxnBonus, "oops"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
