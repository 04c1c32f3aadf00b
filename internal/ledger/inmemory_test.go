package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
)

func newTestWallet(t *testing.T, s Store) Wallet {
	t.Helper()
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	w := Wallet{
		ID:                     uuid.NewString(),
		OwnerID:                uuid.NewString(),
		Currency:               "USD",
		Status:                 WalletActive,
		Balance:                decimal.Zero,
		DailyGenerationLimit:   decimal.NewFromInt(1000),
		MonthlyGenerationLimit: decimal.NewFromInt(10000),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

func transfer(ctx context.Context, s Store, fromID, toID string, amount decimal.Decimal, ref string) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		from, err := tx.LockWallet(ctx, fromID)
		if err != nil {
			return err
		}
		to, err := tx.LockWallet(ctx, toID)
		if err != nil {
			return err
		}
		plan, err := PlanTransfer(from, to, amount, decimal.Zero, ref, "p2p", time.Now().UTC())
		if err != nil {
			return err
		}
		return plan.Apply(ctx, tx)
	})
}

func TestInMemoryStore_TransferMaintainsBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(100))

	if err := transfer(ctx, s, a.ID, b.ID, decimal.RequireFromString("15.50"), "client-1"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	gotA, _ := s.Wallet(ctx, a.ID)
	gotB, _ := s.Wallet(ctx, b.ID)
	if !gotA.Balance.Equal(decimal.RequireFromString("84.50")) {
		t.Fatalf("expected from balance 84.50, got %s", gotA.Balance)
	}
	if !gotB.Balance.Equal(decimal.RequireFromString("15.50")) {
		t.Fatalf("expected to balance 15.50, got %s", gotB.Balance)
	}

	entries, err := s.EntriesForWallet(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.Balances.SourceBefore.Decimal.Equal(decimal.NewFromInt(100)) || !e.Balances.SourceAfter.Decimal.Equal(gotA.Balance) {
		t.Fatalf("unexpected source snapshot %+v", e.Balances)
	}
	if !e.Balances.DestinationAfter.Decimal.Equal(gotB.Balance) {
		t.Fatalf("unexpected destination snapshot %+v", e.Balances)
	}
}

func TestInMemoryStore_DuplicateReference(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(50))

	if err := transfer(ctx, s, a.ID, b.ID, decimal.NewFromInt(5), "dup"); err != nil {
		t.Fatalf("initial transfer failed: %v", err)
	}
	if err := transfer(ctx, s, a.ID, b.ID, decimal.NewFromInt(5), "dup"); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	gotA, _ := s.Wallet(ctx, a.ID)
	if !gotA.Balance.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("duplicate must not move funds, balance=%s", gotA.Balance)
	}
	if EntryCount(s) != 1 {
		t.Fatalf("expected 1 entry, got %d", EntryCount(s))
	}
}

func TestInMemoryStore_FailedAppendRollsBack(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(50))

	boom := errors.New("disk full")
	FailAppends(s, boom)
	if err := transfer(ctx, s, a.ID, b.ID, decimal.NewFromInt(5), "ref-1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	FailAppends(s, nil)

	gotA, _ := s.Wallet(ctx, a.ID)
	gotB, _ := s.Wallet(ctx, b.ID)
	if !gotA.Balance.Equal(decimal.NewFromInt(50)) || !gotB.Balance.IsZero() {
		t.Fatalf("balances changed after rollback: a=%s b=%s", gotA.Balance, gotB.Balance)
	}
	if EntryCount(s) != 0 {
		t.Fatalf("expected no entries, got %d", EntryCount(s))
	}
}

func TestInMemoryStore_InsufficientBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(3))

	err := transfer(ctx, s, a.ID, b.ID, decimal.NewFromInt(5), "ref-1")
	if !errors.Is(err, apperror.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestInMemoryStore_CancelledContextDoesNotCommit(t *testing.T) {
	s := NewInMemory()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(10))

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		from, _ := tx.LockWallet(ctx, a.ID)
		to, _ := tx.LockWallet(ctx, b.ID)
		plan, err := PlanTransfer(from, to, decimal.NewFromInt(1), decimal.Zero, "ref", "p2p", time.Now())
		if err != nil {
			return err
		}
		if err := plan.Apply(ctx, tx); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !apperror.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	got, _ := s.Wallet(context.Background(), a.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance changed: %s", got.Balance)
	}
}

func TestInMemoryStore_CreateWalletRejectsSecondForOwner(t *testing.T) {
	s := NewInMemory()
	w := newTestWallet(t, s)
	dup := w
	dup.ID = uuid.NewString()
	if err := s.CreateWallet(context.Background(), dup); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
	got, err := s.WalletByOwner(context.Background(), w.OwnerID)
	if err != nil || got.ID != w.ID {
		t.Fatalf("owner lookup returned %v %v", got.ID, err)
	}
}

func TestInMemoryStore_PendingGenerationsBefore(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	for i, status := range []GenerationStatus{GenerationPending, GenerationCompleted, GenerationPending, GenerationPending} {
		r := GenerationRecord{
			ID:                 uuid.NewString(),
			UserID:             w.OwnerID,
			WalletID:           w.ID,
			Amount:             decimal.NewFromInt(1),
			Currency:           "USD",
			Method:             "standard",
			Status:             status,
			VerificationStatus: VerificationPending,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateGeneration(ctx, r)
		}); err != nil {
			t.Fatalf("create generation: %v", err)
		}
	}

	got, err := s.PendingGenerationsBefore(ctx, base.Add(150*time.Second), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(got))
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatalf("expected oldest first")
	}

	limited, _ := s.PendingGenerationsBefore(ctx, base.Add(time.Hour), 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestInMemoryStore_PendingGenerationsUseIssueTime(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)
	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	r := GenerationRecord{
		ID:                 uuid.NewString(),
		UserID:             w.OwnerID,
		WalletID:           w.ID,
		Amount:             decimal.NewFromInt(1),
		Currency:           "USD",
		Method:             "standard",
		Status:             GenerationPending,
		VerificationStatus: VerificationPending,
		CreatedAt:          base,
		CodeIssuedAt:       base.Add(10 * time.Minute),
	}
	if err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateGeneration(ctx, r)
	}); err != nil {
		t.Fatalf("create generation: %v", err)
	}

	got, _ := s.PendingGenerationsBefore(ctx, base.Add(5*time.Minute), 10)
	if len(got) != 0 {
		t.Fatalf("record with a recently issued code must not be listed, got %d", len(got))
	}
	got, _ = s.PendingGenerationsBefore(ctx, base.Add(11*time.Minute), 10)
	if len(got) != 1 || !got[0].CodeIssuedAt.Equal(r.CodeIssuedAt) {
		t.Fatalf("expected the record once its code lapsed, got %+v", got)
	}
}

func TestInMemoryStore_ConcurrentTransfers(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newTestWallet(t, s)
	b := newTestWallet(t, s)
	SeedBalance(s, a.ID, decimal.NewFromInt(1000))

	const workers = 10
	amount := decimal.NewFromInt(5)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := transfer(ctx, s, a.ID, b.ID, amount, fmt.Sprintf("tx-%d", i)); err != nil {
				t.Errorf("transfer %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	gotA, _ := s.Wallet(ctx, a.ID)
	gotB, _ := s.Wallet(ctx, b.ID)
	if !gotA.Balance.Add(gotB.Balance).Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("funds not conserved: a=%s b=%s", gotA.Balance, gotB.Balance)
	}
	if !gotB.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected 50 transferred, got %s", gotB.Balance)
	}
	if EntryCount(s) != workers {
		t.Fatalf("expected %d entries, got %d", workers, EntryCount(s))
	}
}
