package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/limits"
	"github.com/congo-pay/mintledger/internal/logging"
)

func newService(t *testing.T, now time.Time) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	enforcer := limits.NewEnforcer(time.UTC, limits.WithClock(func() time.Time { return now }))
	svc := NewService(store, enforcer, Defaults{
		Currency:     "XAF",
		DailyLimit:   decimal.NewFromInt(1000),
		MonthlyLimit: decimal.NewFromInt(5000),
	}, logging.Discard())
	return svc, store
}

func TestServiceCreateAndBalance(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc, store := newService(t, now)
	ctx := context.Background()

	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, CreateInput{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.Currency != "XAF" || w.Status != ledger.WalletActive {
		t.Fatalf("unexpected defaults: %+v", w)
	}
	if !w.DailyGenerationLimit.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected configured daily limit, got %s", w.DailyGenerationLimit)
	}

	mine, err := svc.GetByOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if mine.ID != w.ID {
		t.Fatalf("expected wallet %s, got %s", w.ID, mine.ID)
	}

	ledger.SeedBalance(store, w.ID, decimal.NewFromInt(2500))
	ledger.SeedCounters(store, w.ID, decimal.NewFromInt(300), decimal.NewFromInt(1300), now.Add(-time.Hour))

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected balance 2500, got %s", balance.Amount)
	}
	if !balance.DailyRemaining.Equal(decimal.NewFromInt(700)) || !balance.MonthlyRemaining.Equal(decimal.NewFromInt(3700)) {
		t.Fatalf("unexpected remaining capacity %s/%s", balance.DailyRemaining, balance.MonthlyRemaining)
	}
}

func TestServiceCreateRejectsSecondWallet(t *testing.T) {
	svc, _ := newService(t, time.Now().UTC())
	ctx := context.Background()
	ownerID := uuid.NewString()

	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID, Currency: "usd"}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: ownerID}); !IsExists(err) {
		t.Fatalf("expected wallet exists, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{OwnerID: "not-a-uuid"}); !errors.Is(err, apperror.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS, got %v", err)
	}
}

func TestServiceSetStatus(t *testing.T) {
	svc, store := newService(t, time.Now().UTC())
	ctx := context.Background()
	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, CreateInput{OwnerID: ownerID})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ledger.SeedBalance(store, w.ID, decimal.NewFromInt(42))

	if _, err := svc.SetStatus(ctx, w.ID, ledger.WalletInactive, uuid.NewString()); !errors.Is(err, apperror.ErrWalletNotFound) {
		t.Fatalf("expected foreign wallet to be hidden, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, w.ID, ledger.WalletSuspended, ownerID); !errors.Is(err, apperror.ErrInvalidStatus) {
		t.Fatalf("owner must not suspend, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, w.ID, ledger.WalletStatus("frozen"), ownerID); !errors.Is(err, apperror.ErrInvalidParameters) {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}

	closed, err := svc.SetStatus(ctx, w.ID, ledger.WalletClosed, ownerID)
	if err != nil {
		t.Fatalf("close wallet: %v", err)
	}
	if closed.Status != ledger.WalletClosed || !closed.Balance.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("close must keep the balance: %+v", closed)
	}
	if _, err := svc.SetStatus(ctx, w.ID, ledger.WalletActive, ""); !errors.Is(err, apperror.ErrInvalidStatus) {
		t.Fatalf("closed must be terminal, got %v", err)
	}
}

func TestServiceStatement(t *testing.T) {
	svc, store := newService(t, time.Now().UTC())
	ctx := context.Background()
	from, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	to, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ledger.SeedBalance(store, from.ID, decimal.NewFromInt(100))

	for _, ref := range []string{"t-1", "t-2"} {
		err := store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			src, err := tx.LockWallet(ctx, from.ID)
			if err != nil {
				return err
			}
			dst, err := tx.LockWallet(ctx, to.ID)
			if err != nil {
				return err
			}
			plan, err := ledger.PlanTransfer(src, dst, decimal.NewFromInt(10), decimal.Zero, ref, "test", time.Now().UTC())
			if err != nil {
				return err
			}
			return plan.Apply(ctx, tx)
		})
		if err != nil {
			t.Fatalf("transfer %s: %v", ref, err)
		}
	}

	entries, err := svc.Statement(ctx, to.ID, 1)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected limit to apply, got %d entries", len(entries))
	}
	if _, err := svc.Statement(ctx, uuid.NewString(), 10); !errors.Is(err, apperror.ErrWalletNotFound) {
		t.Fatalf("expected WALLET_NOT_FOUND, got %v", err)
	}
}
