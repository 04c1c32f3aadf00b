package wallet

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/limits"
)

const maxStatementEntries = 200

// Service provisions wallets and exposes their state.
type Service struct {
	store    ledger.Store
	limits   *limits.Enforcer
	defaults Defaults
	logger   *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, enforcer *limits.Enforcer, defaults Defaults, logger *slog.Logger) *Service {
	if defaults.Currency == "" {
		defaults.Currency = "XAF"
	}
	return &Service{store: store, limits: enforcer, defaults: defaults, logger: logger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions an active wallet with the configured generation limits.
// Each owner holds at most one wallet.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return ledger.Wallet{}, apperror.Newf(apperror.KindInvalidParameters, "invalid owner id %q", input.OwnerID)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.defaults.Currency
	}

	now := s.limits.Now()
	w := ledger.Wallet{
		ID:                     uuid.New().String(),
		OwnerID:                input.OwnerID,
		Currency:               currency,
		Status:                 ledger.WalletActive,
		Balance:                decimal.Zero,
		DailyGenerationLimit:   s.defaults.DailyLimit,
		MonthlyGenerationLimit: s.defaults.MonthlyLimit,
		DailyGenerated:         decimal.Zero,
		MonthlyGenerated:       decimal.Zero,
		TotalGenerated:         decimal.Zero,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet created", "wallet_id", w.ID, "owner_id", w.OwnerID, "currency", w.Currency)
	return w, nil
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.store.Wallet(ctx, id)
}

// GetByOwner retrieves the wallet provisioned for a user.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return s.store.WalletByOwner(ctx, ownerID)
}

// Balance returns the wallet balance and remaining generation capacity.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	remaining := s.limits.Remaining(w)
	return Balance{
		WalletID:         w.ID,
		Amount:           w.Balance,
		Currency:         w.Currency,
		DailyRemaining:   remaining.Daily,
		MonthlyRemaining: remaining.Monthly,
		AsOf:             s.limits.Now(),
	}, nil
}

// Statement returns the most recent journal entries touching the wallet.
func (s *Service) Statement(ctx context.Context, id string, limit int) ([]ledger.Entry, error) {
	if _, err := s.store.Wallet(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxStatementEntries {
		limit = maxStatementEntries
	}
	return s.store.EntriesForWallet(ctx, id, limit)
}

// SetStatus moves a wallet to status. Closed is terminal. When requestorID is
// set the caller must own the wallet and cannot lift a suspension.
func (s *Service) SetStatus(ctx context.Context, id string, status ledger.WalletStatus, requestorID string) (ledger.Wallet, error) {
	if !status.Valid() {
		return ledger.Wallet{}, apperror.Newf(apperror.KindInvalidParameters, "unknown wallet status %q", status)
	}

	var updated ledger.Wallet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		if requestorID != "" && w.OwnerID != requestorID {
			return apperror.Newf(apperror.KindWalletNotFound, "wallet %s not found", id)
		}
		switch {
		case w.Status == status:
			updated = w
			return nil
		case w.Status == ledger.WalletClosed:
			return apperror.Newf(apperror.KindInvalidStatus, "wallet %s is closed", w.ID)
		case requestorID != "" && (w.Status == ledger.WalletSuspended || status == ledger.WalletSuspended):
			return apperror.Newf(apperror.KindInvalidStatus, "wallet %s suspension is managed by operations", w.ID)
		}
		w.Status = status
		w.UpdatedAt = s.limits.Now()
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet status changed", "wallet_id", updated.ID, "status", updated.Status)
	return updated, nil
}

// IsExists reports whether err signals an owner already holding a wallet.
func IsExists(err error) bool {
	return errors.Is(err, ledger.ErrWalletExists)
}
