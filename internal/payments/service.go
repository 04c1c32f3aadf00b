package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/ledger"
)

// ErrNotOwner indicates the caller does not own the source wallet.
var ErrNotOwner = errors.New("not owner of source wallet")

var errSelfTransfer = apperror.New(apperror.KindSelfTransferRejected, "cannot transfer to the same wallet")

// Service moves balance between wallets.
type Service struct {
	store     ledger.Store
	fees      FeePolicy
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a transfer service.
func NewService(store ledger.Store, fees FeePolicy, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, fees: fees, publisher: publisher, logger: logger, now: time.Now}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	FromWalletID    string
	ToWalletID      string
	Amount          decimal.Decimal
	Description     string
	ClientTxID      string
	RequestorUserID string
}

// Quote returns the fee a transfer of amount would be charged.
func (s *Service) Quote(amount decimal.Decimal) decimal.Decimal {
	return s.fees.Fee(amount)
}

// Transfer debits amount plus fee from the source wallet, credits amount to
// the destination and journals both legs as one entry. Retrying with the same
// ClientTxID returns the original entry together with ledger.ErrDuplicateEntry.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (ledger.Entry, error) {
	if err := ledger.CheckAmount(input.Amount); err != nil {
		return ledger.Entry{}, err
	}
	if input.FromWalletID == "" || input.ToWalletID == "" {
		return ledger.Entry{}, apperror.New(apperror.KindInvalidParameters, "source and destination wallets are required")
	}
	if strings.EqualFold(strings.TrimSpace(input.FromWalletID), strings.TrimSpace(input.ToWalletID)) {
		return ledger.Entry{}, errSelfTransfer
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.New().String()
	}
	description := input.Description
	if description == "" {
		description = "p2p transfer"
	}
	fee := s.fees.Fee(input.Amount)

	var entry ledger.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		from, to, err := lockPair(ctx, tx, input.FromWalletID, input.ToWalletID)
		if err != nil {
			return err
		}
		// Different spellings of one id lock the same row.
		if from.ID == to.ID {
			return errSelfTransfer
		}
		if input.RequestorUserID != "" && from.OwnerID != input.RequestorUserID {
			return ErrNotOwner
		}

		existing, err := tx.EntryByReference(ctx, ledger.EntryTransfer, input.ClientTxID)
		if err == nil {
			if existing.SourceWalletID != from.ID {
				return apperror.Newf(apperror.KindInvalidParameters, "client transaction id %s is already in use", input.ClientTxID)
			}
			entry = existing
			return ledger.ErrDuplicateEntry
		}
		if !errors.Is(err, ledger.ErrEntryNotFound) {
			return err
		}
		if !from.Active() {
			return apperror.Newf(apperror.KindWalletInactive, "source wallet %s is %s", from.ID, from.Status)
		}
		if !to.Active() {
			return apperror.Newf(apperror.KindWalletInactive, "destination wallet %s is %s", to.ID, to.Status)
		}
		if from.Currency != to.Currency {
			return apperror.Newf(apperror.KindInvalidParameters, "currency mismatch: %s to %s", from.Currency, to.Currency)
		}

		plan, err := ledger.PlanTransfer(from, to, input.Amount, fee, input.ClientTxID, description, s.now().UTC())
		if err != nil {
			return err
		}
		if err := plan.Apply(ctx, tx); err != nil {
			return err
		}
		entry = plan.Entry
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		if entry.ID == "" {
			// Lost a race with a concurrent retry; read the winner.
			entry, err = s.lookup(ctx, input.ClientTxID)
			if err != nil {
				return ledger.Entry{}, err
			}
		}
		return entry, ledger.ErrDuplicateEntry
	}
	if err != nil {
		return ledger.Entry{}, err
	}

	s.logger.Info("transfer completed", "transaction_id", entry.ID, "from_wallet_id", entry.SourceWalletID,
		"to_wallet_id", entry.DestinationWalletID, "amount", entry.Amount.StringFixed(2), "fee", entry.Fee.StringFixed(2))
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Name: events.TransferCompleted,
		Key:  entry.SourceWalletID,
		Payload: events.TransferCompletedPayload{
			TransactionID: entry.ID,
			FromWalletID:  entry.SourceWalletID,
			ToWalletID:    entry.DestinationWalletID,
			Amount:        entry.Amount,
			Fee:           entry.Fee,
		},
		OccurredAt: entry.CompletedAt,
	})
	return entry, nil
}

func (s *Service) lookup(ctx context.Context, reference string) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = tx.EntryByReference(ctx, ledger.EntryTransfer, reference)
		return err
	})
	return entry, err
}

// lockPair locks both wallets in id order so opposing transfers cannot deadlock.
func lockPair(ctx context.Context, tx ledger.Tx, fromID, toID string) (ledger.Wallet, ledger.Wallet, error) {
	firstID, secondID := fromID, toID
	if strings.ToLower(secondID) < strings.ToLower(firstID) {
		firstID, secondID = secondID, firstID
	}
	first, err := tx.LockWallet(ctx, firstID)
	if err != nil {
		return ledger.Wallet{}, ledger.Wallet{}, err
	}
	second, err := tx.LockWallet(ctx, secondID)
	if err != nil {
		return ledger.Wallet{}, ledger.Wallet{}, err
	}
	if strings.EqualFold(first.ID, fromID) {
		return first, second, nil
	}
	return second, first, nil
}
