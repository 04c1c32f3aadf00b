package settlement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/ledger"
)

// ErrNotOwner indicates the caller does not own the wallet being paid out.
var ErrNotOwner = errors.New("not owner of wallet")

// Service records payouts to providers and reconciles their notifications
// against the ledger.
type Service struct {
	store     ledger.Store
	registry  *Registry
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a settlement service.
func NewService(store ledger.Store, registry *Registry, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, registry: registry, publisher: publisher, logger: logger, now: time.Now}
}

// PayoutInput moves funds out of a wallet through a provider.
type PayoutInput struct {
	Provider        string
	ExternalRef     string
	WalletID        string
	Amount          decimal.Decimal
	Description     string
	RequestorUserID string
}

// Payout debits the wallet and asks the provider to send the funds. The
// provider reports the outcome through Reconcile under the same external
// reference. Repeating a payout returns the original entry together with
// ledger.ErrDuplicateEntry.
func (s *Service) Payout(ctx context.Context, in PayoutInput) (ledger.Entry, error) {
	provider, ok := s.registry.Lookup(in.Provider)
	if !ok {
		return ledger.Entry{}, apperror.Newf(apperror.KindInvalidParameters, "unknown provider %q", in.Provider)
	}
	if strings.TrimSpace(in.ExternalRef) == "" || in.WalletID == "" {
		return ledger.Entry{}, apperror.New(apperror.KindInvalidParameters, "external reference and wallet are required")
	}
	if err := ledger.CheckAmount(in.Amount); err != nil {
		return ledger.Entry{}, err
	}
	description := in.Description
	if description == "" {
		description = "payout: " + provider.Name()
	}

	reference := payoutRef(provider, in.ExternalRef)
	var entry ledger.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.LockWallet(ctx, in.WalletID)
		if err != nil {
			return err
		}
		if in.RequestorUserID != "" && w.OwnerID != in.RequestorUserID {
			return ErrNotOwner
		}

		existing, err := tx.EntryByReference(ctx, ledger.EntryPayout, reference)
		if err == nil {
			if existing.SourceWalletID != w.ID {
				return apperror.Newf(apperror.KindInvalidParameters, "external reference %s is already in use", in.ExternalRef)
			}
			entry = existing
			return ledger.ErrDuplicateEntry
		}
		if !errors.Is(err, ledger.ErrEntryNotFound) {
			return err
		}
		if !w.Active() {
			return apperror.Newf(apperror.KindWalletInactive, "wallet %s is %s", w.ID, w.Status)
		}

		plan, err := ledger.PlanPayout(w, in.Amount, reference, description, s.now().UTC())
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
			if entry, err = s.entryByReference(ctx, ledger.EntryPayout, reference); err != nil {
				return ledger.Entry{}, err
			}
		}
		return entry, ledger.ErrDuplicateEntry
	}
	if err != nil {
		return ledger.Entry{}, err
	}

	s.logger.Info("payout requested", "provider", provider.Name(), "external_ref", in.ExternalRef,
		"wallet_id", entry.SourceWalletID, "amount", entry.Amount.StringFixed(2))
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Name: events.PayoutRequested,
		Key:  entry.SourceWalletID,
		Payload: events.PayoutRequestedPayload{
			TransactionID: entry.ID,
			Provider:      provider.Name(),
			ExternalRef:   in.ExternalRef,
			WalletID:      entry.SourceWalletID,
			Amount:        entry.Amount,
			Currency:      entry.Currency,
		},
	})
	return entry, nil
}

// Notification is a payout status report from a provider.
type Notification struct {
	Provider    string
	ExternalRef string
	WalletID    string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      string
}

// Result describes what a notification did to the ledger. Entry is nil when
// the notification was acknowledged without a balance change.
type Result struct {
	Provider    string
	ExternalRef string
	Status      Status
	Entry       *ledger.Entry
}

// Reconcile applies a notification to the payout it names. A failed payout
// refunds the wallet up to the amount paid out, a completed payout with a fee
// charges it. Notifications for unknown payouts are rejected. Replaying a
// notification returns the original entry together with
// ledger.ErrDuplicateEntry.
func (s *Service) Reconcile(ctx context.Context, n Notification) (Result, error) {
	provider, ok := s.registry.Lookup(n.Provider)
	if !ok {
		return Result{}, apperror.Newf(apperror.KindInvalidParameters, "unknown provider %q", n.Provider)
	}
	if strings.TrimSpace(n.ExternalRef) == "" || n.WalletID == "" {
		return Result{}, apperror.New(apperror.KindInvalidParameters, "external reference and wallet are required")
	}
	status, err := provider.Normalize(n.Status)
	if err != nil {
		return Result{}, apperror.Wrap(apperror.KindInvalidParameters, "unrecognised payout status", err)
	}
	if n.Fee.IsNegative() {
		return Result{}, apperror.New(apperror.KindInvalidAmount, "fee cannot be negative")
	}
	result := Result{Provider: provider.Name(), ExternalRef: n.ExternalRef, Status: status}

	var (
		entryType   ledger.EntryType
		amount      decimal.Decimal
		description string
	)
	switch {
	case status == StatusFailed:
		entryType, amount, description = ledger.EntryRefund, n.Amount, "payout failed: "+provider.Name()
	case status == StatusCompleted && n.Fee.IsPositive():
		entryType, amount, description = ledger.EntryFee, n.Fee, "payout fee: "+provider.Name()
	}
	if entryType != "" {
		if err := ledger.CheckAmount(amount); err != nil {
			return Result{}, err
		}
	}

	reference := payoutRef(provider, n.ExternalRef)
	var entry ledger.Entry
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		payout, err := tx.EntryByReference(ctx, ledger.EntryPayout, reference)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return apperror.Newf(apperror.KindRecordNotFound, "no payout %s for provider %s", n.ExternalRef, provider.Name())
		}
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(n.WalletID), payout.SourceWalletID) {
			return apperror.Newf(apperror.KindInvalidParameters, "payout %s was not made from wallet %s", n.ExternalRef, n.WalletID)
		}
		if entryType == "" {
			return nil
		}
		if entryType == ledger.EntryRefund && amount.GreaterThan(payout.Amount) {
			return apperror.Newf(apperror.KindInvalidAmount, "refund %s exceeds payout %s", amount.StringFixed(2), payout.Amount.StringFixed(2))
		}

		existing, err := tx.EntryByReference(ctx, entryType, reference)
		if err == nil {
			entry = existing
			return ledger.ErrDuplicateEntry
		}
		if !errors.Is(err, ledger.ErrEntryNotFound) {
			return err
		}

		w, err := tx.LockWallet(ctx, payout.SourceWalletID)
		if err != nil {
			return err
		}
		at := s.now().UTC()
		var plan ledger.Plan
		if entryType == ledger.EntryRefund {
			plan = ledger.PlanRefund(w, amount, reference, description, at)
		} else {
			plan, err = ledger.PlanFee(w, amount, reference, description, at)
			if err != nil {
				return err
			}
		}
		if err := plan.Apply(ctx, tx); err != nil {
			return err
		}
		entry = plan.Entry
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		if entry.ID == "" {
			if entry, err = s.entryByReference(ctx, entryType, reference); err != nil {
				return Result{}, err
			}
		}
		result.Entry = &entry
		return result, ledger.ErrDuplicateEntry
	}
	if err != nil {
		return Result{}, err
	}

	if entryType == "" {
		s.logger.Info("settlement acknowledged", "provider", result.Provider, "external_ref", n.ExternalRef, "status", status)
	} else {
		result.Entry = &entry
		s.logger.Info("settlement reconciled", "provider", result.Provider, "external_ref", n.ExternalRef,
			"wallet_id", n.WalletID, "entry_type", entry.Type, "amount", entry.Amount.StringFixed(2))
	}
	s.emit(ctx, n, result)
	return result, nil
}

func (s *Service) entryByReference(ctx context.Context, entryType ledger.EntryType, reference string) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = tx.EntryByReference(ctx, entryType, reference)
		return err
	})
	return entry, err
}

func payoutRef(p Provider, externalRef string) string {
	return p.Name() + ":" + externalRef
}

func (s *Service) emit(ctx context.Context, n Notification, result Result) {
	payload := events.SettlementReconciledPayload{
		Provider:    result.Provider,
		ExternalRef: result.ExternalRef,
		WalletID:    n.WalletID,
		Status:      string(result.Status),
		Amount:      n.Amount,
	}
	if result.Entry != nil {
		payload.EntryType = string(result.Entry.Type)
		payload.TransactionID = result.Entry.ID
		payload.Amount = result.Entry.Amount
	}
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Name:    events.SettlementReconciled,
		Key:     n.WalletID,
		Payload: payload,
	})
}
