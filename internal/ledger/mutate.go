package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
)

// The functions below never touch storage. They take value snapshots and
// return new snapshots; callers persist the result inside a unit of work.

// NewEntryID returns a time-sortable journal entry identifier.
func NewEntryID() string {
	return ulid.Make().String()
}

// CheckAmount rejects non-positive amounts and amounts finer than a cent.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.New(apperror.KindInvalidAmount, "amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperror.Newf(apperror.KindInvalidAmount, "amount %s has more than two decimal places", amount)
	}
	return nil
}

// Credit returns w with amount added to its balance.
func Credit(w Wallet, amount decimal.Decimal, at time.Time) Wallet {
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = at
	return w
}

// Debit returns w with amount removed from its balance. The balance never
// goes negative.
func Debit(w Wallet, amount decimal.Decimal, at time.Time) (Wallet, error) {
	if w.Balance.LessThan(amount) {
		return w, apperror.Newf(apperror.KindInsufficientBalance,
			"wallet %s balance %s is below %s", w.ID, w.Balance.StringFixed(2), amount.StringFixed(2))
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = at
	return w, nil
}

// Reserve books amount against the generation counters of w. Counters must
// already be rolled over to the window containing at.
func Reserve(w Wallet, amount decimal.Decimal, at time.Time) Wallet {
	w.DailyGenerated = w.DailyGenerated.Add(amount)
	w.MonthlyGenerated = w.MonthlyGenerated.Add(amount)
	w.TotalGenerated = w.TotalGenerated.Add(amount)
	w.LastGenerationDate = at
	w.UpdatedAt = at
	return w
}

// Release undoes a reservation. Daily and monthly counters are only reduced
// when the reservation still belongs to the window the counter tracks.
func Release(w Wallet, amount decimal.Decimal, daily, monthly bool, at time.Time) Wallet {
	if daily {
		w.DailyGenerated = floorZero(w.DailyGenerated.Sub(amount))
	}
	if monthly {
		w.MonthlyGenerated = floorZero(w.MonthlyGenerated.Sub(amount))
	}
	w.TotalGenerated = floorZero(w.TotalGenerated.Sub(amount))
	w.UpdatedAt = at
	return w
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CancelRecord moves a pending record to cancelled.
func CancelRecord(r GenerationRecord, at time.Time) (GenerationRecord, error) {
	if r.Status != GenerationPending {
		return r, invalidStatus(r)
	}
	r.Status = GenerationCancelled
	r.UpdatedAt = at
	return r, nil
}

// ExpireRecord moves a pending record whose challenge lapsed to failed.
func ExpireRecord(r GenerationRecord, at time.Time) (GenerationRecord, error) {
	if r.Status != GenerationPending {
		return r, invalidStatus(r)
	}
	r.Status = GenerationFailed
	r.VerificationStatus = VerificationRejected
	r.UpdatedAt = at
	return r, nil
}

// ReissueRecord restarts the expiry clock of a pending record whose code is
// being replaced.
func ReissueRecord(r GenerationRecord, at time.Time) (GenerationRecord, error) {
	if r.Status != GenerationPending {
		return r, invalidStatus(r)
	}
	r.CodeIssuedAt = at
	r.UpdatedAt = at
	return r, nil
}

func invalidStatus(r GenerationRecord) error {
	return apperror.Newf(apperror.KindInvalidStatus, "generation %s is %s", r.ID, r.Status)
}

// Plan is the set of writes a committed operation consists of.
type Plan struct {
	Wallets []Wallet
	Record  *GenerationRecord
	Entry   Entry
}

// Apply writes the plan through tx. The journal entry goes last so a failed
// append rolls back everything before it.
func (p Plan) Apply(ctx context.Context, tx Tx) error {
	for _, w := range p.Wallets {
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
	}
	if p.Record != nil {
		if err := tx.SaveGeneration(ctx, *p.Record); err != nil {
			return err
		}
	}
	return tx.AppendEntry(ctx, p.Entry)
}

// PlanGenerationCredit completes a pending record: the wallet is credited by
// the record amount and a generation entry documents the credit.
func PlanGenerationCredit(r GenerationRecord, w Wallet, at time.Time) (Plan, error) {
	if r.Status != GenerationPending {
		return Plan{}, invalidStatus(r)
	}
	if w.ID != r.WalletID {
		return Plan{}, apperror.Newf(apperror.KindInvalidParameters, "generation %s targets wallet %s", r.ID, r.WalletID)
	}

	credited := Credit(w, r.Amount, at)
	entry := Entry{
		ID:                  NewEntryID(),
		Type:                EntryGeneration,
		DestinationWalletID: w.ID,
		Amount:              r.Amount,
		Fee:                 decimal.Zero,
		Currency:            r.Currency,
		Status:              EntryStatusCompleted,
		Reference:           r.ID,
		Description:         "generation " + r.Method,
		Balances: Balances{
			DestinationBefore: decimal.NewNullDecimal(w.Balance),
			DestinationAfter:  decimal.NewNullDecimal(credited.Balance),
		},
		CompletedAt: at,
	}

	r.Status = GenerationCompleted
	r.VerificationStatus = VerificationVerified
	r.TransactionID = entry.ID
	r.VerifiedAt = at
	r.UpdatedAt = at

	return Plan{Wallets: []Wallet{credited}, Record: &r, Entry: entry}, nil
}

// PlanTransfer debits amount+fee from source and credits amount to destination.
// Both snapshots must come from different wallets; saving two snapshots of
// one wallet would keep only the credit.
func PlanTransfer(from, to Wallet, amount, fee decimal.Decimal, reference, description string, at time.Time) (Plan, error) {
	if strings.EqualFold(from.ID, to.ID) {
		return Plan{}, apperror.Newf(apperror.KindSelfTransferRejected, "wallet %s cannot transfer to itself", from.ID)
	}
	debited, err := Debit(from, amount.Add(fee), at)
	if err != nil {
		return Plan{}, err
	}
	credited := Credit(to, amount, at)

	entry := Entry{
		ID:                  NewEntryID(),
		Type:                EntryTransfer,
		SourceWalletID:      from.ID,
		DestinationWalletID: to.ID,
		Amount:              amount,
		Fee:                 fee,
		Currency:            from.Currency,
		Status:              EntryStatusCompleted,
		Reference:           reference,
		Description:         description,
		Balances: Balances{
			SourceBefore:      decimal.NewNullDecimal(from.Balance),
			SourceAfter:       decimal.NewNullDecimal(debited.Balance),
			DestinationBefore: decimal.NewNullDecimal(to.Balance),
			DestinationAfter:  decimal.NewNullDecimal(credited.Balance),
		},
		CompletedAt: at,
	}
	return Plan{Wallets: []Wallet{debited, credited}, Entry: entry}, nil
}

// PlanRefund credits amount back to w.
func PlanRefund(w Wallet, amount decimal.Decimal, reference, description string, at time.Time) Plan {
	credited := Credit(w, amount, at)
	return Plan{
		Wallets: []Wallet{credited},
		Entry: Entry{
			ID:                  NewEntryID(),
			Type:                EntryRefund,
			DestinationWalletID: w.ID,
			Amount:              amount,
			Fee:                 decimal.Zero,
			Currency:            w.Currency,
			Status:              EntryStatusCompleted,
			Reference:           reference,
			Description:         description,
			Balances: Balances{
				DestinationBefore: decimal.NewNullDecimal(w.Balance),
				DestinationAfter:  decimal.NewNullDecimal(credited.Balance),
			},
			CompletedAt: at,
		},
	}
}

// PlanFee debits fee from w.
func PlanFee(w Wallet, fee decimal.Decimal, reference, description string, at time.Time) (Plan, error) {
	debited, err := Debit(w, fee, at)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Wallets: []Wallet{debited},
		Entry: Entry{
			ID:             NewEntryID(),
			Type:           EntryFee,
			SourceWalletID: w.ID,
			Amount:         fee,
			Fee:            decimal.Zero,
			Currency:       w.Currency,
			Status:         EntryStatusCompleted,
			Reference:      reference,
			Description:    description,
			Balances: Balances{
				SourceBefore: decimal.NewNullDecimal(w.Balance),
				SourceAfter:  decimal.NewNullDecimal(debited.Balance),
			},
			CompletedAt: at,
		},
	}, nil
}

// PlanPayout debits amount from w for a cash-out handed to a provider. The
// entry reference is what later settlement notifications refer back to.
func PlanPayout(w Wallet, amount decimal.Decimal, reference, description string, at time.Time) (Plan, error) {
	debited, err := Debit(w, amount, at)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Wallets: []Wallet{debited},
		Entry: Entry{
			ID:             NewEntryID(),
			Type:           EntryPayout,
			SourceWalletID: w.ID,
			Amount:         amount,
			Fee:            decimal.Zero,
			Currency:       w.Currency,
			Status:         EntryStatusCompleted,
			Reference:      reference,
			Description:    description,
			Balances: Balances{
				SourceBefore: decimal.NewNullDecimal(w.Balance),
				SourceAfter:  decimal.NewNullDecimal(debited.Balance),
			},
			CompletedAt: at,
		},
	}, nil
}
