package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateEntry indicates a journal entry with the same type and
	// reference already exists; the operation should be treated as idempotent.
	ErrDuplicateEntry = errors.New("duplicate journal entry")

	// ErrEntryNotFound is returned by reference lookups that match nothing.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrWalletExists indicates the wallet id or owner is already provisioned.
	ErrWalletExists = errors.New("wallet exists")
)

// WalletStatus is the lifecycle state of a wallet. Closed is terminal.
type WalletStatus string

const (
	WalletActive    WalletStatus = "active"
	WalletInactive  WalletStatus = "inactive"
	WalletSuspended WalletStatus = "suspended"
	WalletClosed    WalletStatus = "closed"
)

// Valid reports whether s is a known wallet status.
func (s WalletStatus) Valid() bool {
	switch s {
	case WalletActive, WalletInactive, WalletSuspended, WalletClosed:
		return true
	}
	return false
}

// Wallet is a balance container with rolling generation counters.
type Wallet struct {
	ID                     string
	OwnerID                string
	Currency               string
	Status                 WalletStatus
	Balance                decimal.Decimal
	DailyGenerationLimit   decimal.Decimal
	MonthlyGenerationLimit decimal.Decimal
	DailyGenerated         decimal.Decimal
	MonthlyGenerated       decimal.Decimal
	TotalGenerated         decimal.Decimal
	// LastGenerationDate is zero until the first reservation.
	LastGenerationDate time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Active reports whether the wallet may take part in generation or transfer.
func (w Wallet) Active() bool { return w.Status == WalletActive }

// GenerationStatus tracks a generation record through its state machine.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
	GenerationCancelled GenerationStatus = "cancelled"
)

// VerificationStatus tracks the challenge outcome for a generation record.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// GenerationRecord is a request to mint Amount into a wallet. Amount is fixed
// at creation.
type GenerationRecord struct {
	ID                 string
	UserID             string
	WalletID           string
	Amount             decimal.Decimal
	Currency           string
	Method             string
	Status             GenerationStatus
	VerificationStatus VerificationStatus
	Metadata           map[string]string
	// TransactionID is the journal entry id once the record completes.
	TransactionID string
	// CodeIssuedAt is when the live verification code was issued. Expiry of
	// a pending record is measured from it, not from CreatedAt.
	CodeIssuedAt time.Time
	CreatedAt    time.Time
	VerifiedAt   time.Time
	UpdatedAt    time.Time
}

// IssuedAt returns CodeIssuedAt, falling back to CreatedAt for records
// written before the column existed.
func (r GenerationRecord) IssuedAt() time.Time {
	if r.CodeIssuedAt.IsZero() {
		return r.CreatedAt
	}
	return r.CodeIssuedAt
}

// EntryType classifies a journal entry.
type EntryType string

const (
	EntryGeneration EntryType = "generation"
	EntryTransfer   EntryType = "transfer"
	EntryFee        EntryType = "fee"
	EntryRefund     EntryType = "refund"
	EntryPayout     EntryType = "payout"
)

// EntryStatusCompleted is the only status a journal entry is ever written with.
const EntryStatusCompleted = "completed"

// Balances captures wallet balances around the mutation an entry documents.
type Balances struct {
	SourceBefore      decimal.NullDecimal
	SourceAfter       decimal.NullDecimal
	DestinationBefore decimal.NullDecimal
	DestinationAfter  decimal.NullDecimal
}

// Entry is an immutable journal record of a committed balance mutation.
// SourceWalletID is empty for generations and refunds, DestinationWalletID
// is empty for fees and payouts.
type Entry struct {
	ID                  string
	Type                EntryType
	SourceWalletID      string
	DestinationWalletID string
	Amount              decimal.Decimal
	Fee                 decimal.Decimal
	Currency            string
	Status              string
	Reference           string
	Description         string
	Balances            Balances
	CompletedAt         time.Time
}

// Store persists wallets, generation records and the journal. Every balance
// mutation goes through WithinTx.
type Store interface {
	CreateWallet(ctx context.Context, wallet Wallet) error
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	Generation(ctx context.Context, id string) (GenerationRecord, error)
	// PendingGenerationsBefore lists pending records whose code was issued
	// before cutoff, oldest first.
	PendingGenerationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]GenerationRecord, error)
	EntriesForWallet(ctx context.Context, walletID string, limit int) ([]Entry, error)

	// WithinTx runs fn as one atomic unit of work: every write made through
	// tx commits, or none does. A non-nil error from fn rolls back. Store
	// read methods must not be called from inside fn.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface of a unit of work. Lock methods hold the row until
// the unit of work ends.
type Tx interface {
	LockWallet(ctx context.Context, id string) (Wallet, error)
	SaveWallet(ctx context.Context, wallet Wallet) error
	CreateGeneration(ctx context.Context, record GenerationRecord) error
	LockGeneration(ctx context.Context, id string) (GenerationRecord, error)
	SaveGeneration(ctx context.Context, record GenerationRecord) error
	AppendEntry(ctx context.Context, entry Entry) error
	EntryByReference(ctx context.Context, entryType EntryType, reference string) (Entry, error)
}
