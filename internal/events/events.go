package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	GenerationVerificationRequired = "generation.verification_required"
	GenerationCompleted            = "generation.completed"
	GenerationCancelled            = "generation.cancelled"
	GenerationExpired              = "generation.expired"
	TransferCompleted              = "transfer.completed"
	PayoutRequested                = "settlement.payout_requested"
	SettlementReconciled           = "settlement.reconciled"
)

// Event is a state transition notification. Key identifies the aggregate the
// event belongs to and is used for partitioning where the backend supports it.
type Event struct {
	Name       string
	Key        string
	Payload    any
	OccurredAt time.Time
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emit publishes event and logs any failure. Publishing never fails the
// operation that produced the event.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, event Event) {
	if p == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil && logger != nil {
		logger.Warn("event publish failed", "event", event.Name, "key", event.Key, "error", err)
	}
}

type VerificationRequiredPayload struct {
	GenerationID     string          `json:"generationId"`
	UserID           string          `json:"userId"`
	WalletID         string          `json:"walletId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"method"`
	VerificationCode string          `json:"verificationCode"`
}

type GenerationCompletedPayload struct {
	GenerationID  string          `json:"generationId"`
	UserID        string          `json:"userId"`
	WalletID      string          `json:"walletId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	TransactionID string          `json:"transactionId"`
}

// GenerationClosedPayload is shared by generation.cancelled and generation.expired.
type GenerationClosedPayload struct {
	GenerationID string          `json:"generationId"`
	UserID       string          `json:"userId"`
	WalletID     string          `json:"walletId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
}

type TransferCompletedPayload struct {
	TransactionID string          `json:"transactionId"`
	FromWalletID  string          `json:"fromWalletId"`
	ToWalletID    string          `json:"toWalletId"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
}

// PayoutRequestedPayload asks the provider integration to send the funds.
type PayoutRequestedPayload struct {
	TransactionID string          `json:"transactionId"`
	Provider      string          `json:"provider"`
	ExternalRef   string          `json:"externalRef"`
	WalletID      string          `json:"walletId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

type SettlementReconciledPayload struct {
	Provider      string          `json:"provider"`
	ExternalRef   string          `json:"externalRef"`
	WalletID      string          `json:"walletId"`
	Status        string          `json:"status"`
	EntryType     string          `json:"entryType,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a publisher that only logs.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish logs the event name and key. Payloads are not logged since some
// carry verification codes.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event", "name", event.Name, "key", event.Key, "occurred_at", event.OccurredAt)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith makes subsequent publishes return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
