package generation

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/challenge"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/limits"
)

const (
	defaultGrace        = time.Minute
	defaultReclaimBatch = 100
)

// Orchestrator drives the two-phase generation flow: reserve capacity and
// issue a challenge, then consume the challenge and credit the wallet.
type Orchestrator struct {
	store      ledger.Store
	challenges challenge.Store
	limits     *limits.Enforcer
	publisher  events.Publisher
	logger     *slog.Logger
	methods    Methods
	ttl        time.Duration
	grace      time.Duration
	batch      int
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMethods replaces the default method set.
func WithMethods(m Methods) Option {
	return func(o *Orchestrator) { o.methods = m }
}

// WithChallengeTTL sets the lifetime of issued codes. It must match the TTL
// the challenge store enforces so the reclaim sweep never fails a record
// whose code is still live. Expiry is measured from the last issued code.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

// WithReclaimGrace sets how long past the TTL a pending record survives.
func WithReclaimGrace(grace time.Duration) Option {
	return func(o *Orchestrator) { o.grace = grace }
}

// WithReclaimBatch caps how many records one sweep handles.
func WithReclaimBatch(n int) Option {
	return func(o *Orchestrator) { o.batch = n }
}

// NewOrchestrator wires the generation flow.
func NewOrchestrator(store ledger.Store, challenges challenge.Store, enforcer *limits.Enforcer, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		challenges: challenges,
		limits:     enforcer,
		publisher:  publisher,
		logger:     logger,
		methods:    DefaultMethods(),
		ttl:        challenge.DefaultTTL,
		grace:      defaultGrace,
		batch:      defaultReclaimBatch,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitiateInput is a request to mint Amount into WalletID.
type InitiateInput struct {
	UserID   string
	WalletID string
	Amount   decimal.Decimal
	Method   string
	Metadata map[string]string
}

// Initiated is returned once a generation is pending verification.
type Initiated struct {
	GenerationID string
	WalletID     string
	Amount       decimal.Decimal
	Currency     string
	Status       ledger.GenerationStatus
}

// Initiate reserves generation capacity on the wallet, records a pending
// generation and issues its verification code.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (Initiated, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.WalletID) == "" {
		return Initiated{}, apperror.New(apperror.KindInvalidParameters, "user id and wallet id are required")
	}
	method, ok := o.methods.Lookup(in.Method)
	if !ok {
		return Initiated{}, apperror.Newf(apperror.KindInvalidParameters,
			"unknown generation method %q, expected one of %s", in.Method, strings.Join(o.methods.Names(), ", "))
	}
	if err := ledger.CheckAmount(in.Amount); err != nil {
		return Initiated{}, err
	}

	now := o.limits.Now()
	record := ledger.GenerationRecord{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		WalletID:           in.WalletID,
		Amount:             in.Amount,
		Method:             method.Name,
		Status:             ledger.GenerationPending,
		VerificationStatus: ledger.VerificationPending,
		Metadata:           copyMetadata(in.Metadata),
		CodeIssuedAt:       now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var rejected limits.Decision
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.LockWallet(ctx, in.WalletID)
		if err != nil {
			return err
		}
		if w.OwnerID != in.UserID {
			return apperror.Newf(apperror.KindInvalidParameters, "wallet %s does not belong to user %s", w.ID, in.UserID)
		}
		if !w.Active() {
			return apperror.Newf(apperror.KindWalletInactive, "wallet %s is %s", w.ID, w.Status)
		}

		rolled := o.limits.Rollover(w)
		decision := o.limits.Admit(rolled, in.Amount)
		if !decision.Allowed {
			// Keep the counter reset even though nothing is reserved.
			rejected = decision
			if o.limits.NeedsRollover(w) {
				rolled.UpdatedAt = now
				return tx.SaveWallet(ctx, rolled)
			}
			return nil
		}

		record.Currency = w.Currency
		if err := tx.SaveWallet(ctx, ledger.Reserve(rolled, in.Amount, now)); err != nil {
			return err
		}
		return tx.CreateGeneration(ctx, record)
	})
	if err != nil {
		return Initiated{}, err
	}
	if rejected.Kind != "" {
		return Initiated{}, rejected.Err()
	}

	code, err := o.challenges.Issue(ctx, record.ID, method.Digits)
	if err != nil {
		o.compensate(ctx, record, err)
		if apperror.KindOf(err) == "" {
			err = apperror.Wrap(apperror.KindGenerationFailed, "issue verification code", err)
		}
		return Initiated{}, err
	}

	o.logger.Info("generation initiated", "generation_id", record.ID, "wallet_id", record.WalletID, "amount", record.Amount.StringFixed(2))
	events.Emit(ctx, o.publisher, o.logger, verificationRequired(record, code))

	return Initiated{
		GenerationID: record.ID,
		WalletID:     record.WalletID,
		Amount:       record.Amount,
		Currency:     record.Currency,
		Status:       record.Status,
	}, nil
}

// compensate cancels a record whose code could not be issued and releases
// its reservation.
func (o *Orchestrator) compensate(ctx context.Context, record ledger.GenerationRecord, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.close(ctx, record.ID, "", ledger.CancelRecord); err != nil {
		o.logger.Error("generation compensation failed", "generation_id", record.ID, "cause", cause, "error", err)
		return
	}
	o.logger.Warn("generation cancelled after challenge failure", "generation_id", record.ID, "error", cause)
}

// Verify consumes the challenge of a pending generation and, when the code
// matches, credits the wallet and journals the credit in one unit of work.
// The code is deleted before it is compared, so every attempt burns it. That
// includes a commit lost to an infrastructure failure: the error is then
// VERIFICATION_FAILED rather than UNAVAILABLE, and the caller must request a
// new code before trying again.
func (o *Orchestrator) Verify(ctx context.Context, generationID, code string) (ledger.GenerationRecord, error) {
	record, err := o.store.Generation(ctx, generationID)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	switch record.Status {
	case ledger.GenerationPending:
	case ledger.GenerationCompleted:
		// A completed record's code was consumed by the verify that completed it.
		return ledger.GenerationRecord{}, apperror.Newf(apperror.KindCodeExpired, "verification code for generation %s was already used", generationID)
	default:
		return ledger.GenerationRecord{}, apperror.Newf(apperror.KindInvalidStatus, "generation %s is %s", record.ID, record.Status)
	}

	stored, err := o.challenges.Consume(ctx, generationID)
	if errors.Is(err, challenge.ErrNotFound) {
		return ledger.GenerationRecord{}, apperror.Newf(apperror.KindCodeExpired, "verification code for generation %s expired or was already used", generationID)
	}
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		o.logger.Warn("generation verification rejected", "generation_id", generationID)
		return ledger.GenerationRecord{}, apperror.New(apperror.KindInvalidCode, "verification code does not match, request a new code")
	}

	var completed ledger.GenerationRecord
	err = o.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockGeneration(ctx, generationID)
		if err != nil {
			return err
		}
		if r.Status != ledger.GenerationPending {
			return apperror.Newf(apperror.KindInvalidStatus, "generation %s is %s", r.ID, r.Status)
		}
		w, err := tx.LockWallet(ctx, r.WalletID)
		if err != nil {
			return err
		}
		if w.Status == ledger.WalletClosed {
			return apperror.Newf(apperror.KindWalletInactive, "wallet %s is closed", w.ID)
		}

		plan, err := ledger.PlanGenerationCredit(r, w, o.limits.Now())
		if err != nil {
			return err
		}
		if err := plan.Apply(ctx, tx); err != nil {
			return err
		}
		completed = *plan.Record
		return nil
	})
	if apperror.Retryable(err) {
		// The code is gone, so retrying the same request cannot succeed.
		o.logger.Error("generation commit failed after code was consumed", "generation_id", generationID, "error", err)
		return ledger.GenerationRecord{}, apperror.Newf(apperror.KindVerificationFailed,
			"generation %s could not be committed (%v), request a new code", generationID, err)
	}
	if err != nil {
		return ledger.GenerationRecord{}, o.failed(generationID, err)
	}

	o.logger.Info("generation completed", "generation_id", completed.ID, "wallet_id", completed.WalletID, "transaction_id", completed.TransactionID)
	events.Emit(ctx, o.publisher, o.logger, events.Event{
		Name: events.GenerationCompleted,
		Key:  completed.WalletID,
		Payload: events.GenerationCompletedPayload{
			GenerationID:  completed.ID,
			UserID:        completed.UserID,
			WalletID:      completed.WalletID,
			Amount:        completed.Amount,
			Currency:      completed.Currency,
			Method:        completed.Method,
			TransactionID: completed.TransactionID,
		},
		OccurredAt: completed.VerifiedAt,
	})
	return completed, nil
}

// failed keeps business and infrastructure errors intact and reports
// anything unexpected as a generation failure.
func (o *Orchestrator) failed(generationID string, err error) error {
	if apperror.KindOf(err) != "" {
		return err
	}
	o.logger.Error("generation commit failed", "generation_id", generationID, "error", err)
	return apperror.Wrap(apperror.KindGenerationFailed, "generation "+generationID+" could not be committed", err)
}

// Cancel abandons a pending generation and releases its reservation.
// An empty userID skips the ownership check.
func (o *Orchestrator) Cancel(ctx context.Context, generationID, userID string) (ledger.GenerationRecord, error) {
	record, err := o.close(ctx, generationID, userID, ledger.CancelRecord)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	if err := o.challenges.Discard(ctx, generationID); err != nil {
		o.logger.Warn("discard challenge failed", "generation_id", generationID, "error", err)
	}
	o.logger.Info("generation cancelled", "generation_id", record.ID)
	events.Emit(ctx, o.publisher, o.logger, closedEvent(events.GenerationCancelled, record))
	return record, nil
}

// close moves a pending record to a terminal state with transition and
// releases the counters it reserved, in one unit of work.
func (o *Orchestrator) close(ctx context.Context, generationID, userID string, transition func(ledger.GenerationRecord, time.Time) (ledger.GenerationRecord, error)) (ledger.GenerationRecord, error) {
	var closed ledger.GenerationRecord
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockGeneration(ctx, generationID)
		if err != nil {
			return err
		}
		if userID != "" && r.UserID != userID {
			return apperror.Newf(apperror.KindRecordNotFound, "generation %s not found", generationID)
		}
		next, err := transition(r, o.limits.Now())
		if err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, r.WalletID)
		if err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, o.limits.Release(w, r.Amount, r.CreatedAt)); err != nil {
			return err
		}
		if err := tx.SaveGeneration(ctx, next); err != nil {
			return err
		}
		closed = next
		return nil
	})
	return closed, err
}

// ReissueCode replaces the verification code of a pending generation. The
// record's issue time is persisted before the code is issued, so the reclaim
// sweep never sees a live code on a record it considers lapsed.
func (o *Orchestrator) ReissueCode(ctx context.Context, generationID, userID string) (ledger.GenerationRecord, error) {
	var record ledger.GenerationRecord
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockGeneration(ctx, generationID)
		if err != nil {
			return err
		}
		if userID != "" && r.UserID != userID {
			return apperror.Newf(apperror.KindRecordNotFound, "generation %s not found", generationID)
		}
		next, err := ledger.ReissueRecord(r, o.limits.Now())
		if err != nil {
			return err
		}
		if err := tx.SaveGeneration(ctx, next); err != nil {
			return err
		}
		record = next
		return nil
	})
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	method, ok := o.methods.Lookup(record.Method)
	if !ok {
		method = Method{Name: record.Method, Digits: challenge.DefaultDigits}
	}

	code, err := o.challenges.Issue(ctx, record.ID, method.Digits)
	if err != nil {
		return ledger.GenerationRecord{}, err
	}
	events.Emit(ctx, o.publisher, o.logger, verificationRequired(record, code))
	return record, nil
}

// Get returns a generation record.
func (o *Orchestrator) Get(ctx context.Context, generationID string) (ledger.GenerationRecord, error) {
	return o.store.Generation(ctx, generationID)
}

// ReclaimExpired fails pending generations whose code has lapsed and releases
// the capacity they reserved. Each record is handled in its own unit of work;
// failures are collected and the sweep carries on.
func (o *Orchestrator) ReclaimExpired(ctx context.Context) (int, error) {
	cutoff := o.limits.Now().Add(-(o.ttl + o.grace))
	pending, err := o.store.PendingGenerationsBefore(ctx, cutoff, o.batch)
	if err != nil {
		return 0, err
	}

	var (
		reclaimed int
		errs      []error
	)
	for _, r := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		expired, err := o.close(ctx, r.ID, "", expireBefore(cutoff))
		if errors.Is(err, apperror.ErrInvalidStatus) || errors.Is(err, errCodeReissued) {
			// Verified, cancelled or given a fresh code since it was listed.
			continue
		}
		if err != nil {
			o.logger.Error("reclaim generation failed", "generation_id", r.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := o.challenges.Discard(ctx, r.ID); err != nil {
			o.logger.Warn("discard challenge failed", "generation_id", r.ID, "error", err)
		}
		reclaimed++
		events.Emit(ctx, o.publisher, o.logger, closedEvent(events.GenerationExpired, expired))
	}

	if reclaimed > 0 {
		o.logger.Info("expired generations reclaimed", "count", reclaimed)
	}
	return reclaimed, errors.Join(errs...)
}

var errCodeReissued = errors.New("verification code reissued")

// expireBefore fails a record only if its code, read under the row lock, was
// still issued before cutoff.
func expireBefore(cutoff time.Time) func(ledger.GenerationRecord, time.Time) (ledger.GenerationRecord, error) {
	return func(r ledger.GenerationRecord, at time.Time) (ledger.GenerationRecord, error) {
		if !r.IssuedAt().Before(cutoff) {
			return r, errCodeReissued
		}
		return ledger.ExpireRecord(r, at)
	}
}

func verificationRequired(r ledger.GenerationRecord, code string) events.Event {
	return events.Event{
		Name: events.GenerationVerificationRequired,
		Key:  r.WalletID,
		Payload: events.VerificationRequiredPayload{
			GenerationID:     r.ID,
			UserID:           r.UserID,
			WalletID:         r.WalletID,
			Amount:           r.Amount,
			Currency:         r.Currency,
			Method:           r.Method,
			VerificationCode: code,
		},
	}
}

func closedEvent(name string, r ledger.GenerationRecord) events.Event {
	return events.Event{
		Name: name,
		Key:  r.WalletID,
		Payload: events.GenerationClosedPayload{
			GenerationID: r.ID,
			UserID:       r.UserID,
			WalletID:     r.WalletID,
			Amount:       r.Amount,
			Currency:     r.Currency,
			Status:       string(r.Status),
		},
		OccurredAt: r.UpdatedAt,
	}
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
