package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/mintledger/internal/apperror"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	defaultStoreTimeout = 5 * time.Second
)

// PostgresStore persists wallets, generation records and the journal in
// PostgreSQL. Units of work map onto database transactions.
type PostgresStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. Every call is bounded
// by timeout; a non-positive timeout falls back to five seconds.
func NewPostgresStore(db *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &PostgresStore{db: db, timeout: timeout}
}

const walletColumns = `id, owner_id, currency, status, balance,
        daily_generation_limit, monthly_generation_limit,
        daily_generated, monthly_generated, total_generated,
        last_generation_date, created_at, updated_at`

const generationColumns = `id, user_id, wallet_id, amount, currency, method, status,
        verification_status, metadata, transaction_id, created_at, verified_at, updated_at, code_issued_at`

const entryColumns = `id, type, source_wallet_id, destination_wallet_id, amount, fee, currency,
        status, reference, description, source_balance_before, source_balance_after,
        destination_balance_before, destination_balance_after, completed_at`

// CreateWallet inserts a wallet record.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return apperror.Newf(apperror.KindInvalidParameters, "invalid wallet id %q", w.ID)
	}
	ownerID, err := uuid.Parse(w.OwnerID)
	if err != nil {
		return apperror.Newf(apperror.KindInvalidParameters, "invalid owner id %q", w.OwnerID)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		walletID, ownerID, w.Currency, string(w.Status), w.Balance,
		w.DailyGenerationLimit, w.MonthlyGenerationLimit,
		w.DailyGenerated, w.MonthlyGenerated, w.TotalGenerated,
		nullTime(w.LastGenerationDate), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrWalletExists
		}
		return mapErr("create wallet", err)
	}
	return nil
}

// Wallet fetches a wallet by identifier.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, walletNotFound(id)
	}
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, walletNotFound(id)
	}
	if err != nil {
		return Wallet{}, mapErr("load wallet", err)
	}
	return w, nil
}

// WalletByOwner fetches the wallet provisioned for a user.
func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, apperror.Newf(apperror.KindWalletNotFound, "no wallet for owner %s", ownerID)
	}
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, apperror.Newf(apperror.KindWalletNotFound, "no wallet for owner %s", ownerID)
	}
	if err != nil {
		return Wallet{}, mapErr("load wallet by owner", err)
	}
	return w, nil
}

// Generation fetches a generation record by identifier.
func (s *PostgresStore) Generation(ctx context.Context, id string) (GenerationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recID, err := uuid.Parse(id)
	if err != nil {
		return GenerationRecord{}, recordNotFound(id)
	}
	r, err := scanGeneration(s.db.QueryRow(ctx, `SELECT `+generationColumns+` FROM generation_records WHERE id = $1`, recID))
	if errors.Is(err, pgx.ErrNoRows) {
		return GenerationRecord{}, recordNotFound(id)
	}
	if err != nil {
		return GenerationRecord{}, mapErr("load generation", err)
	}
	return r, nil
}

// PendingGenerationsBefore lists pending records whose code was issued before
// cutoff, oldest first.
func (s *PostgresStore) PendingGenerationsBefore(ctx context.Context, cutoff time.Time, limit int) ([]GenerationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+generationColumns+` FROM generation_records
        WHERE status = $1 AND code_issued_at < $2
        ORDER BY code_issued_at LIMIT $3`, string(GenerationPending), cutoff.UTC(), limit)
	if err != nil {
		return nil, mapErr("list pending generations", err)
	}
	defer rows.Close()

	var out []GenerationRecord
	for rows.Next() {
		r, err := scanGeneration(rows)
		if err != nil {
			return nil, mapErr("scan generation", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list pending generations", err)
	}
	return out, nil
}

// EntriesForWallet returns the most recent journal entries touching a wallet.
func (s *PostgresStore) EntriesForWallet(ctx context.Context, walletID string, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, walletNotFound(walletID)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
        WHERE source_wallet_id = $1 OR destination_wallet_id = $1
        ORDER BY completed_at DESC, id DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, mapErr("list entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapErr("scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list entries", err)
	}
	return out, nil
}

// WithinTx runs fn inside a database transaction bounded by the store timeout.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr("unit of work", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, walletNotFound(id)
	}
	w, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, walletNotFound(id)
	}
	return w, err
}

func (t *pgTx) SaveWallet(ctx context.Context, w Wallet) error {
	walletID, err := uuid.Parse(w.ID)
	if err != nil {
		return walletNotFound(w.ID)
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE wallets SET status = $2, balance = $3,
        daily_generation_limit = $4, monthly_generation_limit = $5,
        daily_generated = $6, monthly_generated = $7, total_generated = $8,
        last_generation_date = $9, updated_at = $10
        WHERE id = $1`,
		walletID, string(w.Status), w.Balance,
		w.DailyGenerationLimit, w.MonthlyGenerationLimit,
		w.DailyGenerated, w.MonthlyGenerated, w.TotalGenerated,
		nullTime(w.LastGenerationDate), w.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
			return apperror.Newf(apperror.KindInsufficientBalance, "wallet %s balance would go negative", w.ID)
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return walletNotFound(w.ID)
	}
	return nil
}

func (t *pgTx) CreateGeneration(ctx context.Context, r GenerationRecord) error {
	recID, err := uuid.Parse(r.ID)
	if err != nil {
		return apperror.Newf(apperror.KindInvalidParameters, "invalid generation id %q", r.ID)
	}
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return apperror.Newf(apperror.KindInvalidParameters, "invalid user id %q", r.UserID)
	}
	walletID, err := uuid.Parse(r.WalletID)
	if err != nil {
		return walletNotFound(r.WalletID)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO generation_records (`+generationColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		recID, userID, walletID, r.Amount, r.Currency, r.Method, string(r.Status),
		string(r.VerificationStatus), metadataOrEmpty(r.Metadata), nullString(r.TransactionID),
		r.CreatedAt.UTC(), nullTime(r.VerifiedAt), r.UpdatedAt.UTC(), r.IssuedAt().UTC())
	return err
}

func (t *pgTx) LockGeneration(ctx context.Context, id string) (GenerationRecord, error) {
	recID, err := uuid.Parse(id)
	if err != nil {
		return GenerationRecord{}, recordNotFound(id)
	}
	r, err := scanGeneration(t.tx.QueryRow(ctx, `SELECT `+generationColumns+` FROM generation_records WHERE id = $1 FOR UPDATE`, recID))
	if errors.Is(err, pgx.ErrNoRows) {
		return GenerationRecord{}, recordNotFound(id)
	}
	return r, err
}

// SaveGeneration updates the mutable columns of a record. Amount is never rewritten.
func (t *pgTx) SaveGeneration(ctx context.Context, r GenerationRecord) error {
	recID, err := uuid.Parse(r.ID)
	if err != nil {
		return recordNotFound(r.ID)
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE generation_records SET status = $2, verification_status = $3,
        transaction_id = $4, verified_at = $5, updated_at = $6, code_issued_at = $7
        WHERE id = $1`,
		recID, string(r.Status), string(r.VerificationStatus), nullString(r.TransactionID),
		nullTime(r.VerifiedAt), r.UpdatedAt.UTC(), r.IssuedAt().UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return recordNotFound(r.ID)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e Entry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO journal_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, string(e.Type), nullUUID(e.SourceWalletID), nullUUID(e.DestinationWalletID),
		e.Amount, e.Fee, e.Currency, e.Status, e.Reference, e.Description,
		e.Balances.SourceBefore, e.Balances.SourceAfter,
		e.Balances.DestinationBefore, e.Balances.DestinationAfter,
		e.CompletedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (t *pgTx) EntryByReference(ctx context.Context, entryType EntryType, reference string) (Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
        WHERE type = $1 AND reference = $2`, string(entryType), reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w        Wallet
		id       uuid.UUID
		owner    uuid.UUID
		status   string
		lastDate *time.Time
	)
	if err := row.Scan(&id, &owner, &w.Currency, &status, &w.Balance,
		&w.DailyGenerationLimit, &w.MonthlyGenerationLimit,
		&w.DailyGenerated, &w.MonthlyGenerated, &w.TotalGenerated,
		&lastDate, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = owner.String()
	w.Status = WalletStatus(status)
	if lastDate != nil {
		w.LastGenerationDate = lastDate.UTC()
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanGeneration(row pgx.Row) (GenerationRecord, error) {
	var (
		r          GenerationRecord
		id         uuid.UUID
		userID     uuid.UUID
		walletID   uuid.UUID
		status     string
		verif      string
		txID       *string
		verifiedAt *time.Time
	)
	if err := row.Scan(&id, &userID, &walletID, &r.Amount, &r.Currency, &r.Method, &status,
		&verif, &r.Metadata, &txID, &r.CreatedAt, &verifiedAt, &r.UpdatedAt, &r.CodeIssuedAt); err != nil {
		return GenerationRecord{}, err
	}
	r.ID = id.String()
	r.UserID = userID.String()
	r.WalletID = walletID.String()
	r.Status = GenerationStatus(status)
	r.VerificationStatus = VerificationStatus(verif)
	if txID != nil {
		r.TransactionID = *txID
	}
	if verifiedAt != nil {
		r.VerifiedAt = verifiedAt.UTC()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.CodeIssuedAt = r.CodeIssuedAt.UTC()
	return r, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e           Entry
		entryType   string
		source      uuid.NullUUID
		destination uuid.NullUUID
	)
	if err := row.Scan(&e.ID, &entryType, &source, &destination, &e.Amount, &e.Fee, &e.Currency,
		&e.Status, &e.Reference, &e.Description,
		&e.Balances.SourceBefore, &e.Balances.SourceAfter,
		&e.Balances.DestinationBefore, &e.Balances.DestinationAfter,
		&e.CompletedAt); err != nil {
		return Entry{}, err
	}
	e.Type = EntryType(entryType)
	if source.Valid {
		e.SourceWalletID = source.UUID.String()
	}
	if destination.Valid {
		e.DestinationWalletID = destination.UUID.String()
	}
	e.CompletedAt = e.CompletedAt.UTC()
	return e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(s string) uuid.NullUUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

func metadataOrEmpty(md map[string]string) map[string]string {
	if md == nil {
		return map[string]string{}
	}
	return md
}

// mapErr keeps typed errors intact and turns timeouts and connection
// failures into retryable infrastructure errors.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ErrDuplicateEntry) || errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrWalletExists) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperror.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
