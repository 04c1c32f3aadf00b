package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/congo-pay/mintledger/internal/apperror"
)

type inMemoryStore struct {
	mu          sync.RWMutex
	wallets     map[string]Wallet
	owners      map[string]string
	generations map[string]GenerationRecord
	entries     []Entry
	entryRefs   map[string]int

	// appendHook lets tests fail journal writes; see FailAppends.
	appendHook func(Entry) error
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests. Units of work are serialised by a single lock.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:     make(map[string]Wallet),
		owners:      make(map[string]string),
		generations: make(map[string]GenerationRecord),
		entryRefs:   make(map[string]int),
	}
}

func refKey(t EntryType, reference string) string {
	return string(t) + ":" + reference
}

func (s *inMemoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return ErrWalletExists
	}
	if _, exists := s.owners[w.OwnerID]; exists {
		return ErrWalletExists
	}
	s.wallets[w.ID] = w
	s.owners[w.OwnerID] = w.ID
	return nil
}

func (s *inMemoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, walletNotFound(id)
	}
	return w, nil
}

func (s *inMemoryStore) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[ownerID]
	if !ok {
		return Wallet{}, apperror.Newf(apperror.KindWalletNotFound, "no wallet for owner %s", ownerID)
	}
	return s.wallets[id], nil
}

func (s *inMemoryStore) Generation(_ context.Context, id string) (GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.generations[id]
	if !ok {
		return GenerationRecord{}, recordNotFound(id)
	}
	return copyRecord(r), nil
}

func (s *inMemoryStore) PendingGenerationsBefore(_ context.Context, cutoff time.Time, limit int) ([]GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []GenerationRecord
	for _, r := range s.generations {
		if r.Status == GenerationPending && r.IssuedAt().Before(cutoff) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt().Before(out[j].IssuedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) EntriesForWallet(_ context.Context, walletID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.SourceWalletID == walletID || e.DestinationWalletID == walletID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *inMemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		wallets:     make(map[string]Wallet),
		generations: make(map[string]GenerationRecord),
		created:     make(map[string]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperror.Unavailable("commit", err)
	}

	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, r := range tx.generations {
		s.generations[id] = r
	}
	for _, e := range tx.entries {
		s.entryRefs[refKey(e.Type, e.Reference)] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// memTx stages writes; nothing reaches the store until WithinTx commits.
type memTx struct {
	store       *inMemoryStore
	wallets     map[string]Wallet
	generations map[string]GenerationRecord
	created     map[string]bool
	entries     []Entry
}

func (t *memTx) LockWallet(_ context.Context, id string) (Wallet, error) {
	if w, ok := t.wallets[id]; ok {
		return w, nil
	}
	w, ok := t.store.wallets[id]
	if !ok {
		return Wallet{}, walletNotFound(id)
	}
	return w, nil
}

func (t *memTx) SaveWallet(_ context.Context, w Wallet) error {
	if _, ok := t.store.wallets[w.ID]; !ok {
		return walletNotFound(w.ID)
	}
	if w.Balance.IsNegative() {
		return apperror.Newf(apperror.KindInsufficientBalance, "wallet %s balance would go negative", w.ID)
	}
	t.wallets[w.ID] = w
	return nil
}

func (t *memTx) CreateGeneration(_ context.Context, r GenerationRecord) error {
	if _, exists := t.store.generations[r.ID]; exists || t.created[r.ID] {
		return apperror.Newf(apperror.KindInvalidParameters, "generation %s already exists", r.ID)
	}
	t.created[r.ID] = true
	t.generations[r.ID] = copyRecord(r)
	return nil
}

func (t *memTx) LockGeneration(_ context.Context, id string) (GenerationRecord, error) {
	if r, ok := t.generations[id]; ok {
		return copyRecord(r), nil
	}
	r, ok := t.store.generations[id]
	if !ok {
		return GenerationRecord{}, recordNotFound(id)
	}
	return copyRecord(r), nil
}

func (t *memTx) SaveGeneration(_ context.Context, r GenerationRecord) error {
	if _, ok := t.store.generations[r.ID]; !ok && !t.created[r.ID] {
		return recordNotFound(r.ID)
	}
	t.generations[r.ID] = copyRecord(r)
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e Entry) error {
	if hook := t.store.appendHook; hook != nil {
		if err := hook(e); err != nil {
			return err
		}
	}
	key := refKey(e.Type, e.Reference)
	if _, exists := t.store.entryRefs[key]; exists {
		return ErrDuplicateEntry
	}
	for _, staged := range t.entries {
		if refKey(staged.Type, staged.Reference) == key {
			return ErrDuplicateEntry
		}
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) EntryByReference(_ context.Context, entryType EntryType, reference string) (Entry, error) {
	key := refKey(entryType, reference)
	for _, staged := range t.entries {
		if refKey(staged.Type, staged.Reference) == key {
			return staged, nil
		}
	}
	idx, ok := t.store.entryRefs[key]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return t.store.entries[idx], nil
}

func copyRecord(r GenerationRecord) GenerationRecord {
	if r.Metadata != nil {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

func walletNotFound(id string) error {
	return apperror.Newf(apperror.KindWalletNotFound, "wallet %s not found", id)
}

func recordNotFound(id string) error {
	return apperror.Newf(apperror.KindRecordNotFound, "generation %s not found", id)
}
