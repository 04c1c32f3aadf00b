package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that sets the balance of a wallet held by the in-memory store.
func SeedBalance(s Store, walletID string, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[walletID]; exists {
			w.Balance = amount
			mem.wallets[walletID] = w
		}
	}
}

// SeedCounters is a test helper that sets the generation counters of a wallet held by the in-memory store.
func SeedCounters(s Store, walletID string, daily, monthly decimal.Decimal, last time.Time) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[walletID]; exists {
			w.DailyGenerated = daily
			w.MonthlyGenerated = monthly
			w.LastGenerationDate = last
			mem.wallets[walletID] = w
		}
	}
}

// FailAppends makes every journal append on the in-memory store return err.
// Passing nil restores normal behaviour.
func FailAppends(s Store, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if err == nil {
			mem.appendHook = nil
			return
		}
		mem.appendHook = func(Entry) error { return err }
	}
}

// EntryCount reports how many journal entries the in-memory store holds.
func EntryCount(s Store) int {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		return len(mem.entries)
	}
	return 0
}
