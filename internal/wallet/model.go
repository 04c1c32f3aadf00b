package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the spendable balance of a wallet plus the generation capacity
// left in the current day and month.
type Balance struct {
	WalletID         string
	Amount           decimal.Decimal
	Currency         string
	DailyRemaining   decimal.Decimal
	MonthlyRemaining decimal.Decimal
	AsOf             time.Time
}

// Defaults are applied to newly provisioned wallets.
type Defaults struct {
	Currency     string
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
}
