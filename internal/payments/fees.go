package payments

import "github.com/shopspring/decimal"

// FeePolicy charges Rate of the transfer amount, rounded to cents and capped at Cap.
type FeePolicy struct {
	Rate decimal.Decimal
	Cap  decimal.Decimal
}

// DefaultFeePolicy charges 0.1% capped at 5 units.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{Rate: decimal.RequireFromString("0.001"), Cap: decimal.NewFromInt(5)}
}

// Fee computes the fee charged on amount.
func (p FeePolicy) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(p.Rate).Round(2)
	if fee.IsNegative() {
		return decimal.Zero
	}
	if p.Cap.IsPositive() && fee.GreaterThan(p.Cap) {
		return p.Cap
	}
	return fee
}
