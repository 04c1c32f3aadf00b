package limits

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
)

// Decision is the outcome of an admission check. Kind and Reason are empty
// when the request is allowed.
type Decision struct {
	Allowed bool
	Kind    apperror.Kind
	Reason  string
}

// Err converts a rejection into a typed error. It returns nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperror.New(d.Kind, d.Reason)
}

// Remaining is the generation capacity left in the current windows.
type Remaining struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// Enforcer evaluates generation requests against rolling daily and monthly
// counters. Calendar boundaries are computed in loc. It never mutates state.
type Enforcer struct {
	loc *time.Location
	now func() time.Time
}

// Option customises an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer builds an Enforcer for the given location. A nil location means UTC.
func NewEnforcer(loc *time.Location, opts ...Option) *Enforcer {
	if loc == nil {
		loc = time.UTC
	}
	e := &Enforcer{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the enforcer's current time.
func (e *Enforcer) Now() time.Time {
	return e.now().UTC()
}

func (e *Enforcer) dayStart(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
}

func (e *Enforcer) monthStart(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, e.loc)
}

// Windows reports whether at still falls inside the current day and month.
func (e *Enforcer) Windows(at time.Time) (sameDay, sameMonth bool) {
	if at.IsZero() {
		return false, false
	}
	now := e.now()
	return !at.Before(e.dayStart(now)), !at.Before(e.monthStart(now))
}

// Rollover returns w with counters from past windows zeroed.
func (e *Enforcer) Rollover(w ledger.Wallet) ledger.Wallet {
	sameDay, sameMonth := e.Windows(w.LastGenerationDate)
	if !sameDay {
		w.DailyGenerated = decimal.Zero
	}
	if !sameMonth {
		w.MonthlyGenerated = decimal.Zero
	}
	return w
}

// NeedsRollover reports whether Rollover would change any counter.
func (e *Enforcer) NeedsRollover(w ledger.Wallet) bool {
	r := e.Rollover(w)
	return !r.DailyGenerated.Equal(w.DailyGenerated) || !r.MonthlyGenerated.Equal(w.MonthlyGenerated)
}

// Admit decides whether amount may be generated into w. Limits are inclusive.
func (e *Enforcer) Admit(w ledger.Wallet, amount decimal.Decimal) Decision {
	if !amount.IsPositive() {
		return Decision{Kind: apperror.KindInvalidAmount, Reason: "amount must be greater than zero"}
	}
	w = e.Rollover(w)

	if w.DailyGenerated.Add(amount).GreaterThan(w.DailyGenerationLimit) {
		return Decision{
			Kind: apperror.KindDailyLimitExceeded,
			Reason: "daily generation limit of " + w.DailyGenerationLimit.StringFixed(2) +
				" exceeded, remaining " + floor(w.DailyGenerationLimit.Sub(w.DailyGenerated)).StringFixed(2),
		}
	}
	if w.MonthlyGenerated.Add(amount).GreaterThan(w.MonthlyGenerationLimit) {
		return Decision{
			Kind: apperror.KindMonthlyLimitExceeded,
			Reason: "monthly generation limit of " + w.MonthlyGenerationLimit.StringFixed(2) +
				" exceeded, remaining " + floor(w.MonthlyGenerationLimit.Sub(w.MonthlyGenerated)).StringFixed(2),
		}
	}
	return Decision{Allowed: true}
}

// Remaining reports the capacity left in the current windows.
func (e *Enforcer) Remaining(w ledger.Wallet) Remaining {
	w = e.Rollover(w)
	return Remaining{
		Daily:   floor(w.DailyGenerationLimit.Sub(w.DailyGenerated)),
		Monthly: floor(w.MonthlyGenerationLimit.Sub(w.MonthlyGenerated)),
	}
}

// Release undoes a reservation of amount made at reservedAt. Counters are
// only reduced for windows that are still current.
func (e *Enforcer) Release(w ledger.Wallet, amount decimal.Decimal, reservedAt time.Time) ledger.Wallet {
	w = e.Rollover(w)
	sameDay, sameMonth := e.Windows(reservedAt)
	return ledger.Release(w, amount, sameDay, sameMonth, e.Now())
}

func floor(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
