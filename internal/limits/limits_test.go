package limits

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
)

var fixedNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

func newEnforcer() *Enforcer {
	return NewEnforcer(time.UTC, WithClock(func() time.Time { return fixedNow }))
}

func wallet(daily, monthly int64, last time.Time) ledger.Wallet {
	return ledger.Wallet{
		DailyGenerationLimit:   decimal.NewFromInt(1000),
		MonthlyGenerationLimit: decimal.NewFromInt(5000),
		DailyGenerated:         decimal.NewFromInt(daily),
		MonthlyGenerated:       decimal.NewFromInt(monthly),
		LastGenerationDate:     last,
	}
}

func TestAdmit_InclusiveDailyBoundary(t *testing.T) {
	e := newEnforcer()
	w := wallet(900, 900, fixedNow.Add(-time.Hour))

	if d := e.Admit(w, decimal.NewFromInt(100)); !d.Allowed {
		t.Fatalf("expected exact boundary to be admitted, got %+v", d)
	}
	d := e.Admit(w, decimal.NewFromInt(101))
	if d.Allowed || d.Kind != apperror.KindDailyLimitExceeded {
		t.Fatalf("expected daily limit exceeded, got %+v", d)
	}
	if d.Reason == "" {
		t.Fatalf("expected a reason")
	}
}

func TestAdmit_RejectsNonPositiveAmount(t *testing.T) {
	e := newEnforcer()
	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if d := e.Admit(wallet(0, 0, time.Time{}), amount); d.Kind != apperror.KindInvalidAmount {
			t.Fatalf("amount %s: expected invalid amount, got %+v", amount, d)
		}
	}
}

func TestAdmit_DailyRollover(t *testing.T) {
	e := newEnforcer()
	yesterday := fixedNow.AddDate(0, 0, -1)
	w := wallet(900, 900, yesterday)

	if d := e.Admit(w, decimal.NewFromInt(1000)); !d.Allowed {
		t.Fatalf("expected counters to roll over, got %+v", d)
	}
	rolled := e.Rollover(w)
	if !rolled.DailyGenerated.IsZero() {
		t.Fatalf("daily counter should reset, got %s", rolled.DailyGenerated)
	}
	if !rolled.MonthlyGenerated.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("monthly counter must survive a day boundary, got %s", rolled.MonthlyGenerated)
	}
	if !e.NeedsRollover(w) {
		t.Fatalf("expected rollover to be needed")
	}
}

func TestAdmit_MonthlyLimit(t *testing.T) {
	e := newEnforcer()
	w := wallet(0, 4500, fixedNow.AddDate(0, 0, -2))

	d := e.Admit(w, decimal.NewFromInt(600))
	if d.Kind != apperror.KindMonthlyLimitExceeded {
		t.Fatalf("expected monthly limit exceeded, got %+v", d)
	}
	if err := d.Err(); !errors.Is(err, apperror.ErrMonthlyLimitExceeded) {
		t.Fatalf("expected typed error, got %v", err)
	}

	lastMonth := time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC)
	if d := e.Admit(wallet(0, 4500, lastMonth), decimal.NewFromInt(600)); !d.Allowed {
		t.Fatalf("expected monthly rollover, got %+v", d)
	}
}

func TestEnforcer_LocationDefinesDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC on the 9th is already the 10th in UTC+3.
	now := time.Date(2024, 5, 9, 22, 30, 0, 0, time.UTC)
	e := NewEnforcer(loc, WithClock(func() time.Time { return now }))

	last := time.Date(2024, 5, 9, 20, 0, 0, 0, time.UTC)
	sameDay, sameMonth := e.Windows(last)
	if sameDay || !sameMonth {
		t.Fatalf("expected new local day in same month, got day=%v month=%v", sameDay, sameMonth)
	}
}

func TestRemainingAndRelease(t *testing.T) {
	e := newEnforcer()
	w := wallet(300, 1300, fixedNow.Add(-time.Minute))

	rem := e.Remaining(w)
	if !rem.Daily.Equal(decimal.NewFromInt(700)) || !rem.Monthly.Equal(decimal.NewFromInt(3700)) {
		t.Fatalf("unexpected remaining %+v", rem)
	}

	w.TotalGenerated = decimal.NewFromInt(1300)
	released := e.Release(w, decimal.NewFromInt(200), fixedNow.Add(-time.Minute))
	if !released.DailyGenerated.Equal(decimal.NewFromInt(100)) || !released.MonthlyGenerated.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("unexpected counters after release %+v", released)
	}

	stale := e.Release(w, decimal.NewFromInt(200), fixedNow.AddDate(0, 0, -1))
	if !stale.DailyGenerated.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("yesterday's reservation must not reduce today's counter, got %s", stale.DailyGenerated)
	}
	if !stale.MonthlyGenerated.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("monthly counter should be released, got %s", stale.MonthlyGenerated)
	}
}
