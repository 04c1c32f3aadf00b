package validator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
)

type sample struct {
	WalletID string          `json:"wallet_id" validate:"required,uuid"`
	Amount   decimal.Decimal `json:"amount" validate:"amount"`
	Currency string          `json:"currency" validate:"omitempty,iso4217"`
	Status   string          `json:"status" validate:"omitempty,wallet_status"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	fields := Validate(sample{Amount: decimal.RequireFromString("1.005"), Currency: "ZZZ", Status: "frozen"})
	for _, name := range []string{"wallet_id", "amount", "currency", "status"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("expected error for %s, got %v", name, fields)
		}
	}
}

func TestStructAcceptsValidInput(t *testing.T) {
	ok := sample{
		WalletID: "5f0c6f2e-6a35-4f4e-9d8b-1f8f3d1e2a10",
		Amount:   decimal.RequireFromString("10.50"),
		Currency: "USD",
		Status:   "suspended",
	}
	if err := Struct(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructReturnsInvalidParameters(t *testing.T) {
	err := Struct(sample{Amount: decimal.Zero})
	if !errors.Is(err, apperror.ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
}
