package settlement

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/validator"
)

// Handler exposes payouts and receives provider webhooks.
type Handler struct {
	service *Service
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type payoutRequest struct {
	Provider    string          `json:"provider" validate:"required,max=32"`
	ExternalRef string          `json:"external_ref" validate:"required,max=128"`
	WalletID    string          `json:"wallet_id" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" validate:"amount"`
	Description string          `json:"description" validate:"max=140"`
}

// Payout debits the caller's wallet and hands the funds to a provider.
func (h *Handler) Payout(c *fiber.Ctx) error {
	var req payoutRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	entry, err := h.service.Payout(c.UserContext(), PayoutInput{
		Provider:        req.Provider,
		ExternalRef:     req.ExternalRef,
		WalletID:        req.WalletID,
		Amount:          req.Amount,
		Description:     req.Description,
		RequestorUserID: uid,
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, ledger.ErrDuplicateEntry):
		status = http.StatusOK
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, "not owner of wallet")
	case err != nil:
		return err
	}

	return c.Status(status).JSON(fiber.Map{
		"transaction_id": entry.ID,
		"wallet_id":      entry.SourceWalletID,
		"amount":         entry.Amount.StringFixed(2),
		"currency":       entry.Currency,
		"balance":        entry.Balances.SourceAfter.Decimal.StringFixed(2),
		"reference":      entry.Reference,
		"completed_at":   entry.CompletedAt,
		"duplicate":      status == http.StatusOK,
	})
}

type webhookRequest struct {
	ExternalRef string          `json:"external_ref" validate:"required,max=128"`
	WalletID    string          `json:"wallet_id" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" validate:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Status      string          `json:"status" validate:"required"`
}

// Webhook reconciles a payout notification for the provider in the path.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}

	result, err := h.service.Reconcile(c.UserContext(), Notification{
		Provider:    c.Params("provider"),
		ExternalRef: req.ExternalRef,
		WalletID:    req.WalletID,
		Amount:      req.Amount,
		Fee:         req.Fee,
		Status:      req.Status,
	})
	duplicate := errors.Is(err, ledger.ErrDuplicateEntry)
	if err != nil && !duplicate {
		return err
	}

	resp := fiber.Map{
		"provider":     result.Provider,
		"external_ref": result.ExternalRef,
		"status":       result.Status,
		"duplicate":    duplicate,
	}
	if result.Entry != nil {
		resp["transaction_id"] = result.Entry.ID
		resp["entry_type"] = result.Entry.Type
		resp["amount"] = result.Entry.Amount.StringFixed(2)
	}
	return c.Status(http.StatusOK).JSON(resp)
}
