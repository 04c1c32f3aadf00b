package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/validator"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromWalletID string          `json:"from_wallet_id" validate:"required,uuid"`
	ToWalletID   string          `json:"to_wallet_id" validate:"required,uuid"`
	Amount       decimal.Decimal `json:"amount" validate:"amount"`
	Description  string          `json:"description" validate:"max=140"`
	ClientTxID   string          `json:"client_tx_id" validate:"max=64"`
}

// Transfer processes a wallet-to-wallet transfer.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	entry, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromWalletID:    req.FromWalletID,
		ToWalletID:      req.ToWalletID,
		Amount:          req.Amount,
		Description:     req.Description,
		ClientTxID:      req.ClientTxID,
		RequestorUserID: uid,
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, ledger.ErrDuplicateEntry):
		status = http.StatusOK
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, "not owner of source wallet")
	case err != nil:
		return err
	}

	return c.Status(status).JSON(fiber.Map{
		"transaction_id": entry.ID,
		"from_wallet_id": entry.SourceWalletID,
		"to_wallet_id":   entry.DestinationWalletID,
		"amount":         entry.Amount.StringFixed(2),
		"fee":            entry.Fee.StringFixed(2),
		"currency":       entry.Currency,
		"from_balance":   entry.Balances.SourceAfter.Decimal.StringFixed(2),
		"reference":      entry.Reference,
		"completed_at":   entry.CompletedAt,
		"duplicate":      status == http.StatusOK,
	})
}
