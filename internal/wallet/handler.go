package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/validator"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Currency string `json:"currency" validate:"omitempty,iso4217"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,wallet_status"`
}

type walletResponse struct {
	ID                     string    `json:"id"`
	OwnerID                string    `json:"owner_id"`
	Currency               string    `json:"currency"`
	Status                 string    `json:"status"`
	Balance                string    `json:"balance"`
	DailyGenerationLimit   string    `json:"daily_generation_limit"`
	MonthlyGenerationLimit string    `json:"monthly_generation_limit"`
	TotalGenerated         string    `json:"total_generated"`
	CreatedAt              time.Time `json:"created_at"`
}

type entryResponse struct {
	ID                  string    `json:"id"`
	Type                string    `json:"type"`
	SourceWalletID      string    `json:"source_wallet_id,omitempty"`
	DestinationWalletID string    `json:"destination_wallet_id,omitempty"`
	Amount              string    `json:"amount"`
	Fee                 string    `json:"fee"`
	Currency            string    `json:"currency"`
	Reference           string    `json:"reference"`
	Description         string    `json:"description"`
	CompletedAt         time.Time `json:"completed_at"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:                     w.ID,
		OwnerID:                w.OwnerID,
		Currency:               w.Currency,
		Status:                 string(w.Status),
		Balance:                w.Balance.StringFixed(2),
		DailyGenerationLimit:   w.DailyGenerationLimit.StringFixed(2),
		MonthlyGenerationLimit: w.MonthlyGenerationLimit.StringFixed(2),
		TotalGenerated:         w.TotalGenerated.StringFixed(2),
		CreatedAt:              w.CreatedAt,
	}
}

func currentUser(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

// owned loads the wallet in the path and hides wallets of other users.
func (h *Handler) owned(c *fiber.Ctx) (ledger.Wallet, error) {
	uid, err := currentUser(c)
	if err != nil {
		return ledger.Wallet{}, err
	}
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return ledger.Wallet{}, err
	}
	if w.OwnerID != uid {
		return ledger.Wallet{}, apperror.Newf(apperror.KindWalletNotFound, "wallet %s not found", c.Params("walletId"))
	}
	return w, nil
}

// Create provisions a wallet for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: uid, Currency: req.Currency})
	if IsExists(err) {
		return fiber.NewError(http.StatusConflict, "wallet already exists")
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Mine returns the authenticated user's wallet.
func (h *Handler) Mine(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// Get returns a wallet owned by the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), w.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":                    balance.WalletID,
		"balance":                      balance.Amount.StringFixed(2),
		"currency":                     balance.Currency,
		"daily_generation_remaining":   balance.DailyRemaining.StringFixed(2),
		"monthly_generation_remaining": balance.MonthlyRemaining.StringFixed(2),
		"timestamp":                    balance.AsOf,
	})
}

// Entries returns the wallet's journal entries, newest first.
func (h *Handler) Entries(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	entries, err := h.service.Statement(c.UserContext(), w.ID, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:                  e.ID,
			Type:                string(e.Type),
			SourceWalletID:      e.SourceWalletID,
			DestinationWalletID: e.DestinationWalletID,
			Amount:              e.Amount.StringFixed(2),
			Fee:                 e.Fee.StringFixed(2),
			Currency:            e.Currency,
			Reference:           e.Reference,
			Description:         e.Description,
			CompletedAt:         e.CompletedAt,
		})
	}
	return c.JSON(fiber.Map{"wallet_id": w.ID, "entries": out})
}

// SetStatus changes the wallet status.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}
	w, err := h.service.SetStatus(c.UserContext(), c.Params("walletId"), ledger.WalletStatus(req.Status), uid)
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}
