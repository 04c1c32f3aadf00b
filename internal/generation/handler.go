package generation

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/mintledger/internal/apperror"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/validator"
)

// Handler exposes generation endpoints.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler constructs a generation handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

type initiateRequest struct {
	WalletID string            `json:"wallet_id" validate:"required,uuid"`
	Amount   decimal.Decimal   `json:"amount" validate:"amount"`
	Method   string            `json:"method" validate:"required,max=32"`
	Metadata map[string]string `json:"metadata" validate:"max=20"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,numeric,max=18"`
}

type generationResponse struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	WalletID           string            `json:"wallet_id"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency"`
	Method             string            `json:"method"`
	Status             string            `json:"status"`
	VerificationStatus string            `json:"verification_status"`
	TransactionID      string            `json:"transaction_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	VerifiedAt         *time.Time        `json:"verified_at,omitempty"`
}

func toResponse(r ledger.GenerationRecord) generationResponse {
	resp := generationResponse{
		ID:                 r.ID,
		UserID:             r.UserID,
		WalletID:           r.WalletID,
		Amount:             r.Amount.StringFixed(2),
		Currency:           r.Currency,
		Method:             r.Method,
		Status:             string(r.Status),
		VerificationStatus: string(r.VerificationStatus),
		TransactionID:      r.TransactionID,
		Metadata:           r.Metadata,
		CreatedAt:          r.CreatedAt,
	}
	if !r.VerifiedAt.IsZero() {
		v := r.VerifiedAt
		resp.VerifiedAt = &v
	}
	return resp
}

func userID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	return uid, nil
}

// Initiate starts a generation for the authenticated user.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req initiateRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}

	res, err := h.orchestrator.Initiate(c.UserContext(), InitiateInput{
		UserID:   uid,
		WalletID: req.WalletID,
		Amount:   req.Amount,
		Method:   req.Method,
		Metadata: req.Metadata,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"generation_id": res.GenerationID,
		"wallet_id":     res.WalletID,
		"amount":        res.Amount.StringFixed(2),
		"currency":      res.Currency,
		"status":        res.Status,
	})
}

// Get returns a generation owned by the authenticated user.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	record, err := h.orchestrator.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if record.UserID != uid {
		return apperror.Newf(apperror.KindRecordNotFound, "generation %s not found", c.Params("id"))
	}
	return c.JSON(toResponse(record))
}

// Verify submits the verification code of a pending generation.
func (h *Handler) Verify(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req verifyRequest
	if err := validator.ParseBody(c, &req); err != nil {
		return err
	}
	existing, err := h.orchestrator.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if existing.UserID != uid {
		return apperror.Newf(apperror.KindRecordNotFound, "generation %s not found", c.Params("id"))
	}

	record, err := h.orchestrator.Verify(c.UserContext(), existing.ID, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(record))
}

// Cancel abandons a pending generation.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	record, err := h.orchestrator.Cancel(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(record))
}

// Resend issues a fresh verification code.
func (h *Handler) Resend(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	record, err := h.orchestrator.ReissueCode(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"generation_id": record.ID,
		"status":        record.Status,
	})
}
