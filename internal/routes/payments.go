package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payments/transfer", h.Transfer)
}
