package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/middleware"
	"github.com/congo-pay/mintledger/internal/settlement"
)

// RegisterWebhookRoutes wires payment provider callbacks. They are not
// behind JWT auth; the body must carry the shared webhook signature.
func RegisterWebhookRoutes(r fiber.Router, h *settlement.Handler, secret string) {
	r.Post("/webhooks/:provider", middleware.WebhookSignature(secret), h.Webhook)
}

// RegisterPayoutRoutes wires wallet cash-out.
func RegisterPayoutRoutes(r fiber.Router, h *settlement.Handler) {
	r.Post("/payouts", h.Payout)
}
