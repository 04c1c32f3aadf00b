package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/generation"
	"github.com/congo-pay/mintledger/internal/middleware"
)

// RegisterGenerationRoutes wires balance generation endpoints. Starting a
// generation requires approved KYC; code submission and resend are rate
// limited per user.
func RegisterGenerationRoutes(r fiber.Router, h *generation.Handler, codeLimiter fiber.Handler) {
	group := r.Group("/generations")
	group.Post("", middleware.RequireKYC(), h.Initiate)
	group.Get("/:id", h.Get)
	group.Post("/:id/verify", codeLimiter, h.Verify)
	group.Post("/:id/cancel", h.Cancel)
	group.Post("/:id/resend", codeLimiter, h.Resend)
}
