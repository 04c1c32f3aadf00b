package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet", h.Mine)
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/entries", h.Entries)
	r.Patch("/wallets/:walletId/status", h.SetStatus)
}
