package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/auth"
)

const (
	userIDKey    = "user_id"
	kycStatusKey = "kyc_status"
)

// JWTAuth validates bearer access tokens and stores the subject and KYC
// status in the request locals.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if errors.Is(err, auth.ErrExpiredToken) {
			return fiber.NewError(http.StatusUnauthorized, "token expired")
		}
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(userIDKey, claims.Subject)
		c.Locals(kycStatusKey, claims.KYCStatus)
		return c.Next()
	}
}

// RequireKYC rejects callers whose identity verification is not approved.
func RequireKYC() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if status, _ := c.Locals(kycStatusKey).(string); status != auth.KYCApproved {
			return fiber.NewError(http.StatusForbidden, "identity verification required")
		}
		return c.Next()
	}
}
