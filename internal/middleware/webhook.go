package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WebhookSignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const WebhookSignatureHeader = "X-Webhook-Signature"

// WebhookSignature rejects provider callbacks whose body is not signed with
// secret. An empty secret rejects every request.
func WebhookSignature(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := strings.TrimPrefix(strings.TrimSpace(c.Get(WebhookSignatureHeader)), "sha256=")
		if !VerifyWebhook(c.Body(), signature, secret) {
			return fiber.NewError(http.StatusUnauthorized, "invalid webhook signature")
		}
		return c.Next()
	}
}

// SignWebhook returns the signature a provider sends for payload.
func SignWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook reports whether signature matches payload under secret.
func VerifyWebhook(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignWebhook(payload, secret))
	return hmac.Equal(got, want)
}
