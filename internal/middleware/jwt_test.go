package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/mintledger/internal/auth"
	"github.com/congo-pay/mintledger/internal/logging"
)

func TestJWTAuthAndKYCGate(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(JWTAuth(verifier))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(userIDKey).(string))
	})
	app.Post("/generations", RequireKYC(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	approved, err := verifier.Sign("user-1", auth.KYCApproved, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pending, err := verifier.Sign("user-2", "pending", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"missing token", fiber.MethodGet, "/me", "", fiber.StatusUnauthorized},
		{"garbage token", fiber.MethodGet, "/me", "not.a.jwt", fiber.StatusUnauthorized},
		{"valid token", fiber.MethodGet, "/me", approved, fiber.StatusOK},
		{"kyc approved", fiber.MethodPost, "/generations", approved, fiber.StatusAccepted},
		{"kyc pending", fiber.MethodPost, "/generations", pending, fiber.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tc.token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", tc.name, err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(userIDKey, c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/verify", RateLimit(cache, "verify", 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(user string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/verify", nil)
		req.Header.Set("X-Test-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("u1"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, got)
		}
	}
	if got := send("u1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := send("u2"); got != fiber.StatusOK {
		t.Fatalf("other users must not be limited, got %d", got)
	}

	mr.FastForward(time.Minute)
	if got := send("u1"); got != fiber.StatusOK {
		t.Fatalf("window should reset, got %d", got)
	}
}
