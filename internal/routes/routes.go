package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/mintledger/internal/auth"
	"github.com/congo-pay/mintledger/internal/challenge"
	"github.com/congo-pay/mintledger/internal/config"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/generation"
	"github.com/congo-pay/mintledger/internal/ledger"
	"github.com/congo-pay/mintledger/internal/limits"
	"github.com/congo-pay/mintledger/internal/middleware"
	"github.com/congo-pay/mintledger/internal/payments"
	"github.com/congo-pay/mintledger/internal/settlement"
	"github.com/congo-pay/mintledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Publisher events.Publisher
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Wallets     *wallet.Service
	Generations *generation.Orchestrator
	Payments    *payments.Service
	Settlement  *settlement.Service
}

// NewServices builds the domain services. Without a database the ledger is
// kept in memory, and without Redis so are verification codes; both are only
// allowed in development.
func NewServices(d Deps) (*Services, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	publisher := d.Publisher
	if publisher == nil {
		publisher = events.NewLoggerPublisher(d.Logger)
	}

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB, d.Cfg.StoreTimeout)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger")
		store = ledger.NewInMemory()
	}

	var challenges challenge.Store
	if d.Cache != nil {
		challenges = challenge.NewRedisStore(d.Cache, d.Cfg.ChallengeTTL, d.Cfg.ChallengePrefix, d.Cfg.StoreTimeout)
	} else {
		d.Logger.Warn("no redis configured, verification codes kept in memory")
		challenges = challenge.NewMemoryStore(d.Cfg.ChallengeTTL)
	}

	registry, err := settlement.NewRegistry(settlement.DefaultProviders()...)
	if err != nil {
		return nil, err
	}

	enforcer := limits.NewEnforcer(d.Cfg.Location())
	return &Services{
		Wallets: wallet.NewService(store, enforcer, wallet.Defaults{
			Currency:     d.Cfg.DefaultCurrency,
			DailyLimit:   d.Cfg.DailyLimit,
			MonthlyLimit: d.Cfg.MonthlyLimit,
		}, d.Logger),
		Generations: generation.NewOrchestrator(store, challenges, enforcer, publisher, d.Logger,
			generation.WithChallengeTTL(d.Cfg.ChallengeTTL),
			generation.WithReclaimGrace(d.Cfg.SweepGrace),
		),
		Payments:   payments.NewService(store, payments.FeePolicy{Rate: d.Cfg.TransferFeeRate, Cap: d.Cfg.TransferFeeCap}, publisher, d.Logger),
		Settlement: settlement.NewService(store, registry, publisher, d.Logger),
	}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("request_id").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	settlementHandler := settlement.NewHandler(s.Settlement)

	// Public routes
	RegisterWebhookRoutes(api, settlementHandler, d.Cfg.WebhookSecret)

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(auth.NewVerifier(d.Cfg.JWTSecret)))
	codeLimiter := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:   d.Cache,
			TTL:     d.Cfg.IdempotencyTTL,
			Timeout: d.Cfg.StoreTimeout,
			Logger:  d.Logger,
		}))
		codeLimiter = middleware.RateLimit(d.Cache, "generation-code", d.Cfg.VerifyPerMinute, d.Logger)
	}

	RegisterWalletRoutes(protected, wallet.NewHandler(s.Wallets))
	RegisterGenerationRoutes(protected, generation.NewHandler(s.Generations), codeLimiter)
	RegisterPaymentRoutes(protected, payments.NewHandler(s.Payments))
	RegisterPayoutRoutes(protected, settlementHandler)
}
