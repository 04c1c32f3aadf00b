package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Event backends selectable through EVENTS_BACKEND.
const (
	EventsLog      = "log"
	EventsRabbitMQ = "rabbitmq"
	EventsKafka    = "kafka"
)

// Config captures application runtime configuration loaded from the
// environment and an optional .env file.
type Config struct {
	AppName        string        `mapstructure:"APP_NAME"`
	AppEnv         string        `mapstructure:"APP_ENV"`
	Port           string        `mapstructure:"PORT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	ShutdownPeriod time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	WebhookSecret  string        `mapstructure:"WEBHOOK_SECRET"`

	ChallengeTTL    time.Duration `mapstructure:"CHALLENGE_TTL"`
	ChallengePrefix string        `mapstructure:"CHALLENGE_PREFIX"`
	StoreTimeout    time.Duration `mapstructure:"STORE_TIMEOUT"`
	LimitTimezone   string        `mapstructure:"LIMIT_TIMEZONE"`
	DefaultCurrency string        `mapstructure:"DEFAULT_CURRENCY"`
	VerifyPerMinute int           `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`

	SweepSchedule string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepGrace    time.Duration `mapstructure:"SWEEP_GRACE"`

	EventsBackend  string `mapstructure:"EVENTS_BACKEND"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`
	KafkaBrokers   string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic     string `mapstructure:"KAFKA_TOPIC"`

	DailyLimit      decimal.Decimal `mapstructure:"-"`
	MonthlyLimit    decimal.Decimal `mapstructure:"-"`
	TransferFeeRate decimal.Decimal `mapstructure:"-"`
	TransferFeeCap  decimal.Decimal `mapstructure:"-"`
}

var defaults = map[string]any{
	"APP_NAME":                     "mintledger",
	"APP_ENV":                      "development",
	"PORT":                         "8080",
	"LOG_LEVEL":                    "info",
	"SHUTDOWN_TIMEOUT":             "10s",
	"IDEMPOTENCY_TTL":              "24h",
	"CHALLENGE_TTL":                "10m",
	"CHALLENGE_PREFIX":             "mintledger:challenge:",
	"STORE_TIMEOUT":                "5s",
	"LIMIT_TIMEZONE":               "UTC",
	"DEFAULT_CURRENCY":             "XAF",
	"DEFAULT_DAILY_LIMIT":          "1000",
	"DEFAULT_MONTHLY_LIMIT":        "10000",
	"TRANSFER_FEE_RATE":            "0.001",
	"TRANSFER_FEE_CAP":             "5",
	"VERIFY_RATE_LIMIT_PER_MINUTE": 10,
	"SWEEP_SCHEDULE":               "@every 1m",
	"SWEEP_GRACE":                  "1m",
	"EVENTS_BACKEND":               EventsLog,
	"EVENTS_EXCHANGE":              "mintledger.events",
	"KAFKA_TOPIC":                  "mintledger.events",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory and then to defaults.
func Load() (Config, error) {
	return load(".")
}

func load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "WEBHOOK_SECRET", "RABBITMQ_URL", "KAFKA_BROKERS"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.EventsBackend = strings.ToLower(cfg.EventsBackend)
	cfg.DefaultCurrency = strings.ToUpper(cfg.DefaultCurrency)

	amounts := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"DEFAULT_DAILY_LIMIT", &cfg.DailyLimit},
		{"DEFAULT_MONTHLY_LIMIT", &cfg.MonthlyLimit},
		{"TRANSFER_FEE_RATE", &cfg.TransferFeeRate},
		{"TRANSFER_FEE_CAP", &cfg.TransferFeeCap},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(v.GetString(a.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", a.key, err)
		}
		if d.IsNegative() {
			return Config{}, fmt.Errorf("%s must not be negative", a.key)
		}
		*a.dst = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := time.LoadLocation(c.LimitTimezone); err != nil {
		return fmt.Errorf("invalid LIMIT_TIMEZONE: %w", err)
	}
	if c.MonthlyLimit.LessThan(c.DailyLimit) {
		return fmt.Errorf("DEFAULT_MONTHLY_LIMIT must not be below DEFAULT_DAILY_LIMIT")
	}
	switch c.EventsBackend {
	case EventsLog:
	case EventsRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL must be set for the rabbitmq events backend")
		}
	case EventsKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be set for the kafka events backend")
		}
	default:
		return fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend)
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET must be set")
	}
	return nil
}

// IsDevelopment reports whether the service runs without external backing
// stores being mandatory.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
}

// Location returns the timezone that defines limit windows.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LimitTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Brokers splits KAFKA_BROKERS into addresses.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
