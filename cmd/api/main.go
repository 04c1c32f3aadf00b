package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/mintledger/internal/config"
	"github.com/congo-pay/mintledger/internal/events"
	"github.com/congo-pay/mintledger/internal/infra"
	"github.com/congo-pay/mintledger/internal/logging"
	"github.com/congo-pay/mintledger/internal/routes"
	"github.com/congo-pay/mintledger/internal/server"
	"github.com/congo-pay/mintledger/internal/sweeper"
)

const sweepTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = pool
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	srv, err := server.New(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Publisher: publisher})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	sched := sweeper.New(srv.Services().Generations, cfg.SweepSchedule, sweepTimeout, logger)
	if err := sched.Start(); err != nil {
		return err
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		<-sched.Stop().Done()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("reclaim sweep still running at shutdown")
	}
	return nil
}

// newPublisher selects the event backend. The returned func releases it.
func newPublisher(cfg config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	closeWith := func(name string, c io.Closer) func() {
		return func() {
			if err := c.Close(); err != nil {
				logger.Warn("close "+name, "error", err)
			}
		}
	}

	switch cfg.EventsBackend {
	case config.EventsRabbitMQ:
		conn, err := infra.NewRabbitConnection(cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		pub, err := events.NewRabbitPublisher(conn, cfg.EventsExchange)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("rabbitmq publisher: %w", err)
		}
		closeChannel, closeConn := closeWith("rabbitmq channel", pub), closeWith("rabbitmq connection", conn)
		logger.Info("publishing events to rabbitmq", "exchange", cfg.EventsExchange)
		return pub, func() { closeChannel(); closeConn() }, nil
	case config.EventsKafka:
		writer, err := infra.NewKafkaWriter(cfg.Brokers(), cfg.KafkaTopic, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka writer: %w", err)
		}
		pub := events.NewKafkaPublisher(writer)
		logger.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
		return pub, closeWith("kafka writer", pub), nil
	default:
		return events.NewLoggerPublisher(logger), func() {}, nil
	}
}
