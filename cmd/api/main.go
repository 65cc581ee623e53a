package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/safar/go-storefront/internal/api"
	"github.com/safar/go-storefront/internal/auth"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/idempotency"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/placement"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited properly")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	if _, err := database.Migrate(ctx, db, "up"); err != nil {
		return err
	}

	collector := metrics.New()

	opts := placement.DefaultOptions()
	opts.MaxRetries = cfg.Placement.MaxRetries
	opts.Timeout = cfg.Placement.Timeout
	engine := placement.NewEngine(db, opts,
		placement.WithLogger(logger.With("component", "placement")),
		placement.WithMetrics(collector),
	)

	handlerOpts := []api.Option{
		api.WithLogger(logger.With("component", "api")),
		api.WithMetrics(collector),
		api.WithBcryptCost(cfg.Auth.BcryptCost),
	}

	if cfg.Redis.URL != "" {
		redisClient, err := idempotency.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		handlerOpts = append(handlerOpts, api.WithIdempotency(idempotency.NewGuard(redisClient, cfg.Redis.IdempotencyTTL)))
		logger.Info("idempotency guard enabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.AMQPURL != "" {
		amqpPublisher, err := events.DialAMQP(ctx, cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			return err
		}
		publisher = amqpPublisher
		logger.Info("order events enabled", "exchange", cfg.Events.Exchange)
	}
	defer publisher.Close()
	handlerOpts = append(handlerOpts, api.WithPublisher(publisher))

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.New(db, engine, tokens, handlerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Server.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
