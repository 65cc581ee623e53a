package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/safar/go-storefront/internal/auth"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go run scripts/run_migrations.go [up|down|seed]")
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "up", "down":
		applied, err := database.Migrate(ctx, db, command)
		if err != nil {
			logger.Error("migration failed", "direction", command, "error", err)
			os.Exit(1)
		}
		for _, name := range applied {
			logger.Info("ran migration", "file", name)
		}
		logger.Info("migrations complete", "direction", command, "count", len(applied))

	case "seed":
		if err := seed(ctx, cfg, db); err != nil {
			logger.Error("seed failed", "error", err)
			os.Exit(1)
		}
		logger.Info("seed complete")

	default:
		fmt.Fprintln(os.Stderr, "Command must be 'up', 'down' or 'seed'")
		os.Exit(2)
	}
}

func seed(ctx context.Context, cfg *config.Config, q store.Querier) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email != "" && password != "" {
		hash, err := auth.HashPassword(password, cfg.Auth.BcryptCost)
		if err != nil {
			return err
		}
		_, err = store.CreateUser(ctx, q, store.NewUser{
			Email:        email,
			Name:         "Administrator",
			PasswordHash: hash,
			IsAdmin:      true,
		})
		if err != nil && !errors.Is(err, database.ErrEmailTaken) {
			return err
		}
	}

	samples := []store.NewProduct{
		{Name: "Espresso Beans 1kg", Category: "coffee", Price: decimal.RequireFromString("24.90"), Quantity: 50},
		{Name: "Pour-over Kettle", Category: "equipment", Price: decimal.RequireFromString("39.00"), Quantity: 15},
		{Name: "Ceramic Mug", Category: "merchandise", Price: decimal.RequireFromString("9.99"), Quantity: 120},
	}
	for _, p := range samples {
		if _, err := store.CreateProduct(ctx, q, p); err != nil {
			return err
		}
	}
	return nil
}
