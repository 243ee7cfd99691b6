package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/xtrntr/papertrade/internal/app"
	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/logging"
)

type order struct {
	sell   bool
	symbol string
	shares int64
	price  string
}

// Seed the database with demo users and orders priced from a fixed table
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	password := flag.String("password", "password123", "password for the demo users")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	if err := run(cfg, logger, *password); err != nil {
		logger.Fatal(err)
	}
	fmt.Println("Successfully seeded the database with demo orders!")
}

// run registers the demo users and books their orders, closing the store
// before it returns.
func run(cfg *config.Config, logger *log.Logger, password string) error {
	startingCash, err := cfg.StartingCash()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	quotes := app.DemoQuotes()
	ex := exchange.NewExchange(store, quotes, logger)
	authService := auth.NewAuthService(store, cfg.Server.JWTSecret, logger)
	authService.StartingCash = startingCash

	seed := map[string][]order{
		"trader1": {
			{symbol: "AAPL", shares: 10, price: "180.00"},
			{symbol: "NFLX", shares: 4, price: "590.50"},
			{sell: true, symbol: "AAPL", shares: 3, price: "192.10"},
		},
		"trader2": {
			{symbol: "MSFT", shares: 6, price: "401.00"},
			{symbol: "AMZN", shares: 12, price: "171.35"},
		},
	}

	for _, username := range []string{"trader1", "trader2"} {
		user, err := authService.Register(ctx, username, password, password)
		if ledger.KindOf(err) == ledger.DuplicateUsername {
			fmt.Printf("User %s already exists. No need to seed.\n", username)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", username, err)
		}

		id := ledger.Identity{UserID: user.ID}
		for _, o := range seed[username] {
			quotes.SetPrice(o.symbol, decimal.RequireFromString(o.price))
			place := ex.Buy
			if o.sell {
				place = ex.Sell
			}
			if _, err := place(ctx, id, o.symbol, o.shares); err != nil {
				return fmt.Errorf("failed to place order for %s: %w", username, err)
			}
		}
	}
	return nil
}
