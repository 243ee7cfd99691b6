// Package app assembles the ledger services from a Config. It is shared by
// the server, the operator CLI and the seed command.
package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/quote"
)

// App bundles the wired services.
type App struct {
	Store    ledger.Store
	Quotes   ledger.QuoteProvider
	Exchange *exchange.Exchange
	Auth     *auth.AuthService
	Log      logrus.FieldLogger
}

// OpenStore connects to the configured database and makes sure the schema
// exists.
func OpenStore(ctx context.Context, cfg config.Database) (ledger.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return db.NewSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		database, err := db.NewDB(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewQuoteProvider builds the configured provider, wrapped in the quote cache
// when a cache TTL is set.
func NewQuoteProvider(cfg config.Quote, log logrus.FieldLogger) (ledger.QuoteProvider, error) {
	var p ledger.QuoteProvider
	switch cfg.Provider {
	case "http":
		hp := quote.NewHTTPProvider(cfg.URL, cfg.Token, cfg.Timeout)
		if cfg.NamePath != "" {
			hp.NamePath = cfg.NamePath
		}
		if cfg.PricePath != "" {
			hp.PricePath = cfg.PricePath
		}
		if cfg.SymbolPath != "" {
			hp.SymbolPath = cfg.SymbolPath
		}
		p = hp
	case "alpaca":
		p = quote.NewAlpacaProvider(cfg.APIKey, cfg.APISecret, cfg.BaseURL, cfg.DataURL, cfg.Timeout)
	case "static":
		p = DemoQuotes()
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.Provider)
	}

	if cfg.CacheTTL <= 0 {
		return p, nil
	}
	c := quote.NewCache(cfg.RedisAddr, cfg.CacheSize, cfg.CacheTTL)
	return quote.NewCached(p, c, cfg.CacheTTL, log), nil
}

// DemoQuotes is the fixed price table used by the static provider.
func DemoQuotes() *quote.Static {
	return quote.NewStatic(
		models.Quote{Symbol: "AAPL", Name: "Apple Inc.", Price: decimal.RequireFromString("187.44")},
		models.Quote{Symbol: "MSFT", Name: "Microsoft Corporation", Price: decimal.RequireFromString("415.10")},
		models.Quote{Symbol: "NFLX", Name: "Netflix, Inc.", Price: decimal.RequireFromString("612.09")},
		models.Quote{Symbol: "AMZN", Name: "Amazon.com, Inc.", Price: decimal.RequireFromString("178.22")},
	)
}

// New opens the store and wires the services. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	startingCash, err := cfg.StartingCash()
	if err != nil {
		return nil, err
	}
	quotes, err := NewQuoteProvider(cfg.Quote, log)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	authService := auth.NewAuthService(store, cfg.Server.JWTSecret, log)
	authService.TokenTTL = cfg.Server.TokenTTL
	authService.StartingCash = startingCash

	return &App{
		Store:    store,
		Quotes:   quotes,
		Exchange: exchange.NewExchange(store, quotes, log),
		Auth:     authService,
		Log:      log,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
