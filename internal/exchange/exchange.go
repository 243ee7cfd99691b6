// Package exchange is the order engine: it prices buy and sell orders through
// a quote provider and books them against the ledger store.
package exchange

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

// maxSymbolLen matches the width of the symbol column.
const maxSymbolLen = 16

// Exchange executes market orders at the current quote
type Exchange struct {
	store     ledger.Store
	quotes    ledger.QuoteProvider
	positions *ledger.Aggregator
	log       logrus.FieldLogger

	// Now stamps new transactions. Defaults to time.Now.
	Now func() time.Time
}

// NewExchange creates a new exchange
func NewExchange(store ledger.Store, quotes ledger.QuoteProvider, log logrus.FieldLogger) *Exchange {
	return &Exchange{
		store:     store,
		quotes:    quotes,
		positions: ledger.NewAggregator(store),
		log:       log,
		Now:       time.Now,
	}
}

// Quote resolves symbol to its current name and price.
func (e *Exchange) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol, err := validSymbol("quote", symbol)
	if err != nil {
		return nil, err
	}
	return e.lookup(ctx, "quote", symbol)
}

// Buy purchases quantity shares of symbol at the current price.
func (e *Exchange) Buy(ctx context.Context, id ledger.Identity, symbol string, quantity int64) (*models.Transaction, error) {
	const op = "buy"
	symbol, err := validOrder(op, id, symbol, quantity)
	if err != nil {
		return nil, err
	}

	q, err := e.lookup(ctx, op, symbol)
	if err != nil {
		return nil, err
	}
	cost := q.Price.Mul(decimal.NewFromInt(quantity))

	var tr models.Transaction
	err = e.store.WithUser(ctx, id.UserID, func(tx ledger.Tx) error {
		txs, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		if held := ledger.Holding(txs, symbol); held > math.MaxInt64-quantity {
			return ledger.E(ledger.InvalidInput, op, "cannot hold more than %d %s, already %d held", int64(math.MaxInt64), symbol, held)
		}
		cash := tx.User().Cash
		if cost.GreaterThan(cash) {
			return ledger.E(ledger.InsufficientFunds, op,
				"%d %s at %s costs %s, only %s available",
				quantity, symbol, models.USD(q.Price), models.USD(cost), models.USD(cash))
		}
		tr = e.newTransaction(id, symbol, quantity, q.Price)
		if err := tx.Append(ctx, tr); err != nil {
			return err
		}
		return tx.SetCash(ctx, cash.Sub(cost))
	})
	if err != nil {
		e.rejected(op, id, symbol, quantity, err)
		return nil, err
	}

	e.filled(op, tr)
	return &tr, nil
}

// Sell sells quantity shares of symbol at the current price. The user must
// hold at least quantity shares.
func (e *Exchange) Sell(ctx context.Context, id ledger.Identity, symbol string, quantity int64) (*models.Transaction, error) {
	const op = "sell"
	symbol, err := validOrder(op, id, symbol, quantity)
	if err != nil {
		return nil, err
	}

	// Reject before paying for a quote; the check is repeated under the lock.
	held, err := e.positions.Holdings(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if err := checkHolding(op, symbol, quantity, held[symbol]); err != nil {
		e.rejected(op, id, symbol, quantity, err)
		return nil, err
	}

	q, err := e.lookup(ctx, op, symbol)
	if err != nil {
		return nil, err
	}
	proceeds := q.Price.Mul(decimal.NewFromInt(quantity))

	var tr models.Transaction
	err = e.store.WithUser(ctx, id.UserID, func(tx ledger.Tx) error {
		txs, err := tx.Transactions(ctx)
		if err != nil {
			return err
		}
		if err := checkHolding(op, symbol, quantity, ledger.Holding(txs, symbol)); err != nil {
			return err
		}
		tr = e.newTransaction(id, symbol, -quantity, q.Price)
		if err := tx.Append(ctx, tr); err != nil {
			return err
		}
		return tx.SetCash(ctx, tx.User().Cash.Add(proceeds))
	})
	if err != nil {
		e.rejected(op, id, symbol, quantity, err)
		return nil, err
	}

	e.filled(op, tr)
	return &tr, nil
}

// History returns the user's transactions in execution order.
func (e *Exchange) History(ctx context.Context, id ledger.Identity) ([]models.Transaction, error) {
	if err := validIdentity("history", id); err != nil {
		return nil, err
	}
	return e.store.Transactions(ctx, id.UserID)
}

// Portfolio values the user's holdings at current quotes.
func (e *Exchange) Portfolio(ctx context.Context, id ledger.Identity) (*ledger.Portfolio, error) {
	if err := validIdentity("portfolio", id); err != nil {
		return nil, err
	}
	return e.positions.PortfolioValue(ctx, id.UserID, e.quotes)
}

func (e *Exchange) lookup(ctx context.Context, op, symbol string) (*models.Quote, error) {
	q, err := e.quotes.Lookup(ctx, symbol)
	if err != nil {
		e.log.WithError(err).WithField("symbol", symbol).Warn("quote lookup failed")
		return nil, ledger.Wrap(ledger.TransientProviderFailure, op, err)
	}
	if !q.Price.IsPositive() {
		e.log.WithFields(logrus.Fields{"symbol": symbol, "price": q.Price.String()}).Warn("quote has no positive price")
		return nil, ledger.E(ledger.UnknownSymbol, op, "no valid price for %s", symbol)
	}
	return q, nil
}

func (e *Exchange) newTransaction(id ledger.Identity, symbol string, shares int64, price decimal.Decimal) models.Transaction {
	return models.Transaction{
		ID:     uuid.Must(uuid.NewV7()),
		UserID: id.UserID,
		Symbol: symbol,
		Shares: shares,
		Price:  price,
		Time:   e.Now().UTC().Truncate(time.Microsecond),
	}
}

func (e *Exchange) filled(op string, tr models.Transaction) {
	e.log.WithFields(logrus.Fields{
		"user_id": tr.UserID,
		"symbol":  tr.Symbol,
		"shares":  tr.Shares,
		"price":   tr.Price.String(),
	}).Infof("%s order filled", op)
}

func (e *Exchange) rejected(op string, id ledger.Identity, symbol string, quantity int64, err error) {
	entry := e.log.WithFields(logrus.Fields{
		"user_id": id.UserID,
		"symbol":  symbol,
		"shares":  quantity,
	}).WithError(err)
	if ledger.KindOf(err).Retryable() {
		entry.Errorf("%s order failed", op)
		return
	}
	entry.Infof("%s order rejected", op)
}

func checkHolding(op, symbol string, quantity, holding int64) error {
	if quantity > holding {
		return ledger.E(ledger.OversoldAttempt, op, "cannot sell %d %s, only %d held", quantity, symbol, holding)
	}
	return nil
}

func validOrder(op string, id ledger.Identity, symbol string, quantity int64) (string, error) {
	if err := validIdentity(op, id); err != nil {
		return "", err
	}
	symbol, err := validSymbol(op, symbol)
	if err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", ledger.E(ledger.InvalidInput, op, "shares must be a positive integer, got %d", quantity)
	}
	return symbol, nil
}

func validIdentity(op string, id ledger.Identity) error {
	if id.UserID <= 0 {
		return ledger.E(ledger.AuthenticationFailed, op, "no authenticated user")
	}
	return nil
}

func validSymbol(op, symbol string) (string, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", ledger.E(ledger.InvalidInput, op, "missing symbol")
	}
	if len(symbol) > maxSymbolLen {
		return "", ledger.E(ledger.InvalidInput, op, "symbol %q is too long", symbol)
	}
	for _, r := range symbol {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-') {
			return "", ledger.E(ledger.InvalidInput, op, "symbol %q contains %q", symbol, r)
		}
	}
	return symbol, nil
}
