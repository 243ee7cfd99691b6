package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/papertrade/internal/models"
	"golang.org/x/sync/errgroup"
)

// Holdings sums share quantities per symbol. Symbols whose sum is zero are
// omitted. The result does not depend on the order of txs.
func Holdings(txs []models.Transaction) map[string]int64 {
	sums := make(map[string]int64)
	for _, t := range txs {
		sums[t.Symbol] += t.Shares
	}
	for symbol, shares := range sums {
		if shares == 0 {
			delete(sums, symbol)
		}
	}
	return sums
}

// Holding returns the net share count for one symbol.
func Holding(txs []models.Transaction, symbol string) int64 {
	var n int64
	for _, t := range txs {
		if t.Symbol == symbol {
			n += t.Shares
		}
	}
	return n
}

// Position is a valued holding.
type Position struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

// Portfolio is a user's holdings valued at current quotes, plus cash.
type Portfolio struct {
	Positions []Position      `json:"positions"`
	Cash      decimal.Decimal `json:"cash"`
	Total     decimal.Decimal `json:"total"`
}

// Aggregator derives positions from the transaction log. It never writes.
type Aggregator struct {
	Store Store
}

// NewAggregator creates a new aggregator over store
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store}
}

// Holdings returns the user's current share count per held symbol.
func (a *Aggregator) Holdings(ctx context.Context, userID int) (map[string]int64, error) {
	txs, err := a.Store.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Holdings(txs), nil
}

// snapshot reads the user row and the log from one consistent state.
func (a *Aggregator) snapshot(ctx context.Context, userID int) (*models.User, []models.Transaction, error) {
	var (
		user *models.User
		txs  []models.Transaction
	)
	err := a.Store.WithUser(ctx, userID, func(tx Tx) error {
		var err error
		txs, err = tx.Transactions(ctx)
		u := *tx.User()
		user = &u
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return user, txs, nil
}

// PortfolioValue values every held symbol at a fresh quote and adds cash.
// A failed quote fails the whole valuation; no stale price is substituted.
func (a *Aggregator) PortfolioValue(ctx context.Context, userID int, quotes QuoteProvider) (*Portfolio, error) {
	user, txs, err := a.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	held := Holdings(txs)
	symbols := make([]string, 0, len(held))
	for symbol := range held {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	positions := make([]Position, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			q, err := quotes.Lookup(gctx, symbol)
			if err != nil {
				return Wrap(TransientProviderFailure, "portfolio", err)
			}
			shares := held[symbol]
			positions[i] = Position{
				Symbol: symbol,
				Name:   q.Name,
				Shares: shares,
				Price:  q.Price,
				Value:  q.Price.Mul(decimal.NewFromInt(shares)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := user.Cash
	for _, p := range positions {
		total = total.Add(p.Value)
	}
	return &Portfolio{Positions: positions, Cash: user.Cash, Total: total}, nil
}
