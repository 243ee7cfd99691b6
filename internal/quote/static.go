package quote

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// Static serves quotes from an in-memory table. Prices can be changed while
// in use, which the seed command and tests rely on.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

// NewStatic creates a table from quotes, keyed by normalized symbol.
func NewStatic(quotes ...models.Quote) *Static {
	s := &Static{quotes: make(map[string]models.Quote, len(quotes))}
	for _, q := range quotes {
		s.Set(q.Symbol, q.Name, q.Price)
	}
	return s
}

// Set adds or replaces the quote for symbol.
func (s *Static) Set(symbol, name string, price decimal.Decimal) {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = models.Quote{Symbol: symbol, Name: name, Price: price}
}

// SetPrice changes the price of symbol, keeping its name.
func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotes[symbol]
	s.quotes[symbol] = models.Quote{Symbol: symbol, Name: q.Name, Price: price}
}

// Remove makes symbol unquotable.
func (s *Static) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, models.NormalizeSymbol(symbol))
}

func (s *Static) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, unknownSymbol(symbol)
	}
	return &q, nil
}
