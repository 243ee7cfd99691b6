package models

import (
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCash is the balance a newly registered user starts with.
var DefaultCash = decimal.RequireFromString("10000.00")

// User represents a registered user
type User struct {
	ID           int             `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Cash         decimal.Decimal `json:"cash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Transaction is one immutable entry of the ledger.
// Shares is positive for a buy and negative for a sell.
type Transaction struct {
	ID     uuid.UUID       `json:"id"`
	UserID int             `json:"user_id"`
	Symbol string          `json:"symbol"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"` // execution price, never recomputed
	Time   time.Time       `json:"time"`
}

// IsBuy reports whether the transaction added shares.
func (t Transaction) IsBuy() bool { return t.Shares > 0 }

// Amount is the signed cash effect of the transaction: negative for a buy,
// positive for a sell.
func (t Transaction) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares)).Neg()
}

// Quote is a point-in-time price lookup for a ticker symbol
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// USD formats an amount as US dollars, e.g. $1,234.56.
func USD(amount decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction)).IntPart()
	return money.New(cents, money.USD).Display()
}
