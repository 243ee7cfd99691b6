// Package ledger holds the contracts shared by the order engine, the account
// manager and the storage backends: the typed error taxonomy, the Store and
// its atomic per-user unit, and the position aggregator that derives holdings
// from the append-only transaction log.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/papertrade/internal/models"
)

// Identity is the authenticated caller of an order or account operation.
// It is established by the surrounding auth layer and trusted as given.
type Identity struct {
	UserID int
}

// QuoteProvider resolves a ticker symbol to its current name and price.
//
// Lookup returns an error of kind UnknownSymbol when the symbol does not
// exist and TransientProviderFailure when the provider itself failed.
type QuoteProvider interface {
	Lookup(ctx context.Context, symbol string) (*models.Quote, error)
}

// Store is the durable ledger: users with a mutable cash balance and an
// append-only transaction log.
type Store interface {
	// CreateUser inserts a user. Fails with DuplicateUsername if the name is taken.
	CreateUser(ctx context.Context, username, passwordHash string, cash decimal.Decimal) (*models.User, error)

	// GetUser returns the user with the given id, or a NotFound error.
	GetUser(ctx context.Context, id int) (*models.User, error)

	// GetUserByUsername returns the user with the given name, or a NotFound error.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Transactions returns the user's log in execution order.
	Transactions(ctx context.Context, userID int) ([]models.Transaction, error)

	// WithUser runs fn as one atomic, isolated unit holding the user's lock.
	// Every effect fn makes through tx becomes visible together when fn
	// returns nil, and none of them does otherwise.
	WithUser(ctx context.Context, userID int, fn func(tx Tx) error) error

	Close() error
}

// Tx is the view of the store inside WithUser. All reads observe the latest
// committed state and no other unit for the same user can interleave.
type Tx interface {
	// User is the locked user row as read when the unit began.
	User() *models.User

	Transactions(ctx context.Context) ([]models.Transaction, error)
	Append(ctx context.Context, t models.Transaction) error
	SetCash(ctx context.Context, cash decimal.Decimal) error

	// UsernameOwner returns the id of the user holding username, or 0.
	UsernameOwner(ctx context.Context, username string) (int, error)
	SetUsername(ctx context.Context, username string) error
	SetPasswordHash(ctx context.Context, hash string) error
}
