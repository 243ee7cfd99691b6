package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/migrations"
)

// Compile-time interface checks.
var _ ledger.Store = (*DB)(nil)
var _ ledger.Tx = (*pgTx)(nil)

const userColumns = "id, username, password_hash, cash::text, created_at"

const txColumns = "id::text, user_id, symbol, shares, price::text, time"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema files in name order.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		if _, err := db.Pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, cash decimal.Decimal) (*models.User, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, cash) VALUES ($1, $2, $3) RETURNING "+userColumns,
		username, passwordHash, cash.String())
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ledger.E(ledger.DuplicateUsername, "create user", "username %q already exists", username)
		}
		return nil, storageErr("create user", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.E(ledger.NotFound, "get user", "user %d not found", id)
		}
		return nil, storageErr("get user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.E(ledger.NotFound, "get user", "user %q not found", username)
		}
		return nil, storageErr("get user", err)
	}
	return user, nil
}

// Transactions retrieves all transactions for a user in execution order
func (db *DB) Transactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	return queryTransactions(ctx, db.Pool, userID)
}

// WithUser locks the user's row for the lifetime of one database transaction.
// Concurrent units for the same user queue on the row lock; units for other
// users proceed independently.
func (db *DB) WithUser(ctx context.Context, userID int, fn func(tx ledger.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	user, err := scanUser(tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.E(ledger.NotFound, "lock user", "user %d not found", userID)
		}
		return storageErr("lock user", err)
	}

	if err := fn(&pgTx{tx: tx, user: user}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// pgTx is the ledger.Tx handed to WithUser callbacks.
type pgTx struct {
	tx   pgx.Tx
	user *models.User
}

func (t *pgTx) User() *models.User { return t.user }

func (t *pgTx) Transactions(ctx context.Context) ([]models.Transaction, error) {
	return queryTransactions(ctx, t.tx, t.user.ID)
}

func (t *pgTx) Append(ctx context.Context, tr models.Transaction) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO transactions (id, user_id, symbol, shares, price, time) VALUES ($1, $2, $3, $4, $5, $6)",
		tr.ID.String(), t.user.ID, tr.Symbol, tr.Shares, tr.Price.String(), tr.Time)
	if err != nil {
		return storageErr("append transaction", err)
	}
	return nil
}

func (t *pgTx) SetCash(ctx context.Context, cash decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, "UPDATE users SET cash = $1 WHERE id = $2", cash.String(), t.user.ID)
	if err != nil {
		return storageErr("update cash", err)
	}
	return nil
}

func (t *pgTx) UsernameOwner(ctx context.Context, username string) (int, error) {
	var id int
	err := t.tx.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("lookup username", err)
	}
	return id, nil
}

func (t *pgTx) SetUsername(ctx context.Context, username string) error {
	_, err := t.tx.Exec(ctx, "UPDATE users SET username = $1 WHERE id = $2", username, t.user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.E(ledger.DuplicateUsername, "rename", "username %q already exists", username)
		}
		return storageErr("rename", err)
	}
	return nil
}

func (t *pgTx) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := t.tx.Exec(ctx, "UPDATE users SET password_hash = $1 WHERE id = $2", hash, t.user.ID)
	if err != nil {
		return storageErr("update password", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryTransactions(ctx context.Context, q querier, userID int) ([]models.Transaction, error) {
	rows, err := q.Query(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE user_id = $1 ORDER BY time, id",
		userID)
	if err != nil {
		return nil, storageErr("list transactions", fmt.Errorf("failed to get user transactions: %w", err))
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			tr    models.Transaction
			id    string
			price string
		)
		if err := rows.Scan(&id, &tr.UserID, &tr.Symbol, &tr.Shares, &price, &tr.Time); err != nil {
			return nil, storageErr("list transactions", fmt.Errorf("failed to scan transaction: %w", err))
		}
		if tr.ID, err = uuid.Parse(id); err != nil {
			return nil, storageErr("list transactions", err)
		}
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, storageErr("list transactions", err)
		}
		txs = append(txs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txs, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	var cash string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &cash, &user.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if user.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("failed to parse cash %q: %w", cash, err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func storageErr(op string, err error) error {
	return ledger.Wrap(ledger.StorageFailure, op, err)
}
