package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time interface checks.
var _ ledger.Store = (*SQLite)(nil)
var _ ledger.Tx = (*sqliteTx)(nil)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		cash TEXT NOT NULL DEFAULT '10000.00',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		symbol TEXT NOT NULL,
		shares INTEGER NOT NULL CHECK (shares <> 0),
		price TEXT NOT NULL CHECK (CAST(price AS REAL) > 0),
		time TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_symbol_idx ON transactions (user_id, symbol)`,
}

// SQLite is the file-backed ledger store. SQLite admits a single writer, so
// the pool is limited to one connection and every WithUser unit runs alone.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateUser(ctx context.Context, username, passwordHash string, cash decimal.Decimal) (*models.User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, cash, created_at) VALUES (?, ?, ?, ?)",
		username, passwordHash, cash.String(), now.Format(timeLayout))
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, ledger.E(ledger.DuplicateUsername, "create user", "username %q already exists", username)
		}
		return nil, storageErr("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("create user", err)
	}
	return &models.User{
		ID:           int(id),
		Username:     username,
		PasswordHash: passwordHash,
		Cash:         cash,
		CreatedAt:    now.Truncate(time.Nanosecond),
	}, nil
}

func (s *SQLite) GetUser(ctx context.Context, id int) (*models.User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.E(ledger.NotFound, "get user", "user %d not found", id)
		}
		return nil, storageErr("get user", err)
	}
	return user, nil
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE username = ?", username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.E(ledger.NotFound, "get user", "user %q not found", username)
		}
		return nil, storageErr("get user", err)
	}
	return user, nil
}

func (s *SQLite) Transactions(ctx context.Context, userID int) ([]models.Transaction, error) {
	return querySQLiteTransactions(ctx, s.db, userID)
}

func (s *SQLite) WithUser(ctx context.Context, userID int, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	user, err := scanSQLiteUser(tx.QueryRowContext(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = ?", userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.E(ledger.NotFound, "lock user", "user %d not found", userID)
		}
		return storageErr("lock user", err)
	}

	if err := fn(&sqliteTx{tx: tx, user: user}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type sqliteTx struct {
	tx   *sql.Tx
	user *models.User
}

func (t *sqliteTx) User() *models.User { return t.user }

func (t *sqliteTx) Transactions(ctx context.Context) ([]models.Transaction, error) {
	return querySQLiteTransactions(ctx, t.tx, t.user.ID)
}

func (t *sqliteTx) Append(ctx context.Context, tr models.Transaction) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO transactions (id, user_id, symbol, shares, price, time) VALUES (?, ?, ?, ?, ?, ?)",
		tr.ID.String(), t.user.ID, tr.Symbol, tr.Shares, tr.Price.String(), tr.Time.UTC().Format(timeLayout))
	if err != nil {
		return storageErr("append transaction", err)
	}
	return nil
}

func (t *sqliteTx) SetCash(ctx context.Context, cash decimal.Decimal) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE users SET cash = ? WHERE id = ?", cash.String(), t.user.ID); err != nil {
		return storageErr("update cash", err)
	}
	return nil
}

func (t *sqliteTx) UsernameOwner(ctx context.Context, username string) (int, error) {
	var id int
	err := t.tx.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("lookup username", err)
	}
	return id, nil
}

func (t *sqliteTx) SetUsername(ctx context.Context, username string) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE users SET username = ? WHERE id = ?", username, t.user.ID); err != nil {
		if isSQLiteUnique(err) {
			return ledger.E(ledger.DuplicateUsername, "rename", "username %q already exists", username)
		}
		return storageErr("rename", err)
	}
	return nil
}

func (t *sqliteTx) SetPasswordHash(ctx context.Context, hash string) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, t.user.ID); err != nil {
		return storageErr("update password", err)
	}
	return nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySQLiteTransactions(ctx context.Context, q sqlQuerier, userID int) ([]models.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, user_id, symbol, shares, price, time FROM transactions WHERE user_id = ? ORDER BY time, rowid",
		userID)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			tr              models.Transaction
			id, price, when string
		)
		if err := rows.Scan(&id, &tr.UserID, &tr.Symbol, &tr.Shares, &price, &when); err != nil {
			return nil, storageErr("list transactions", err)
		}
		if tr.ID, err = uuid.Parse(id); err != nil {
			return nil, storageErr("list transactions", err)
		}
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, storageErr("list transactions", err)
		}
		if tr.Time, err = time.Parse(timeLayout, when); err != nil {
			return nil, storageErr("list transactions", err)
		}
		txs = append(txs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txs, nil
}

func scanSQLiteUser(row *sql.Row) (*models.User, error) {
	var (
		user          models.User
		cash, created string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &cash, &created); err != nil {
		return nil, err
	}
	var err error
	if user.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("failed to parse cash %q: %w", cash, err)
	}
	if user.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", created, err)
	}
	return &user, nil
}

func isSQLiteUnique(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
