// Package archive exports a user's transaction history to Parquet files.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// TransactionRecord is the Parquet schema for one ledger entry. Price is
// kept as its decimal string so the file holds the exact execution price.
type TransactionRecord struct {
	ID     string `parquet:"id"`
	UserID int64  `parquet:"user_id"`
	Symbol string `parquet:"symbol"`
	Shares int64  `parquet:"shares"`
	Price  string `parquet:"price"`
	Time   int64  `parquet:"time,timestamp(microsecond)"` // Unix us
}

// WriteTransactions writes txs to path, creating parent directories.
func WriteTransactions(path string, txs []models.Transaction) error {
	records := make([]TransactionRecord, len(txs))
	for i, t := range txs {
		records[i] = TransactionRecord{
			ID:     t.ID.String(),
			UserID: int64(t.UserID),
			Symbol: t.Symbol,
			Shares: t.Shares,
			Price:  t.Price.String(),
			Time:   t.Time.UnixMicro(),
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// ReadTransactions loads a file written by WriteTransactions.
func ReadTransactions(path string) ([]models.Transaction, error) {
	records, err := parquet.ReadFile[TransactionRecord](path)
	if err != nil {
		return nil, err
	}

	txs := make([]models.Transaction, len(records))
	for i, r := range records {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		txs[i] = models.Transaction{
			ID:     id,
			UserID: int(r.UserID),
			Symbol: r.Symbol,
			Shares: r.Shares,
			Price:  price,
			Time:   time.UnixMicro(r.Time).UTC(),
		}
	}
	return txs, nil
}
