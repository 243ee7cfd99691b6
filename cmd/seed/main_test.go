package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/papertrade/internal/app"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/ledger"
)

func TestRun_SeedsOnce(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")

	require.NoError(t, run(cfg, logger, "password123"))
	require.NoError(t, run(cfg, logger, "password123"))

	store, err := app.OpenStore(ctx, cfg.Database)
	require.NoError(t, err)
	defer store.Close()

	trader, err := store.GetUserByUsername(ctx, "trader1")
	require.NoError(t, err)
	txs, err := store.Transactions(ctx, trader.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	held := ledger.Holdings(txs)
	assert.Equal(t, int64(7), held["AAPL"])
	assert.Equal(t, int64(4), held["NFLX"])
	// 10000 - 1800 - 2362 + 576.30
	assert.Equal(t, "6414.30", trader.Cash.StringFixed(2))
}
