package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

// testStore runs the behaviour every ledger.Store must share against one
// backend. newStore must return an empty store.
func testStore(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	ctx := context.Background()

	t.Run("CreateUser", func(t *testing.T) {
		store := newStore(t)

		tests := []struct {
			name       string
			username   string
			expectKind ledger.Kind
		}{
			{name: "Success", username: "alice"},
			{name: "SecondUser", username: "bob"},
			{name: "Duplicate", username: "alice", expectKind: ledger.DuplicateUsername},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				user, err := store.CreateUser(ctx, tt.username, "hash", models.DefaultCash)
				if tt.expectKind != ledger.KindUnknown {
					require.Error(t, err)
					assert.Equal(t, tt.expectKind, ledger.KindOf(err))
					return
				}
				require.NoError(t, err)
				assert.NotZero(t, user.ID)
				assert.Equal(t, tt.username, user.Username)
				assert.True(t, models.DefaultCash.Equal(user.Cash))
			})
		}
	})

	t.Run("GetUser", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", decimal.RequireFromString("123.45"))
		require.NoError(t, err)

		got, err := store.GetUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "hash", got.PasswordHash)
		assert.Equal(t, "123.45", got.Cash.StringFixed(2))

		got, err = store.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)

		_, err = store.GetUser(ctx, 999)
		assert.True(t, errors.Is(err, ledger.ErrNotFound))

		_, err = store.GetUserByUsername(ctx, "nobody")
		assert.True(t, errors.Is(err, ledger.ErrNotFound))
	})

	t.Run("WithUserCommits", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", models.DefaultCash)
		require.NoError(t, err)

		base := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
		err = store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
			for i, shares := range []int64{5, -3, 7} {
				tr := models.Transaction{
					ID:     uuid.New(),
					UserID: alice.ID,
					Symbol: "NFLX",
					Shares: shares,
					Price:  decimal.RequireFromString("20.125"),
					Time:   base.Add(time.Duration(i) * time.Second),
				}
				if err := tx.Append(ctx, tr); err != nil {
					return err
				}
			}
			return tx.SetCash(ctx, tx.User().Cash.Sub(decimal.NewFromInt(100)))
		})
		require.NoError(t, err)

		txs, err := store.Transactions(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.Equal(t, []int64{5, -3, 7}, []int64{txs[0].Shares, txs[1].Shares, txs[2].Shares})
		assert.Equal(t, "20.125", txs[0].Price.String())
		assert.True(t, txs[0].Time.Equal(base))
		assert.Equal(t, int64(9), ledger.Holding(txs, "NFLX"))

		got, err := store.GetUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "9900.00", got.Cash.StringFixed(2))
	})

	t.Run("WithUserRollsBack", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", models.DefaultCash)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
			if err := tx.Append(ctx, models.Transaction{
				ID: uuid.New(), UserID: alice.ID, Symbol: "AAPL", Shares: 1,
				Price: decimal.NewFromInt(1), Time: time.Now(),
			}); err != nil {
				return err
			}
			if err := tx.SetCash(ctx, decimal.Zero); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		txs, err := store.Transactions(ctx, alice.ID)
		require.NoError(t, err)
		assert.Empty(t, txs)

		got, err := store.GetUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, models.DefaultCash.Equal(got.Cash))
	})

	t.Run("WithUserUnknownUser", func(t *testing.T) {
		store := newStore(t)
		called := false
		err := store.WithUser(ctx, 42, func(tx ledger.Tx) error {
			called = true
			return nil
		})
		assert.True(t, errors.Is(err, ledger.ErrNotFound))
		assert.False(t, called)
	})

	t.Run("Rename", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", models.DefaultCash)
		require.NoError(t, err)
		bob, err := store.CreateUser(ctx, "bob", "hash", models.DefaultCash)
		require.NoError(t, err)

		err = store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
			owner, err := tx.UsernameOwner(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, bob.ID, owner)

			owner, err = tx.UsernameOwner(ctx, "carol")
			require.NoError(t, err)
			assert.Zero(t, owner)

			return tx.SetUsername(ctx, "bob")
		})
		assert.Equal(t, ledger.DuplicateUsername, ledger.KindOf(err))

		err = store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
			if err := tx.SetPasswordHash(ctx, "hash2"); err != nil {
				return err
			}
			return tx.SetUsername(ctx, "carol")
		})
		require.NoError(t, err)

		got, err := store.GetUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "carol", got.Username)
		assert.Equal(t, "hash2", got.PasswordHash)
	})

	t.Run("RejectsNonPositivePrice", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", models.DefaultCash)
		require.NoError(t, err)

		for _, price := range []string{"0", "0.00", "-1"} {
			err = store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
				return tx.Append(ctx, models.Transaction{
					ID:     uuid.New(),
					UserID: alice.ID,
					Symbol: "NFLX",
					Shares: 1,
					Price:  decimal.RequireFromString(price),
					Time:   time.Now(),
				})
			})
			assert.Equal(t, ledger.StorageFailure, ledger.KindOf(err), price)
		}

		txs, err := store.Transactions(ctx, alice.ID)
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("WithUserSerializes", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreateUser(ctx, "alice", "hash", decimal.NewFromInt(100))
		require.NoError(t, err)

		var wg sync.WaitGroup
		n := 10
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				err := store.WithUser(ctx, alice.ID, func(tx ledger.Tx) error {
					return tx.SetCash(ctx, tx.User().Cash.Sub(decimal.NewFromInt(1)))
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.GetUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "90", got.Cash.String())
	})
}
