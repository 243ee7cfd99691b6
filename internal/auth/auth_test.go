package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/ledger"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	store, err := db.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, _ := test.NewNullLogger()
	s := NewAuthService(store, "test-secret", log)
	s.Verifier = BcryptVerifier{Cost: bcrypt.MinCost}
	return s
}

func register(t *testing.T, s *AuthService, username, password string) ledger.Identity {
	t.Helper()
	user, err := s.Register(context.Background(), username, password, password)
	require.NoError(t, err)
	return ledger.Identity{UserID: user.ID}
}

func TestAuthService_Register(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name         string
		username     string
		password     string
		confirmation string
		expectKind   ledger.Kind
	}{
		{name: "Success", username: "alice", password: "password123", confirmation: "password123"},
		{name: "EmptyUsername", username: "", password: "password123", confirmation: "password123", expectKind: ledger.InvalidInput},
		{name: "EmptyPassword", username: "bob", password: "", confirmation: "", expectKind: ledger.InvalidInput},
		{name: "LongUsername", username: string(make([]byte, 51)), password: "pw", confirmation: "pw", expectKind: ledger.InvalidInput},
		{name: "ConfirmationMismatch", username: "bob", password: "password123", confirmation: "password124", expectKind: ledger.ConfirmationMismatch},
		{name: "DuplicateUsername", username: "alice", password: "password123", confirmation: "password123", expectKind: ledger.DuplicateUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := s.Register(context.Background(), tt.username, tt.password, tt.confirmation)
			if tt.expectKind != ledger.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.expectKind, ledger.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)
			assert.Equal(t, "10000.00", user.Cash.StringFixed(2))
			assert.NotEqual(t, tt.password, user.PasswordHash)
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s := newTestService(t)
	id := register(t, s, "alice", "password123")

	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{name: "Success", username: "alice", password: "password123"},
		{name: "WrongPassword", username: "alice", password: "wrong", expectError: true},
		{name: "UnknownUser", username: "bob", password: "password123", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.expectError {
				assert.Equal(t, ledger.AuthenticationFailed, ledger.KindOf(err))
				return
			}
			require.NoError(t, err)

			got, err := s.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestAuthService_ParseToken(t *testing.T) {
	s := newTestService(t)

	sign := func(claims jwt.MapClaims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "Garbage", token: "not-a-token"},
		{name: "WrongSecret", token: sign(jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(time.Hour).Unix()}, "other")},
		{name: "Expired", token: sign(jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Hour).Unix()}, "test-secret")},
		{name: "MissingUser", token: sign(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, "test-secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ParseToken(tt.token)
			assert.Equal(t, ledger.AuthenticationFailed, ledger.KindOf(err))
		})
	}
}

func TestAuthService_ChangeUsername(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	alice := register(t, s, "alice", "password123")
	register(t, s, "bob", "hunter2")

	tests := []struct {
		name       string
		username   string
		password   string
		expectKind ledger.Kind
		expectName string
	}{
		{name: "TakenByOther", username: "bob", password: "password123", expectKind: ledger.DuplicateUsername, expectName: "alice"},
		{name: "WrongPassword", username: "carol", password: "nope", expectKind: ledger.AuthenticationFailed, expectName: "alice"},
		{name: "MissingPassword", username: "carol", password: "", expectKind: ledger.InvalidInput, expectName: "alice"},
		{name: "EmptyUsername", username: "", password: "password123", expectKind: ledger.InvalidInput, expectName: "alice"},
		{name: "OwnName", username: "alice", password: "password123", expectName: "alice"},
		{name: "Success", username: "carol", password: "password123", expectName: "carol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ChangeUsername(ctx, alice, tt.username, tt.password)
			if tt.expectKind != ledger.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.expectKind, ledger.KindOf(err))
			} else {
				require.NoError(t, err)
			}

			user, err := s.Store.GetUser(ctx, alice.UserID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectName, user.Username)

			other, err := s.Store.GetUserByUsername(ctx, "bob")
			require.NoError(t, err)
			assert.NotEqual(t, alice.UserID, other.ID)
		})
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		current      string
		newPassword  string
		confirmation string
		expectKind   ledger.Kind
	}{
		{name: "Success", current: "password123", newPassword: "fresh-one", confirmation: "fresh-one"},
		{name: "WrongCurrent", current: "nope", newPassword: "fresh-one", confirmation: "fresh-one", expectKind: ledger.AuthenticationFailed},
		{name: "ConfirmationMismatch", current: "password123", newPassword: "fresh-one", confirmation: "fresh-two", expectKind: ledger.ConfirmationMismatch},
		{name: "SameAsCurrent", current: "password123", newPassword: "password123", confirmation: "password123", expectKind: ledger.NoOpChange},
		{name: "EmptyNew", current: "password123", newPassword: "", confirmation: "", expectKind: ledger.InvalidInput},
		{name: "EmptyCurrent", current: "", newPassword: "fresh-one", confirmation: "fresh-one", expectKind: ledger.InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t)
			alice := register(t, s, "alice", "password123")

			err := s.ChangePassword(ctx, alice, tt.current, tt.newPassword, tt.confirmation)
			if tt.expectKind != ledger.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.expectKind, ledger.KindOf(err))

				_, err = s.Login(ctx, "alice", "password123")
				assert.NoError(t, err, "old password must still work")
				return
			}
			require.NoError(t, err)

			_, err = s.Login(ctx, "alice", "password123")
			assert.Equal(t, ledger.AuthenticationFailed, ledger.KindOf(err))
			_, err = s.Login(ctx, "alice", tt.newPassword)
			assert.NoError(t, err)
		})
	}
}

func TestAuthService_ChangeWithoutIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	register(t, s, "alice", "password123")

	for _, id := range []ledger.Identity{{}, {UserID: -1}} {
		err := s.ChangeUsername(ctx, id, "carol", "password123")
		assert.Equal(t, ledger.AuthenticationFailed, ledger.KindOf(err))

		err = s.ChangePassword(ctx, id, "password123", "fresh-one", "fresh-one")
		assert.Equal(t, ledger.AuthenticationFailed, ledger.KindOf(err))
	}

	_, err := s.Store.GetUserByUsername(ctx, "alice")
	assert.NoError(t, err)
}
