package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

const (
	maxUsernameLen = 50
	// bcrypt ignores input past 72 bytes
	maxPasswordLen = 72
)

// Verifier hashes and checks passwords. Raw passwords are never stored.
type Verifier interface {
	Hash(password string) (string, error)
	Check(hash, password string) bool
}

// BcryptVerifier implements Verifier with bcrypt
type BcryptVerifier struct {
	Cost int
}

func (v BcryptVerifier) Hash(password string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (v BcryptVerifier) Check(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AuthService handles registration, login and credential changes
type AuthService struct {
	Store        ledger.Store
	Verifier     Verifier
	Secret       []byte
	TokenTTL     time.Duration
	StartingCash decimal.Decimal
	Log          logrus.FieldLogger
}

// NewAuthService creates a new auth service with bcrypt, a 24h token
// lifetime and the default starting cash.
func NewAuthService(store ledger.Store, secret string, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		Store:        store,
		Verifier:     BcryptVerifier{Cost: bcrypt.DefaultCost},
		Secret:       []byte(secret),
		TokenTTL:     24 * time.Hour,
		StartingCash: models.DefaultCash,
		Log:          log,
	}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, password, confirmation string) (*models.User, error) {
	const op = "register"
	if err := validUsername(op, username); err != nil {
		return nil, err
	}
	if err := validPassword(op, password); err != nil {
		return nil, err
	}
	if password != confirmation {
		return nil, ledger.E(ledger.ConfirmationMismatch, op, "password confirmation must match")
	}

	hashed, err := s.Verifier.Hash(password)
	if err != nil {
		return nil, ledger.Wrap(ledger.StorageFailure, op, fmt.Errorf("failed to hash password: %w", err))
	}

	user, err := s.Store.CreateUser(ctx, username, hashed, s.StartingCash)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	const op = "login"
	user, err := s.Store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", ledger.E(ledger.AuthenticationFailed, op, "invalid username and/or password")
		}
		return "", err
	}

	if !s.Verifier.Check(user.PasswordHash, password) {
		return "", ledger.E(ledger.AuthenticationFailed, op, "invalid username and/or password")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(s.TokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken turns a token issued by Login back into an Identity
func (s *AuthService) ParseToken(tokenString string) (ledger.Identity, error) {
	const op = "authenticate"
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ledger.Identity{}, &ledger.Error{Kind: ledger.AuthenticationFailed, Op: op, Msg: "invalid token", Err: err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ledger.Identity{}, ledger.E(ledger.AuthenticationFailed, op, "invalid token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return ledger.Identity{}, ledger.E(ledger.AuthenticationFailed, op, "token carries no user")
	}
	return ledger.Identity{UserID: int(userID)}, nil
}

// ChangeUsername renames the user after re-checking the current password.
func (s *AuthService) ChangeUsername(ctx context.Context, id ledger.Identity, newUsername, currentPassword string) error {
	const op = "change username"
	if err := validIdentity(op, id); err != nil {
		return err
	}
	if err := validUsername(op, newUsername); err != nil {
		return err
	}
	if currentPassword == "" {
		return ledger.E(ledger.InvalidInput, op, "missing password")
	}

	err := s.Store.WithUser(ctx, id.UserID, func(tx ledger.Tx) error {
		owner, err := tx.UsernameOwner(ctx, newUsername)
		if err != nil {
			return err
		}
		if owner != 0 && owner != id.UserID {
			return ledger.E(ledger.DuplicateUsername, op, "username %q already exists", newUsername)
		}
		if !s.Verifier.Check(tx.User().PasswordHash, currentPassword) {
			return ledger.E(ledger.AuthenticationFailed, op, "invalid password")
		}
		return tx.SetUsername(ctx, newUsername)
	})
	if err != nil {
		return err
	}
	s.Log.WithField("user_id", id.UserID).Info("username changed")
	return nil
}

// ChangePassword replaces the stored credential after re-checking the
// current password.
func (s *AuthService) ChangePassword(ctx context.Context, id ledger.Identity, currentPassword, newPassword, confirmation string) error {
	const op = "change password"
	if err := validIdentity(op, id); err != nil {
		return err
	}
	if currentPassword == "" {
		return ledger.E(ledger.InvalidInput, op, "missing current password")
	}
	if err := validPassword(op, newPassword); err != nil {
		return err
	}

	err := s.Store.WithUser(ctx, id.UserID, func(tx ledger.Tx) error {
		if !s.Verifier.Check(tx.User().PasswordHash, currentPassword) {
			return ledger.E(ledger.AuthenticationFailed, op, "invalid password")
		}
		if newPassword != confirmation {
			return ledger.E(ledger.ConfirmationMismatch, op, "password confirmation must match")
		}
		// currentPassword was just verified, so comparing against it is
		// comparing against the stored credential.
		if newPassword == currentPassword {
			return ledger.E(ledger.NoOpChange, op, "new password same as old")
		}
		hashed, err := s.Verifier.Hash(newPassword)
		if err != nil {
			return ledger.Wrap(ledger.StorageFailure, op, fmt.Errorf("failed to hash password: %w", err))
		}
		return tx.SetPasswordHash(ctx, hashed)
	})
	if err != nil {
		return err
	}
	s.Log.WithField("user_id", id.UserID).Info("password changed")
	return nil
}

func validIdentity(op string, id ledger.Identity) error {
	if id.UserID <= 0 {
		return ledger.E(ledger.AuthenticationFailed, op, "no authenticated user")
	}
	return nil
}

func validUsername(op, username string) error {
	if username == "" {
		return ledger.E(ledger.InvalidInput, op, "username cannot be empty")
	}
	if len(username) > maxUsernameLen {
		return ledger.E(ledger.InvalidInput, op, "username too long (max %d characters)", maxUsernameLen)
	}
	return nil
}

func validPassword(op, password string) error {
	if password == "" {
		return ledger.E(ledger.InvalidInput, op, "password cannot be empty")
	}
	if len(password) > maxPasswordLen {
		return ledger.E(ledger.InvalidInput, op, "password too long (max %d characters)", maxPasswordLen)
	}
	return nil
}
