package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/exchange"
	"github.com/xtrntr/papertrade/internal/ledger"
	"github.com/xtrntr/papertrade/internal/models"
)

type contextKey struct{}

var identityKey contextKey

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	Log         logrus.FieldLogger
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, log logrus.FieldLogger) *Handler {
	return &Handler{Exchange: ex, AuthService: authService, Log: log}
}

// Routes mounts the public and protected endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/quote", h.Quote)
		r.Post("/buy", h.Buy)
		r.Post("/sell", h.Sell)
		r.Get("/portfolio", h.Portfolio)
		r.Get("/history", h.History)
		r.Post("/account/username", h.ChangeUsername)
		r.Post("/account/password", h.ChangePassword)
	})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"cash":     user.Cash,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and stores the caller's Identity
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization header required"})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		id, err := h.AuthService.ParseToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the Identity placed by JWTAuthMiddleware.
func IdentityFrom(ctx context.Context) (ledger.Identity, bool) {
	id, ok := ctx.Value(identityKey).(ledger.Identity)
	return id, ok
}

// Quote looks up the current price of ?symbol=
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.Exchange.Quote(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  q.Symbol,
		"name":    q.Name,
		"price":   q.Price,
		"display": models.USD(q.Price),
	})
}

type orderRequest struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

// Buy places a market buy order
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.order(w, r, h.Exchange.Buy)
}

// Sell places a market sell order
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.order(w, r, h.Exchange.Sell)
}

func (h *Handler) order(w http.ResponseWriter, r *http.Request,
	place func(context.Context, ledger.Identity, string, int64) (*models.Transaction, error)) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}

	tr, err := place(r.Context(), id, req.Symbol, req.Shares)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

// Portfolio values the caller's holdings at current prices
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	p, err := h.Exchange.Portfolio(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History lists the caller's transactions
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	txs, err := h.Exchange.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ChangeUsername renames the caller after re-checking the password
func (h *Handler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.AuthService.ChangeUsername(r.Context(), id, req.Username, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Updated username!"})
}

// ChangePassword replaces the caller's password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Password     string `json:"password"`
		NewPassword  string `json:"new_password"`
		Confirmation string `json:"confirmation"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	err := h.AuthService.ChangePassword(r.Context(), id, req.Password, req.NewPassword, req.Confirmation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Updated password!"})
}

// RequestLogger logs one line per request with its chi request id.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start),
			}).Debug("request")
		})
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.InvalidInput, ledger.UnknownSymbol, ledger.InsufficientFunds,
		ledger.OversoldAttempt, ledger.ConfirmationMismatch, ledger.NoOpChange:
		return http.StatusBadRequest
	case ledger.AuthenticationFailed:
		return http.StatusForbidden
	case ledger.DuplicateUsername:
		return http.StatusConflict
	case ledger.NotFound:
		return http.StatusNotFound
	case ledger.TransientProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
		msg = "internal error"
	}

	writeJSON(w, status, map[string]interface{}{
		"error":     msg,
		"kind":      kind.String(),
		"retryable": kind.Retryable(),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, ledger.E(ledger.InvalidInput, "decode", "Invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
