/*
handlers.go - HTTP API handlers for the capital ledger

PURPOSE:
  Exposes the account service via REST API. Handles HTTP request/response,
  JSON and form decoding, and delegates to the account and auth services.

ENDPOINTS:
  Auth (public):
    POST   /api/signup                          Register, creates an empty account
    POST   /api/login                           Start a session
    POST   /api/logout                          End the session

  Account (session required):
    GET    /api/home                            Dashboard with accrued preview
    GET    /api/account                         Account with investments
    DELETE /api/account                         Delete account and user
    POST   /api/account/deposit                 Add cash
    POST   /api/account/investments             Open an investment
    PUT    /api/account/investments/{id}        Edit amount and rate
    POST   /api/account/investments/{id}/close  Settle principal + gain
    GET    /api/account/transactions            Journal, newest first

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Accounts: Load -> engine op -> save, per-account locking
  - Auth: Users and sessions
  - Currency/cookie settings from config

REQUEST FLOW:
  1. Session middleware resolves the caller's account
  2. Decode JSON or form input
  3. Call the account service
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: No session, or the session's account no longer exists
  - 404: Investment not found
  - 409: Investment closed, replayed Idempotency-Key, version conflict
  - 500: Internal errors

IDEMPOTENCY:
  Mutating calls accept an Idempotency-Key header. A key already committed
  for the account is answered with 409 and nothing is applied.

SEE ALSO:
  - dto.go: Request/response data structures
  - session.go: Cookie handling and auth handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/capital-ledger/account"
	"github.com/warp/capital-ledger/auth"
	"github.com/warp/capital-ledger/ledger"
	"go.uber.org/zap"
)

const (
	maxBodyBytes         = 1 << 20
	defaultEntriesLimit  = 100
	idempotencyKeyHeader = "Idempotency-Key"
	defaultSessionCookie = "ledger_session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options carry the presentation and cookie settings.
type Options struct {
	Currency     string
	CookieName   string
	SecureCookie bool
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts *account.Service
	Auth     *auth.Service

	currency     string
	cookieName   string
	secureCookie bool
}

// NewHandler creates a new handler with the given services.
func NewHandler(accounts *account.Service, authSvc *auth.Service, opts Options) *Handler {
	if opts.Currency == "" {
		opts.Currency = ledger.DefaultCurrency
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultSessionCookie
	}
	return &Handler{
		Accounts:     accounts,
		Auth:         authSvc,
		currency:     opts.Currency,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Home returns the dashboard.
// GET /api/home
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	user, err := h.Auth.User(r.Context(), sess.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		h.rejectSession(w, r, "User not found")
		return
	}
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}

	preview, err := h.Accounts.Preview(r.Context(), sess.AccountID, h.Accounts.Engine().Now())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toHomeDTO(user, preview, h.currency))
}

// GetAccount returns the caller's account.
// GET /api/account
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	acc, err := h.Accounts.Get(r.Context(), sess.AccountID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.accountDTO(acc))
}

// Deposit adds cash to the balance.
// POST /api/account/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	req, err := decodeAmountRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acc, entry, err := h.Accounts.Deposit(r.Context(), sess.AccountID, string(req.Amount), idempotencyKey(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositResponse{
		Account: h.accountDTO(acc),
		Entry:   toEntryDTO(entry),
	})
}

// OpenInvestment moves cash into a new investment.
// POST /api/account/investments
func (h *Handler) OpenInvestment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	req, err := decodeAmountRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acc, inv, err := h.Accounts.OpenInvestment(r.Context(), sess.AccountID, string(req.Amount), req.rate(), idempotencyKey(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, InvestmentResponse{
		Account:    h.accountDTO(acc),
		Investment: toInvestmentDTO(inv, h.Accounts.Engine().Now(), h.currency),
	})
}

// UpdateInvestment overwrites the terms of an open investment.
// PUT /api/account/investments/{id}
func (h *Handler) UpdateInvestment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	invID := ledger.InvestmentID(chi.URLParam(r, "id"))

	req, err := decodeAmountRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acc, inv, err := h.Accounts.UpdateInvestment(r.Context(), sess.AccountID, invID, string(req.Amount), req.rate(), idempotencyKey(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, InvestmentResponse{
		Account:    h.accountDTO(acc),
		Investment: toInvestmentDTO(inv, h.Accounts.Engine().Now(), h.currency),
	})
}

// CloseInvestment credits principal plus accrued gain.
// POST /api/account/investments/{id}/close
func (h *Handler) CloseInvestment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	invID := ledger.InvestmentID(chi.URLParam(r, "id"))

	acc, settlement, err := h.Accounts.CloseInvestment(r.Context(), sess.AccountID, invID, idempotencyKey(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CloseResponse{
		Account:    h.accountDTO(acc),
		Settlement: toSettlementDTO(settlement, h.currency),
	})
}

// GetTransactions returns the journal, newest first.
// GET /api/account/transactions?limit=50
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	limit := defaultEntriesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Accounts.Entries(r.Context(), sess.AccountID, limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{Entries: dtos})
}

// DeleteAccount removes the account and its user, then ends the session.
// DELETE /api/account
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	if err := h.Accounts.Delete(r.Context(), sess.AccountID); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if err := h.Auth.DeleteUser(r.Context(), sess.UserID); err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		h.writeInternal(w, r, err)
		return
	}

	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accountDTO(acc *ledger.Account) AccountDTO {
	return toAccountDTO(acc, h.Accounts.Engine().Now(), h.currency)
}

// =============================================================================
// INPUT DECODING
// =============================================================================

func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// decodeAmountRequest reads a JSON body or form fields. An empty body is
// an empty request; the engine reports the missing fields.
func decodeAmountRequest(w http.ResponseWriter, r *http.Request) (AmountRequest, error) {
	var req AmountRequest
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req.Amount = flexString(r.PostFormValue("amount"))
		req.ROIRate = flexString(r.PostFormValue("roi_rate"))
		req.ROIRateAlt = flexString(r.PostFormValue("roiRate"))
		return req, nil
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return AmountRequest{}, err
	}
	return req, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps account service errors to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		// The session outlived its account.
		h.rejectSession(w, r, "Account not found")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "Insufficient balance", err)
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, ledger.ErrInvestmentNotFound):
		writeError(w, http.StatusNotFound, "Investment not found", err)
	case errors.Is(err, ledger.ErrInvestmentClosed):
		writeError(w, http.StatusConflict, "Investment already closed", err)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Request already processed", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Account was modified concurrently, retry", err)
	default:
		h.writeInternal(w, r, err)
	}
}

func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error", nil)
}
