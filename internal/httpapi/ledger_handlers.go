package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rotasave.org/internal/audit"
	"rotasave.org/internal/auth"
	"rotasave.org/internal/ledger"
	"rotasave.org/internal/obs"
)

var errEmptyBody = errors.New("request body is required")

type createAccountRequest struct {
	ID            string `json:"id"`
	Currency      string `json:"currency"`
	InitialAmount int64  `json:"initial_amount"`
}

type listTransactionsResponse struct {
	Items     []ledger.Transaction `json:"items"`
	NextAfter uint64               `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

func (a *API) registerLedgerRoutes() {
	a.mux.HandleFunc("POST /v1/accounts", a.createAccount)
	a.mux.HandleFunc("GET /v1/accounts/{id}", a.getAccount)
	a.mux.HandleFunc("GET /v1/accounts/{id}/balance", a.getBalance)
	a.mux.HandleFunc("GET /v1/ledger/transactions", a.listTransactions)
}

// createAccount opens and funds a member account. Pool accounts are opened
// by the engine's payments adapter.
func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermLedgerCreateAccount) {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	if strings.HasPrefix(id, "pool:") {
		writeError(w, r, http.StatusBadRequest, "pool accounts are managed by the engine")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = a.currency
	}
	if len(currency) > 8 {
		writeError(w, r, http.StatusBadRequest, "currency code too long")
		return
	}
	if req.InitialAmount < 0 {
		writeError(w, r, http.StatusBadRequest, "initial_amount must be >= 0")
		return
	}

	acc, err := a.ledger.OpenAccount(r.Context(), id, ledger.Money{
		Currency: currency,
		Amount:   req.InitialAmount,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.auditLedger(r, "ledger.account.open", map[string]any{
		"account":        acc.ID,
		"currency":       currency,
		"initial_amount": strconv.FormatInt(req.InitialAmount, 10),
	})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermLedgerRead) {
		return
	}
	acc, err := a.ledger.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermLedgerRead) {
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		currency = a.currency
	}
	mon, err := a.ledger.GetBalance(r.Context(), r.PathValue("id"), currency)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mon)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermLedgerRead) {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.ledger.ListTransactions(r.Context(), limit, after)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}

	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      a.now().UTC(),
	})
}

func (a *API) auditLedger(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().WarnContext(r.Context(), "audit log failed",
			"event", event, "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}
