package httpapi

import (
	"errors"
	"net/http"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ledger"
	"rotasave.org/internal/obs"
	"rotasave.org/internal/rosca"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// statusForCategory maps engine error categories onto HTTP statuses.
func statusForCategory(c rosca.Category) int {
	switch c {
	case rosca.CategoryNotFound:
		return http.StatusNotFound
	case rosca.CategoryValidation:
		return http.StatusBadRequest
	case rosca.CategoryStateConflict:
		return http.StatusConflict
	case rosca.CategoryAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	obs.ObserveError(err)

	category := rosca.CategoryOf(err)
	code := rosca.CodeOf(err)
	status := statusForCategory(category)
	msg := err.Error()

	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if code == "" {
		code = rosca.CodeStorage
	}
	writeErrorBody(w, r, status, map[string]any{
		"error":    msg,
		"code":     string(code),
		"category": category.String(),
	})
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidCurrency), errors.Is(err, ledger.ErrInvalidAccount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrAccountExists), errors.Is(err, ledger.ErrIdempotencyMismatch):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="rotasave"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	}
}
