package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/warp/vsla-engine/access"
	"github.com/warp/vsla-engine/amortization"
	"github.com/warp/vsla-engine/ledger"
	"github.com/warp/vsla-engine/loans"
	"github.com/warp/vsla-engine/registry"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, message string, err error) {
	writeError(w, http.StatusBadRequest, CodeValidation, message, err)
}

// writeDomainError maps errors from the domain packages to HTTP statuses.
// Anything unrecognised is logged and reported as 500 without details.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, message string, err error) {
	var unknown *access.UnknownActionError
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required", err)
	case errors.As(err, &unknown):
		// A handler asked about an action the matrix does not define.
		log.Error().Err(err).Msg("access check misconfigured")
		writeError(w, http.StatusInternalServerError, CodeInternal, message, nil)

	case errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, loans.ErrLoanNotFound),
		registry.IsNotFound(err):
		writeError(w, http.StatusNotFound, CodeNotFound, message, err)

	case ledger.IsConflict(err), errors.Is(err, registry.ErrDuplicateRecord):
		writeError(w, http.StatusConflict, CodeConflict, message, err)

	case ledger.IsClientError(err),
		loans.IsClientError(err),
		errors.Is(err, amortization.ErrInvalidLoanTerms),
		errors.Is(err, registry.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, CodeValidation, message, err)

	default:
		log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, CodeInternal, message, nil)
	}
}
