package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"vestchain/native/vesting"
)

var (
	errNilLedger     = errors.New("routes: ledger required")
	errNoCaller      = errors.New("caller identity required")
	errEventsOffline = errors.New("event indexer not configured")
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{vesting.ErrCapExceeded, http.StatusConflict},
	{vesting.ErrInsufficientFunds, http.StatusConflict},
	{vesting.ErrRoundFinished, http.StatusConflict},
	{vesting.ErrRoundNotFinished, http.StatusConflict},
	{vesting.ErrAlreadyWithdrawn, http.StatusConflict},
	{vesting.ErrNotReady, http.StatusConflict},
	{vesting.ErrDuplicateAction, http.StatusConflict},
	{vesting.ErrAlreadyExecuted, http.StatusConflict},
	{vesting.ErrActionCancelled, http.StatusConflict},
	{vesting.ErrUnsupportedCurve, http.StatusConflict},
	{vesting.ErrUnauthorized, http.StatusForbidden},
	{vesting.ErrNotBeneficiary, http.StatusNotFound},
	{vesting.ErrUnknownAction, http.StatusNotFound},
	{vesting.ErrPoolNotFound, http.StatusNotFound},
	{vesting.ErrInvalidAmount, http.StatusBadRequest},
	{vesting.ErrAmountOverflow, http.StatusBadRequest},
}

// statusFor maps ledger sentinels onto HTTP status codes. Anything else is an
// internal error.
func statusFor(err error) int {
	for _, entry := range statusBySentinel {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// claimResult is the metrics label for a claim outcome.
func claimResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, vesting.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, vesting.ErrNotBeneficiary):
		return "not_beneficiary"
	case errors.Is(err, vesting.ErrInvalidAmount), errors.Is(err, vesting.ErrAmountOverflow):
		return "invalid_amount"
	default:
		return "error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}
