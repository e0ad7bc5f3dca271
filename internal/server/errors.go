package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"fundme/internal/escrow"
	"fundme/internal/fundme"
)

// errorCodes pairs ledger errors with their status and a stable code.
// Order matters: wrapped errors match the first entry they satisfy.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{fundme.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{fundme.ErrBelowMinimum, http.StatusUnprocessableEntity, "below_minimum"},
	{fundme.ErrWindowClosed, http.StatusConflict, "window_closed"},
	{fundme.ErrWindowNotClosed, http.StatusConflict, "window_not_closed"},
	{fundme.ErrTargetNotReached, http.StatusConflict, "target_not_reached"},
	{fundme.ErrTargetReached, http.StatusConflict, "target_reached"},
	{fundme.ErrNoContribution, http.StatusConflict, "no_contribution"},
	{fundme.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{fundme.ErrArithmeticOverflow, http.StatusConflict, "arithmetic_overflow"},
	{fundme.ErrOracleFault, http.StatusBadGateway, "oracle_fault"},
	{fundme.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
	{escrow.ErrTxUnconfirmed, http.StatusGatewayTimeout, "tx_unconfirmed"},
	{escrow.ErrTxReverted, http.StatusBadGateway, "tx_reverted"},
	{errRetriesExhausted, http.StatusBadGateway, "retries_exhausted"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// badRequest marks input the handler rejected before reaching the ledger.
type badRequest struct {
	msg string
}

func (e badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...interface{}) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

func classify(err error) (int, string) {
	var bad badRequest
	if errors.As(err, &bad) {
		return http.StatusBadRequest, "invalid_request"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusBadGateway, "escrow_error"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// TxHash is set when a transaction was broadcast before the failure.
	TxHash string `json:"txHash,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeClassified(w, status, code, err)
}

func writeClassified(w http.ResponseWriter, status int, code string, err error) {
	resp := errorResponse{Error: err.Error(), Code: code}
	var txErr *escrow.TxError
	if errors.As(err, &txErr) {
		resp.TxHash = txErr.TxHash.Hex()
	}
	writeJSON(w, status, resp)
}
