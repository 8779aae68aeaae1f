package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/efreitasn/dex/internal/domain"
)

// timeFormat renders timestamps as RFC 3339 in UTC with second precision.
const timeFormat = "2006-01-02T15:04:05Z"

// traderHeader carries the caller's address on authenticated routes.
const traderHeader = "X-Trader-Address"

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

var kindStatus = map[string]int{
	domain.KindValidation:                      http.StatusBadRequest,
	domain.ErrCannotTradeQuoteAsset.Error():    http.StatusBadRequest,
	domain.ErrAmountOverflow.Error():           http.StatusBadRequest,
	domain.ErrUnknownToken.Error():             http.StatusNotFound,
	domain.ErrWebhookNotFound.Error():          http.StatusNotFound,
	domain.ErrTokenAlreadyExists.Error():       http.StatusConflict,
	domain.ErrInsufficientTokenBalance.Error(): http.StatusConflict,
	domain.ErrInsufficientQuoteBalance.Error(): http.StatusConflict,
	domain.ErrInsufficientBalance.Error():      http.StatusConflict,
	domain.ErrSettlementFailed.Error():         http.StatusConflict,
	domain.ErrTransferFailed.Error():           http.StatusConflict,
	domain.ErrUnauthorized.Error():             http.StatusForbidden,
	domain.ErrHalted.Error():                   http.StatusServiceUnavailable,
}

// WriteDomainError maps err to a status code through its domain kind.
// Unknown errors become a 500 without leaking their text.
func WriteDomainError(w http.ResponseWriter, err error) {
	kind := domain.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}
	WriteError(w, status, kind, err.Error())
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// parseAmount parses a decimal string field, naming the field on failure.
func parseAmount(field, s string) (domain.Amount, error) {
	if s == "" {
		return domain.Amount{}, &domain.ValidationError{Message: field + " is required"}
	}
	a, err := domain.ParseAmount(s)
	if err != nil {
		return domain.Amount{}, &domain.ValidationError{Message: field + " must be a non-negative base-10 integer string"}
	}
	return a, nil
}

// parseAddress accepts a 0x-prefixed 20-byte hex address.
func parseAddress(field, s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, &domain.ValidationError{Message: field + " must be a 0x-prefixed 20-byte hex address"}
	}
	return common.HexToAddress(s), nil
}

// callerAddress reads the caller's identity from the X-Trader-Address header.
func callerAddress(r *http.Request) (common.Address, error) {
	h := r.Header.Get(traderHeader)
	if h == "" {
		return common.Address{}, &domain.ValidationError{Message: traderHeader + " header is required"}
	}
	return parseAddress(traderHeader, h)
}

func optionalAmount(a *domain.Amount) *string {
	if a == nil {
		return nil
	}
	s := a.Dec()
	return &s
}
