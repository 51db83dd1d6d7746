// Package apperr classifies failures surfaced by the engine's command and
// query API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"paper-core/pkg/db"
)

// Kind is the failure category.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindBusinessRule Kind = "BUSINESS_RULE"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONCURRENCY_CONFLICT"
	KindTransient    Kind = "TRANSIENT_INFRA"
)

// Machine-readable codes.
const (
	CodeInvalidQuantity    = "INVALID_QUANTITY"
	CodeMissingLimitPrice  = "MISSING_LIMIT_PRICE"
	CodeMissingStopPrice   = "MISSING_STOP_PRICE"
	CodeInvalidStopLimit   = "INVALID_STOP_LIMIT"
	CodeInvalidSide        = "INVALID_SIDE"
	CodeInvalidType        = "INVALID_TYPE"
	CodeUnknownSymbol      = "UNKNOWN_SYMBOL"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidLevel       = "INVALID_LEVEL"
	CodeOrderNotFound      = "ORDER_NOT_FOUND"
	CodePositionNotFound   = "POSITION_NOT_FOUND"
	CodePortfolioNotFound  = "PORTFOLIO_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodePriceUnavailable   = "PRICE_UNAVAILABLE"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a VALIDATION error for a field.
func Validation(code, field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: msg}
}

// Business builds a BUSINESS_RULE error.
func Business(code, msg string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: msg}
}

// NotFound builds a NOT_FOUND error.
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Conflict wraps an exhausted optimistic retry.
func Conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: msg, Err: err}
}

// Transient wraps a storage or price-source failure.
func Transient(code, msg string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: msg, Err: err}
}

// From classifies err. Already-classified errors pass through; version
// conflicts become CONCURRENCY_CONFLICT; anything else is TRANSIENT_INFRA.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, db.ErrConflict) {
		return Conflict("record was modified concurrently", err)
	}
	return Transient(CodeStorageUnavailable, "storage unavailable", err)
}

// HTTPStatus maps a kind onto a response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
