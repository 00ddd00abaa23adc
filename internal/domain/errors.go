package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCartNotFound       = errors.New("cart not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrItemNotFound       = errors.New("item not found in cart")
	ErrProductNotFound    = errors.New("product not found")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrAggregateLocked    = errors.New("aggregate is not editable")
	ErrAmbiguousItem      = errors.New("more than one line matches the item")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidKind        = errors.New("invalid aggregate kind")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrKeyMismatch        = errors.New("cart item key does not match product")
	ErrStockUnavailable   = errors.New("stock unavailable")
	ErrSupplierOutOfStock = errors.New("supplier out of stock")
)

// ErrorCode classifies failures for callers rendering a response.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeValidation
	CodeNotFound
	CodeConflict
	CodeStockUnavailable
	CodeSupplierUnavailable
)

func (c ErrorCode) String() string {
	switch c {
	case CodeValidation:
		return "VALIDATION"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeConflict:
		return "CONFLICT"
	case CodeStockUnavailable:
		return "STOCK_UNAVAILABLE"
	case CodeSupplierUnavailable:
		return "SUPPLIER_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(err error, format string, args ...any) *Error {
	return newError(CodeValidation, err, format, args...)
}

func NotFound(err error, format string, args ...any) *Error {
	return newError(CodeNotFound, err, format, args...)
}

func Conflict(err error, format string, args ...any) *Error {
	return newError(CodeConflict, err, format, args...)
}

func StockUnavailable(err error, format string, args ...any) *Error {
	return newError(CodeStockUnavailable, err, format, args...)
}

func SupplierUnavailable(err error, format string, args ...any) *Error {
	return newError(CodeSupplierUnavailable, err, format, args...)
}

// CodeOf returns the classification of err, or CodeUnknown for system faults.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
