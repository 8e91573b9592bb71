package order

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("order validation failed")
	ErrInvalidOrderSide     = errors.New("invalid order side")
	ErrUnsupportedOrderKind = errors.New("unsupported order type")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrPersistence          = errors.New("persistence failure")
)

// ValidationError 描述某个字段未通过校验。errors.Is(err, ErrValidation) 为真。
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Invalid 构造字段级校验错误。
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound 包装 ErrNotFound，附带实体与主键。
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
