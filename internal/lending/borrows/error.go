package borrows

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind lets callers branch on a failure without parsing its message.
type Kind string

const (
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindForbidden            Kind = "FORBIDDEN"
	KindInvalidArgument      Kind = "INVALID_ARGUMENT"
	KindNotFound             Kind = "NOT_FOUND"
	KindInsufficientQuantity Kind = "INSUFFICIENT_QUANTITY"
	KindConflict             Kind = "CONFLICT"
	KindStoreFailure         Kind = "STORE_FAILURE"
	KindCompensationFailed   Kind = "COMPENSATION_FAILED"
)

const (
	MsgUnauthorized         = "Unauthorized"
	MsgInventoryNotFound    = "Inventory item not found"
	MsgInsufficientQuantity = "Not enough quantity available"
	MsgStoreFailure         = "Store operation failed"
	MsgCompensationFailed   = "Borrow could not be completed and some changes are still being undone"
)

type APIError struct {
	Kind    Kind
	Message string
	// ItemID names the item the failure is about, when there is one.
	ItemID string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func ErrUnauthorized() *APIError        { return &APIError{Kind: KindUnauthorized, Message: MsgUnauthorized} }
func ErrForbidden(msg string) *APIError { return &APIError{Kind: KindForbidden, Message: msg} }
func ErrInvalid(msg string) *APIError   { return &APIError{Kind: KindInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Kind: KindNotFound, Message: msg} }
func ErrConflict(msg string) *APIError  { return &APIError{Kind: KindConflict, Message: msg} }

func errInventoryNotFound(itemID string) *APIError {
	return &APIError{Kind: KindNotFound, Message: MsgInventoryNotFound, ItemID: itemID}
}

func errInsufficient(itemID string) *APIError {
	return &APIError{Kind: KindInsufficientQuantity, Message: MsgInsufficientQuantity, ItemID: itemID}
}

func errStore(op string, err error) *APIError {
	return &APIError{Kind: KindStoreFailure, Message: MsgStoreFailure, Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf reports the kind of err; errors that are not *APIError count as store failures.
func KindOf(err error) Kind {
	var api *APIError
	if errors.As(err, &api) {
		return api.Kind
	}
	return KindStoreFailure
}

func ToHTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientQuantity, KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
