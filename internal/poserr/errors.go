package poserr

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	CodeNotFound               = "not_found"
	CodeInsufficientStock      = "insufficient_stock"
	CodeStockChanged           = "stock_changed"
	CodeOverReturn             = "over_return"
	CodePersistenceUnavailable = "persistence_unavailable"
	CodeInvalid                = "invalid_request"
	CodePermissionDenied       = "permission_denied"
	CodeUnauthenticated        = "unauthenticated"
	CodeInternal               = "internal_error"
)

// Error kinds shared by every layer. Match them with errors.Is from
// github.com/cockroachdb/errors so marks applied by the builder are honored.
var (
	ErrNotFound               = new(CodeNotFound, "resource not found")
	ErrInsufficientStock      = new(CodeInsufficientStock, "insufficient stock")
	ErrStockChanged           = new(CodeStockChanged, "stock changed since the item was added")
	ErrOverReturn             = new(CodeOverReturn, "return exceeds invoiced quantity")
	ErrPersistenceUnavailable = new(CodePersistenceUnavailable, "persistence unavailable")
	ErrInvalid                = new(CodeInvalid, "invalid request")
	ErrPermissionDenied       = new(CodePermissionDenied, "permission denied")
	ErrUnauthenticated        = new(CodeUnauthenticated, "authentication required")

	// kinds are checked in order; the first match wins.
	kinds = []struct {
		err    error
		code   string
		status int
	}{
		{ErrStockChanged, CodeStockChanged, http.StatusConflict},
		{ErrInsufficientStock, CodeInsufficientStock, http.StatusConflict},
		{ErrOverReturn, CodeOverReturn, http.StatusUnprocessableEntity},
		{ErrNotFound, CodeNotFound, http.StatusNotFound},
		{ErrPersistenceUnavailable, CodePersistenceUnavailable, http.StatusServiceUnavailable},
		{ErrPermissionDenied, CodePermissionDenied, http.StatusForbidden},
		{ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
		{ErrInvalid, CodeInvalid, http.StatusBadRequest},
	}
)

// InternalError is a sentinel error kind identified by its code.
type InternalError struct {
	Code    string
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is matches another InternalError by code.
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}
	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}
	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{Code: code, Message: message}
}

// StockError carries the numbers behind InsufficientStock and StockChanged.
type StockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("sku %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// ValidationError maps each rejected request field to the rule it failed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// OverReturnError carries the numbers behind a rejected return line.
type OverReturnError struct {
	SKU             string
	Invoiced        int
	AlreadyReturned int
	Requested       int
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("sku %s: invoiced %d, already returned %d, requested %d",
		e.SKU, e.Invoiced, e.AlreadyReturned, e.Requested)
}

func NotFound(kind string, id string) error {
	return NewError(fmt.Sprintf("%s %s not found", kind, id)).
		WithHintf("%s %q not found", kind, id).
		Mark(ErrNotFound)
}

func Invalid(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return NewError(msg).WithHint(msg).Mark(ErrInvalid)
}

func PermissionDenied(hint string) error {
	return NewError(hint).WithHint(hint).Mark(ErrPermissionDenied)
}

func Unauthenticated(hint string) error {
	return NewError(hint).WithHint(hint).Mark(ErrUnauthenticated)
}

// InvalidFields reports request fields that failed validation.
func InvalidFields(fields map[string]string) error {
	return WithError(&ValidationError{Fields: fields}).WithHint("request validation failed").Mark(ErrInvalid)
}

func InsufficientStock(sku string, requested int, available int) error {
	return WithError(&StockError{SKU: sku, Requested: requested, Available: available}).
		WithHintf("only %d of %s in stock, %d requested", available, sku, requested).
		Mark(ErrInsufficientStock)
}

func StockChanged(sku string, requested int, available int) error {
	return WithError(&StockError{SKU: sku, Requested: requested, Available: available}).
		WithHintf("stock for %s changed: %d available, cart holds %d", sku, available, requested).
		Mark(ErrStockChanged)
}

func OverReturn(sku string, invoiced int, alreadyReturned int, requested int) error {
	return WithError(&OverReturnError{SKU: sku, Invoiced: invoiced, AlreadyReturned: alreadyReturned, Requested: requested}).
		WithHintf("cannot return %d of %s: %d invoiced, %d already returned", requested, sku, invoiced, alreadyReturned).
		Mark(ErrOverReturn)
}

// Unavailable wraps an infrastructure failure as retryable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	return WithError(err).
		WithHint("storage is temporarily unavailable, please retry").
		Mark(ErrPersistenceUnavailable)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceUnavailable)
}

func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}

// Hint returns the user-facing message attached to err, if any.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[0]
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.Message
	}
	return err.Error()
}

// Details exposes structured payloads for API responses.
func Details(err error) map[string]any {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return map[string]any{
			"sku":       stockErr.SKU,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return map[string]any{"fields": validationErr.Fields}
	}
	var overErr *OverReturnError
	if errors.As(err, &overErr) {
		return map[string]any{
			"sku":              overErr.SKU,
			"invoiced":         overErr.Invoiced,
			"already_returned": overErr.AlreadyReturned,
			"requested":        overErr.Requested,
		}
	}
	return nil
}
