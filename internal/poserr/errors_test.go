package poserr

import (
	"context"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockChangedCarriesPayload(t *testing.T) {
	err := StockChanged("12345678", 3, 1)
	wrapped := errors.Wrap(err, "finalize")

	require.True(t, errors.Is(wrapped, ErrStockChanged))
	assert.False(t, errors.Is(wrapped, ErrInsufficientStock))

	var stockErr *StockError
	require.True(t, errors.As(wrapped, &stockErr))
	assert.Equal(t, "12345678", stockErr.SKU)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
	assert.Equal(t, CodeStockChanged, Code(wrapped))
	assert.Contains(t, Hint(wrapped), "12345678")
	assert.Equal(t, map[string]any{"sku": "12345678", "requested": 3, "available": 1}, Details(wrapped))
}

func TestOverReturnMapping(t *testing.T) {
	err := OverReturn("A", 5, 3, 3)

	assert.True(t, errors.Is(err, ErrOverReturn))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
	assert.Equal(t, "cannot return 3 of A: 5 invoiced, 3 already returned", Hint(err))
	assert.Equal(t, 3, Details(err)["already_returned"])
}

func TestNotFoundHint(t *testing.T) {
	err := NotFound("barcode", "ZZZ999")

	assert.True(t, IsNotFound(err))
	assert.Equal(t, `barcode "ZZZ999" not found`, Hint(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Nil(t, Details(err))
}

func TestUnavailableIsIdempotent(t *testing.T) {
	assert.Nil(t, Unavailable(nil))

	err := Unavailable(context.DeadlineExceeded)
	again := Unavailable(err)

	assert.True(t, IsRetryable(again))
	assert.True(t, errors.Is(again, context.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(again))
	assert.Len(t, errors.GetAllHints(again), 1)
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, CodeInternal, Code(err))
	assert.Equal(t, "boom", Hint(err))
}

func TestInternalErrorMatchesByCode(t *testing.T) {
	other := &InternalError{Code: CodeInvalid, Message: "different text"}

	assert.True(t, errors.Is(other, ErrInvalid))
	assert.False(t, errors.Is(other, ErrNotFound))
	assert.True(t, errors.Is(Invalid("qty must be >= %d", 1), ErrInvalid))
}

func TestInvalidFieldsDetails(t *testing.T) {
	err := InvalidFields(map[string]string{"qty": "min", "sku": "required"})

	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Equal(t, "request validation failed", Hint(err))
	assert.Equal(t, map[string]any{"fields": map[string]string{"qty": "min", "sku": "required"}}, Details(err))
	assert.Contains(t, err.Error(), "qty: min, sku: required")
}

func TestUnauthenticated(t *testing.T) {
	err := Unauthenticated("missing bearer token")

	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))
	assert.Equal(t, CodeUnauthenticated, Code(err))
	assert.Equal(t, "missing bearer token", Hint(err))
}
