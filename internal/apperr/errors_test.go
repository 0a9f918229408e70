package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	base := New(CodeSeatUnavailable, "seat 12 sold")
	wrapped := fmt.Errorf("allocate: %w", base)

	assert.Equal(t, CodeSeatUnavailable, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeSeatUnavailable))
	assert.False(t, Is(nil, CodeSeatUnavailable))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("stripe timeout")
	err := Wrap(CodeDependency, cause, "charge failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stripe timeout")
	assert.Equal(t, "charge failed", err.Message())
}

func TestMetadataStatuses(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:      http.StatusBadRequest,
		CodeConflict:        http.StatusConflict,
		CodeAmountMismatch:  http.StatusBadRequest,
		CodePaymentDeclined: http.StatusBadRequest,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeExpired:         http.StatusGone,
		CodeDependency:      http.StatusServiceUnavailable,
		Code("UNKNOWN"):     http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, MetadataFor(code).HTTPStatus, string(code))
	}
}
