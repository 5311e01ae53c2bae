package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelpers_MatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("consume: %w", NewInsufficientStock("p-1", 15, 10))

	assert.True(t, IsInsufficientStock(err))
	assert.False(t, IsConcurrentModification(err))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(err))

	appErr, ok := AsAppError(err)
	assert.True(t, ok)
	assert.Equal(t, int64(15), appErr.Details["requested"])
	assert.Equal(t, int64(10), appErr.Details["available"])
}

func TestGetHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
}

func TestAppError_UnwrapCause(t *testing.T) {
	cause := errors.New("serialization failure")
	err := NewConcurrentModification("cost_layers", "p-1").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CONCURRENT_MODIFICATION")
	assert.Contains(t, err.Error(), "serialization failure")
}

func TestCodes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidation("bad"), IsValidation},
		{"not found", NewNotFound("product", "x"), IsNotFound},
		{"conflict", NewConcurrentModification("cost_layers", "x"), IsConcurrentModification},
		{"cost basis", NewCostBasisIncomplete("p", "m", 2), IsCostBasisIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, IsAppError(tt.err))
		})
	}
}
