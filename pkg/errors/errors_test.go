package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInvalidInput, http.StatusConflict, "dup"), http.StatusConflict},
		{"not found", fmt.Errorf("faculty 42: %w", ErrRecordNotFound), http.StatusNotFound},
		{"invalid", ErrInvalidInput, http.StatusBadRequest},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"upstream down", fmt.Errorf("listing: %w", ErrUpstreamUnavailable), http.StatusBadGateway},
		{"upstream rejected", ErrUpstreamRejected, http.StatusUnprocessableEntity},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Newf(ErrInvalidInput, http.StatusBadRequest, "field %s is required", "remarks"))
	assert.Equal(t, "field remarks is required", Message(err, "fallback"))
	assert.Equal(t, "fallback", Message(ErrInternal, "fallback"))
}
