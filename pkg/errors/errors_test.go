package errors

import (
	"context"
	"errors"
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
		{"app error", New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad"), http.StatusUnprocessableEntity},
		{"wrapped app error", fmt.Errorf("handler: %w", Invalid("limit %d", -1)), http.StatusBadRequest},
		{"not found", fmt.Errorf("explain: %w", ErrDocumentNotFound), http.StatusNotFound},
		{"overloaded", ErrOverloaded, http.StatusTooManyRequests},
		{"not supported", ErrNotSupported, http.StatusNotImplemented},
		{"shard", fmt.Errorf("shard 2: %w", ErrShardUnavailable), http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "limit must be positive", PublicMessage(Invalid("limit must be positive")))
	assert.Equal(t, "operation timed out", PublicMessage(fmt.Errorf("shard 1: %w: %w", ErrTimeout, context.DeadlineExceeded)))
	assert.Equal(t, "internal error", PublicMessage(errors.New("segment checksum mismatch")))
}

func TestAppError_Unwrap(t *testing.T) {
	err := Newf(ErrDocumentNotFound, http.StatusNotFound, "no document %q", "a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, `document not found: no document "a"`, err.Error())
}
