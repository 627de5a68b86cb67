package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		class  FailureClass
	}{
		{http.StatusUnauthorized, ClassFatal},
		{http.StatusForbidden, ClassFatal},
		{http.StatusBadRequest, ClassFatal},
		{http.StatusNotFound, ClassFatal},
		{http.StatusUnprocessableEntity, ClassFatal},
		{http.StatusTooManyRequests, ClassTransient},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassTransient},
		{http.StatusServiceUnavailable, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			de := FromStatus("request failed", tt.status)
			require.NotNil(t, de)
			assert.Equal(t, tt.class, de.Class)
			assert.Equal(t, tt.status, de.StatusCode)
		})
	}

	assert.Nil(t, FromStatus("ok", http.StatusOK))
	assert.Nil(t, FromStatus("created", http.StatusCreated))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassFatal, Classify(NewFatal("bad key", nil)))
	assert.Equal(t, ClassTransient, Classify(NewTransient("timeout", nil)))
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, Classify(errors.New("something odd")))

	// Wrapped classification survives.
	wrapped := fmt.Errorf("probe failed: %w", NewFatal("revoked", nil))
	assert.Equal(t, ClassFatal, Classify(wrapped))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestDownstreamErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	de := NewTransient("probe failed", inner)
	assert.ErrorIs(t, de, inner)
	assert.Contains(t, de.Error(), "probe failed")
	assert.Contains(t, de.Error(), "transient")
}
