package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	base := New(ErrorTypeRateLimit, "too many requests")
	assert.Equal(t, ErrorTypeRateLimit, base.Type)
	assert.Contains(t, base.Error(), "too many requests")

	wrapped := Wrap(base, ErrorTypeOrchestration, "sync failed")
	assert.Equal(t, ErrorTypeOrchestration, wrapped.Type)
	assert.ErrorIs(t, wrapped, base)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeQuery, "unsupported object type %q", "Opportunity")
	assert.Equal(t, ErrorTypeQuery, err.Type)
	assert.Contains(t, err.Error(), `unsupported object type "Opportunity"`)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrorTypeRateLimit, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeConnection, true},
		{ErrorTypeAuthentication, false},
		{ErrorTypeClient, false},
		{ErrorTypeMapping, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(New(tt.errType, "x")))
		})
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsTypeUnwraps(t *testing.T) {
	inner := New(ErrorTypeAuthentication, "bad token")
	outer := fmt.Errorf("connect: %w", inner)
	assert.True(t, IsType(outer, ErrorTypeAuthentication))
	assert.False(t, IsType(outer, ErrorTypeRateLimit))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeClient, "bad request").
		WithDetail("status", 400).
		WithDetail("path", "/query")
	require.NotNil(t, err.Details)
	assert.Equal(t, 400, err.Details["status"])
	assert.Equal(t, "/query", err.Details["path"])
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeMapping, TypeOf(New(ErrorTypeMapping, "x")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(fmt.Errorf("plain")))
}
