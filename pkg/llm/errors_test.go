package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"auth 401", errors.New("error, status code: 401, message: Unauthorized"), ErrorTypeAuth, false},
		{"invalid key", errors.New("invalid api key provided"), ErrorTypeAuth, false},
		{"model missing", errors.New("the model 'gpt-99' does not exist"), ErrorTypeModel, false},
		{"endpoint 404", errors.New("status code: 404"), ErrorTypeEndpoint, false},
		{"conn refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"timeout", errors.New("context deadline exceeded"), ErrorTypeEndpoint, true},
		{"rate limit", errors.New("status code: 429, rate limit exceeded"), ErrorTypeUnknown, true},
		{"server 503", errors.New("status code: 503"), ErrorTypeEndpoint, true},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestClassifyError_PassthroughStructured(t *testing.T) {
	orig := NewError(ErrorTypeSchema, "bad shape", false, nil)
	wrapped := fmt.Errorf("asking llm: %w", orig)
	assert.Same(t, orig, ClassifyError(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrorTypeEndpoint, "down", true, nil)))
	assert.False(t, IsRetryable(NewError(ErrorTypeAuth, "denied", false, nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	e := NewError(ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	e.StatusCode = 401
	e.Model = "gpt-4o"
	msg := e.Error()
	assert.Contains(t, msg, "auth")
	assert.Contains(t, msg, "HTTP 401")
	assert.Contains(t, msg, "model=gpt-4o")
}
