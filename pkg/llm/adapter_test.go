package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
)

type tableGuess struct {
	Table      string  `json:"table"`
	Confidence float64 `json:"confidence"`
}

func (g *tableGuess) Validate() error {
	if g.Confidence < 0 || g.Confidence > 1 {
		return assert.AnError
	}
	return nil
}

func TestAsk_ParsesTypedResponse(t *testing.T) {
	mock := NewMockClient(`{"table": "orders", "confidence": 0.9}`)

	got, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "which table?", AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Table)
	require.Len(t, mock.Calls, 1)
	assert.Equal(t, "sys", mock.Calls[0].SystemMessage)
}

func TestAsk_ReAsksOnceOnMalformedJSON(t *testing.T) {
	mock := NewMockClient(
		"sorry, no JSON here",
		`{"table": "orders", "confidence": 0.8}`,
	)

	got, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "which table?", AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Table)
	require.Len(t, mock.Calls, 2)
	assert.Contains(t, mock.Calls[1].Prompt, "could not be parsed")
}

func TestAsk_SecondViolationSurfacesSchemaError(t *testing.T) {
	mock := NewMockClient("garbage one", "garbage two")

	_, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "which table?", AskOptions{})
	assert.ErrorIs(t, err, apperrors.ErrLLMSchemaViolation)
	assert.Len(t, mock.Calls, 2)
}

func TestAsk_ValidateRejectsOutOfRange(t *testing.T) {
	mock := NewMockClient(
		`{"table": "orders", "confidence": 7.5}`,
		`{"table": "orders", "confidence": 0.75}`,
	)

	got, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "which table?", AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Confidence)
	assert.Len(t, mock.Calls, 2)
}

func TestAsk_NilClientUnavailable(t *testing.T) {
	_, err := Ask[tableGuess](context.Background(), nil, zap.NewNop(), "sys", "p", AskOptions{})
	assert.ErrorIs(t, err, apperrors.ErrLLMUnavailable)
}

func TestAsk_TransportExhaustionMapsToUnavailable(t *testing.T) {
	down := NewError(ErrorTypeEndpoint, "connection failed", true, nil)
	mock := &MockClient{
		Errs:  []error{down, down},
		Model: "mock-model",
	}

	_, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "p", AskOptions{MaxAttempts: 2})
	assert.ErrorIs(t, err, apperrors.ErrLLMUnavailable)
	assert.Len(t, mock.Calls, 2)
}

func TestAsk_PermanentErrorNotRetried(t *testing.T) {
	denied := NewError(ErrorTypeAuth, "authentication failed", false, nil)
	mock := &MockClient{
		Errs:  []error{denied},
		Model: "mock-model",
	}

	_, err := Ask[tableGuess](context.Background(), mock, zap.NewNop(), "sys", "p", AskOptions{MaxAttempts: 3})
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.Len(t, mock.Calls, 1)
}
