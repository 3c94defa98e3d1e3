package llm

import (
	"context"
)

// MockClient is a scripted ChatClient for tests. Responses are returned in
// order; the last one repeats once the script is exhausted.
type MockClient struct {
	Responses []string
	Errs      []error
	Calls     []MockCall
	Model     string
}

// MockCall records one GenerateResponse invocation.
type MockCall struct {
	Prompt        string
	SystemMessage string
	Temperature   float64
}

var _ ChatClient = (*MockClient)(nil)

// NewMockClient returns a mock that replies with the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses, Model: "mock-model"}
}

func (m *MockClient) GenerateResponse(_ context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	idx := len(m.Calls)
	m.Calls = append(m.Calls, MockCall{Prompt: prompt, SystemMessage: systemMessage, Temperature: temperature})

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return "", m.Errs[idx]
	}
	if len(m.Responses) == 0 {
		return "", NewError(ErrorTypeEndpoint, "mock has no responses", false, nil)
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

func (m *MockClient) GetModel() string    { return m.Model }
func (m *MockClient) GetEndpoint() string { return "mock://" }
