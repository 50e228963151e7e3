package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/patienthub/patienthub-go/agent"
)

// ErrMockExhausted is returned by MockLLM when no scripted response is left
// and no fallback reply is set.
var ErrMockExhausted = errors.New("mock llm: no more scripted responses")

// MockLLM is an in-process model that replays scripted responses. It backs
// the "mock" provider used for dry runs and is the test double for every
// package that talks to a model.
type MockLLM struct {
	mu        sync.Mutex
	responses []string
	fallback  string
	calls     [][]*agent.Message
	options   []*CallOptions

	// Func, when set, computes the response instead of the script.
	Func func(ctx context.Context, messages []*agent.Message) (string, error)
}

// NewMockLLM creates a mock that returns the responses in order.
func NewMockLLM(responses ...string) *MockLLM {
	return &MockLLM{responses: responses}
}

// WithFallback sets the reply returned once the script is exhausted.
func (m *MockLLM) WithFallback(reply string) *MockLLM {
	m.fallback = reply
	return m
}

// Model returns "mock".
func (m *MockLLM) Model() string {
	return "mock"
}

// Complete returns the next scripted response.
func (m *MockLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.options = append(m.options, BuildCallOptions(opts...))
	fn := m.Func
	var content string
	var err error
	switch {
	case fn != nil:
	case len(m.responses) > 0:
		content = m.responses[0]
		m.responses = m.responses[1:]
	case m.fallback != "":
		content = m.fallback
	default:
		err = ErrMockExhausted
	}
	m.mu.Unlock()

	if fn != nil {
		content, err = fn(ctx, messages)
	}
	if err != nil {
		return nil, err
	}

	resp := agent.NewMessage(agent.RoleAssistant, content)
	resp.Metadata["model"] = "mock"
	resp.Metadata["usage"] = Usage{PromptTokens: len(messages), CompletionTokens: 1, TotalTokens: len(messages) + 1}
	return resp, nil
}

// Calls returns the message lists passed to Complete, in call order.
func (m *MockLLM) Calls() [][]*agent.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*agent.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallOptions returns the options passed to each Complete call.
func (m *MockLLM) CallOptions() []*CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*CallOptions, len(m.options))
	copy(out, m.options)
	return out
}
