package capability

import (
	"context"
	"sync"
)

// MockStep is one scripted Execute outcome for a Mock capability.
type MockStep struct {
	Text   string
	Tokens int
	Err    error
}

// Mock is a scriptable capability for tests and local runs. Each Execute
// call consumes the next step; the last step repeats once the script is
// exhausted. With an empty script it echoes the prompt.
type Mock struct {
	id     string
	script []MockStep

	mu      sync.Mutex
	calls   int
	prompts []string
}

var _ Capability = (*Mock)(nil)

// NewMock creates a mock capability with the given id and script.
func NewMock(id string, script ...MockStep) *Mock {
	return &Mock{id: id, script: script}
}

func (m *Mock) ID() string { return m.id }

func (m *Mock) Execute(ctx context.Context, prompt string, _ ExecConfig) (*ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	step := MockStep{Text: "mock response: " + prompt, Tokens: len(prompt) / 4}
	if len(m.script) > 0 {
		i := m.calls
		if i >= len(m.script) {
			i = len(m.script) - 1
		}
		step = m.script[i]
	}
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return &ExecResult{
		Text:       step.Text,
		TokensUsed: step.Tokens,
		Model:      "mock-1",
	}, nil
}

// Calls returns how many times Execute has run.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts seen so far, in call order.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
