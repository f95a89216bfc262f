package llm

import "context"

// MockGenerator is a canned-response generator for tests. It records the last
// prompt it saw so tests can assert on prompt construction.
type MockGenerator struct {
	// Response is returned from every Generate call.
	Response string

	// Err, when set, is returned instead of Response.
	Err error

	// LastPrompt holds the prompt from the most recent Generate call.
	LastPrompt string

	// Calls counts Generate invocations.
	Calls int
}

// NewMockGenerator returns a generator that always answers with response.
func NewMockGenerator(response string) *MockGenerator {
	return &MockGenerator{Response: response}
}

// Generate returns the canned response.
func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.Calls++
	g.LastPrompt = prompt
	if g.Err != nil {
		return "", g.Err
	}
	return g.Response, nil
}

// Close is a no-op for MockGenerator.
func (g *MockGenerator) Close() error {
	return nil
}
