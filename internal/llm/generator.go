// Package llm provides answer generation via an Ollama HTTP backend.
package llm

import "context"

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}
