// Package generate produces blueprint candidates for the daydream loop and
// the propose workflow. Two implementations are provided: a seedable
// pseudo-random generator and an LLM-backed generator that treats the model
// output as untrusted JSON and falls back to the random generator on any
// parse failure.
package generate

import (
	"context"

	"ecoswarm/internal/types"
)

// Generator is the candidate-generation contract: given a topic and a count,
// return that many blueprint candidates.
type Generator interface {
	Generate(ctx context.Context, topic string, count int) ([]types.Blueprint, error)
}

// LLMClient is the minimal interface the LLM-backed generator needs from a
// language-model client.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
