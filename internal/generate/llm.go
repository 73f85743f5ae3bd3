package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ecoswarm/internal/types"
)

const llmSystemPrompt = `You are a sustainable-infrastructure planner for an agent swarm.
Respond ONLY with a JSON array. Each element must have exactly this shape:
{"description": string, "metrics": {"financial": number, "ecological": number, "social": number}, "isHighRisk": boolean}
Scores are 0-100. No prose, no markdown fences, no trailing text.`

// LLMGenerator asks a language model for blueprint candidates. The model
// output is untrusted: anything that does not parse into the expected array
// shape falls back to the random generator rather than surfacing an error.
type LLMGenerator struct {
	client   LLMClient
	fallback *RandomGenerator
	logger   *zap.Logger
}

// NewLLMGenerator wires a model client with a random fallback.
func NewLLMGenerator(client LLMClient, fallback *RandomGenerator, logger *zap.Logger) *LLMGenerator {
	if fallback == nil {
		fallback = NewRandomGenerator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{client: client, fallback: fallback, logger: logger}
}

// Generate implements Generator. Errors from the model call and malformed
// responses are recovered via the fallback, never propagated.
func (g *LLMGenerator) Generate(ctx context.Context, topic string, count int) ([]types.Blueprint, error) {
	if count < 1 {
		count = 1
	}
	if g.client == nil {
		return g.fallback.Generate(ctx, topic, count)
	}

	prompt := fmt.Sprintf("Generate %d distinct infrastructure blueprint candidates for the topic %q.", count, topic)
	raw, err := g.client.CompleteWithSystem(ctx, llmSystemPrompt, prompt)
	if err != nil {
		g.logger.Warn("llm candidate generation failed, using random fallback",
			zap.String("topic", topic), zap.Error(err))
		return g.fallback.Generate(ctx, topic, count)
	}

	candidates, err := parseCandidates(raw)
	if err != nil {
		g.logger.Warn("llm candidate response unparseable, using random fallback",
			zap.String("topic", topic), zap.Error(err))
		return g.fallback.Generate(ctx, topic, count)
	}

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	if len(candidates) < count {
		// Top up rather than returning short.
		extra, _ := g.fallback.Generate(ctx, topic, count-len(candidates))
		candidates = append(candidates, extra...)
	}
	return candidates, nil
}

// parseCandidates decodes the model output, tolerating markdown code fences.
func parseCandidates(raw string) ([]types.Blueprint, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	var out []types.Blueprint
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("candidate array did not parse: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("candidate array is empty")
	}
	for i, c := range out {
		if strings.TrimSpace(c.Description) == "" {
			return nil, fmt.Errorf("candidate %d missing description", i)
		}
	}
	return out, nil
}
