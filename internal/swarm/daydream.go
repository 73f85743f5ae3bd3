package swarm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ecoswarm/internal/agents"
	"ecoswarm/internal/types"
)

// Weights configures daydream candidate scoring. The weight set is fixed at
// configuration time and applied uniformly across a daydream round.
type Weights struct {
	Financial  float64 `yaml:"financial" json:"financial"`
	Ecological float64 `yaml:"ecological" json:"ecological"`
	Social     float64 `yaml:"social" json:"social"`
	Risk       float64 `yaml:"risk" json:"risk"`
	ESGBonus   float64 `yaml:"esg_bonus" json:"esg_bonus"`
	ESGPenalty float64 `yaml:"esg_penalty" json:"esg_penalty"`
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Financial:  1,
		Ecological: 1,
		Social:     1,
		Risk:       0.2,
		ESGBonus:   5,
		ESGPenalty: -5,
	}
}

// WeightsOverride is a partial weight update; nil fields keep their current
// value.
type WeightsOverride struct {
	Financial  *float64
	Ecological *float64
	Social     *float64
	Risk       *float64
	ESGBonus   *float64
	ESGPenalty *float64
}

// SetWeights merges a partial override into the coordinator's weights.
func (c *Coordinator) SetWeights(o WeightsOverride) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Financial != nil {
		c.weights.Financial = *o.Financial
	}
	if o.Ecological != nil {
		c.weights.Ecological = *o.Ecological
	}
	if o.Social != nil {
		c.weights.Social = *o.Social
	}
	if o.Risk != nil {
		c.weights.Risk = *o.Risk
	}
	if o.ESGBonus != nil {
		c.weights.ESGBonus = *o.ESGBonus
	}
	if o.ESGPenalty != nil {
		c.weights.ESGPenalty = *o.ESGPenalty
	}
}

// Weights returns the current scoring weights.
func (c *Coordinator) Weights() Weights {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weights
}

// DaydreamResult is the best-scoring candidate of a daydream run.
type DaydreamResult struct {
	Score      float64
	Experiment *types.Experiment
	Assessment types.Assessment
	Admissible bool
}

// RunDaydream simulates max(1, iterations) hypothetical rounds for a topic
// and returns the best-scoring candidate. The propose and assess steps are
// invoked directly on the executors, bypassing the shared bus workflow; the
// bus only carries daydream.* telemetry. Returns nil when no proposal or
// risk agent is registered.
func (c *Coordinator) RunDaydream(ctx context.Context, topic string, iterations int) (*DaydreamResult, error) {
	proposal, okP := c.member(types.RoleProposal)
	risk, okR := c.member(types.RoleRisk)
	if !okP || !okR {
		c.logger.Warn("daydream skipped: proposal or risk agent missing")
		return nil, nil
	}

	if iterations < 1 {
		iterations = 1
	}
	c.mu.RLock()
	gen := c.gen
	weights := c.weights
	c.mu.RUnlock()

	candidates, err := gen.Generate(ctx, topic, iterations)
	if err != nil {
		return nil, fmt.Errorf("candidate generation failed: %w", err)
	}

	var best *DaydreamResult
	for i, bp := range candidates {
		c.publishTelemetry(ctx, types.KindDaydreamPropose, map[string]any{
			"topic":     topic,
			"iteration": i,
			"candidate": bp.Description,
		})

		out, err := proposal.Executor.ExecuteTask(ctx, agents.TaskPropose, map[string]any{
			agents.KeyBlueprint: bp,
		})
		if err != nil {
			c.logger.Warn("daydream propose failed",
				zap.Int("iteration", i), zap.Error(err))
			continue
		}
		exp, ok := out[agents.KeyExperiment].(*types.Experiment)
		if !ok {
			continue
		}

		c.publishTelemetry(ctx, types.KindDaydreamAssess, map[string]any{
			"iteration":  i,
			"experiment": exp.ID,
		})

		assessOut, err := risk.Executor.ExecuteTask(ctx, agents.TaskAssessRisk, map[string]any{
			agents.KeyExperiment: exp,
		})
		if err != nil {
			c.logger.Warn("daydream assess failed",
				zap.Int("iteration", i), zap.Error(err))
			continue
		}
		assessment, _ := assessOut[agents.KeyAssessment].(types.Assessment)

		admissible := bp.Metrics.Ecological >= 60 && bp.Metrics.Social >= 60
		score := scoreCandidate(bp.Metrics, assessment.RiskScore, admissible, weights)

		c.publishTelemetry(ctx, types.KindDaydreamIteration, map[string]any{
			"iteration":  i,
			"experiment": exp.ID,
			"score":      score,
			"admissible": admissible,
		})

		if best == nil || score > best.Score {
			best = &DaydreamResult{
				Score:      score,
				Experiment: exp,
				Assessment: assessment,
				Admissible: admissible,
			}
		}
	}

	if best != nil {
		c.publishTelemetry(ctx, types.KindDaydreamResult, map[string]any{
			"experiment": best.Experiment.ID,
			"score":      best.Score,
		})
		c.logger.Info("daydream finished",
			zap.String("topic", topic),
			zap.Int("candidates", len(candidates)),
			zap.Float64("best_score", best.Score),
			zap.String("best", best.Experiment.Description))
	}
	return best, nil
}

// scoreCandidate computes the weighted candidate score: the weighted metric
// mean minus the risk penalty, plus the ESG admission bonus or penalty.
func scoreCandidate(m types.Metrics, riskScore float64, admissible bool, w Weights) float64 {
	denom := w.Financial + w.Ecological + w.Social
	if denom == 0 {
		denom = 1
	}
	score := (m.Financial*w.Financial + m.Ecological*w.Ecological + m.Social*w.Social) / denom
	score -= riskScore * w.Risk
	if admissible {
		score += w.ESGBonus
	} else {
		score += w.ESGPenalty
	}
	return score
}

// publishTelemetry emits a daydream observability message. Telemetry is
// best-effort: publish errors are logged and dropped.
func (c *Coordinator) publishTelemetry(ctx context.Context, kind types.MessageKind, payload map[string]any) {
	msg := types.NewMessage(kind, "coordinator", nil, payload)
	if err := c.bus.Publish(ctx, msg); err != nil {
		c.logger.Debug("telemetry publish failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}
