// Package trust implements the reputation engine. It holds one trust score
// per agent, evaluates completed experiments against the agent's goals, and
// applies escrow locks and shunning when behavior degrades.
package trust

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"ecoswarm/internal/types"
)

// ErrInvalidMetrics is returned when an evaluation is attempted without
// actual metrics on the experiment or goals on the agent. This is the only
// error EvaluateExperiment surfaces; everything else is absorbed into the
// returned Evaluation.
var ErrInvalidMetrics = errors.New("invalid metrics: experiment actuals and agent goals are required")

// Score deltas applied by the asymmetric metric checks. Each check is
// independent; all applicable deltas accumulate.
const (
	deltaEcologicalMiss = -12 // actual ecological below 80% of goal
	deltaSocialMiss     = -8  // actual social below 90% of goal
	deltaFinancialMet   = +5  // actual financial meets or exceeds goal
	deltaUnverified     = -10 // sensor hash mismatch or missing attestation
)

// Config controls evaluation side effects.
type Config struct {
	// AuditProbability is the chance an evaluation is flagged as a random
	// audit, gating the verification outcome by an extra coin flip.
	AuditProbability float64
	// ShunThreshold is the score below which an agent is marked for
	// temporary exclusion.
	ShunThreshold float64
	// EscrowPenalty is added to the agent's escrow lock when a high-risk
	// experiment nets a negative delta.
	EscrowPenalty float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AuditProbability: 0.05,
		ShunThreshold:    50,
		EscrowPenalty:    30,
	}
}

// Evaluation is the structured outcome of one experiment evaluation, exposed
// so tests and dashboards can assert on escrow/shun side effects instead of
// scraping logs.
type Evaluation struct {
	AgentID      string
	ExperimentID string
	Delta        float64
	Verified     bool
	Audited      bool
	ScoreBefore  float64
	ScoreAfter   float64
	EscrowLocked float64
	Shunned      bool
}

// Graph holds one reputation score per agent, seeded from each agent's
// initial reputation at construction time. It shares the Agent structs with
// the coordinator; scores are mirrored into Agent.Reputation on evaluation.
type Graph struct {
	mu      sync.Mutex
	scores  map[string]float64
	shunned map[string]bool
	rng     *rand.Rand
	config  Config
	logger  *zap.Logger
}

// New seeds the graph from the given agents. The rand source is injected so
// audit gating is reproducible in tests; a nil rng falls back to a
// time-seeded source.
func New(agents []*types.Agent, rng *rand.Rand, logger *zap.Logger, cfg Config) *Graph {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShunThreshold == 0 && cfg.EscrowPenalty == 0 {
		cfg = DefaultConfig()
	}

	scores := make(map[string]float64, len(agents))
	for _, a := range agents {
		scores[a.ID] = a.Reputation
	}
	return &Graph{
		scores:  scores,
		shunned: make(map[string]bool),
		rng:     rng,
		config:  cfg,
		logger:  logger,
	}
}

// EvaluateExperiment compares the experiment's actual metrics against the
// agent's goals, verifies the sensor-data integrity proof, and applies the
// accumulated delta to the agent's trust score (clamped to [0,100]).
func (g *Graph) EvaluateExperiment(agent *types.Agent, exp *types.Experiment, sensorData map[string]any) (Evaluation, error) {
	if exp == nil || exp.ActualMetrics == nil || agent == nil || agent.Goals == nil {
		return Evaluation{}, ErrInvalidMetrics
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	actual := *exp.ActualMetrics
	goals := *agent.Goals

	var delta float64
	if actual.Ecological < 0.8*goals.Ecological {
		delta += deltaEcologicalMiss
	}
	if actual.Social < 0.9*goals.Social {
		delta += deltaSocialMiss
	}
	if actual.Financial >= goals.Financial {
		delta += deltaFinancialMet
	}

	// Integrity proof: hash the supplied sensor data and compare against the
	// agent's most recent attestation for this experiment.
	match := false
	if att := agent.LatestAttestation(exp.ID); att != nil {
		match = att.Hash == HashSensorData(sensorData)
	}

	audited := g.rng.Float64() < g.config.AuditProbability
	verified := match
	if audited {
		// Random audit: the verification outcome is further gated by an
		// extra pass/fail draw.
		verified = match && g.rng.Float64() >= 0.5
	}
	if !verified {
		delta += deltaUnverified
	}
	exp.Verified = verified

	before, ok := g.scores[agent.ID]
	if !ok {
		before = agent.Reputation
	}
	after := clamp(before+delta, 0, 100)
	g.scores[agent.ID] = after
	agent.Reputation = after

	ev := Evaluation{
		AgentID:      agent.ID,
		ExperimentID: exp.ID,
		Delta:        delta,
		Verified:     verified,
		Audited:      audited,
		ScoreBefore:  before,
		ScoreAfter:   after,
	}

	if delta < 0 && exp.RiskBand == types.RiskHigh {
		agent.EscrowLocked += g.config.EscrowPenalty
		ev.EscrowLocked = g.config.EscrowPenalty
		g.logger.Info("escrow locked",
			zap.String("agent", agent.ID),
			zap.Float64("amount", g.config.EscrowPenalty))
	}

	if after < g.config.ShunThreshold {
		// Logged, not enforced: exclusion is a collaborator concern.
		g.shunned[agent.ID] = true
		ev.Shunned = true
		g.logger.Warn("agent marked for temporary shunning",
			zap.String("agent", agent.ID),
			zap.Float64("score", after))
	}

	g.logger.Debug("experiment evaluated",
		zap.String("agent", agent.ID),
		zap.String("experiment", exp.ID),
		zap.Float64("delta", delta),
		zap.Bool("verified", verified),
		zap.Bool("audited", audited),
		zap.Float64("score", after))

	return ev, nil
}

// Score returns the current trust score for an agent id.
func (g *Graph) Score(agentID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scores[agentID]
}

// Shunned reports whether an agent has been marked for temporary exclusion.
func (g *Graph) Shunned(agentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shunned[agentID]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
