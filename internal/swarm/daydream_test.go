package swarm

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecoswarm/internal/bus"
	"ecoswarm/internal/generate"
	"ecoswarm/internal/registry"
	"ecoswarm/internal/types"
)

// fixedGenerator always returns the same candidate list.
type fixedGenerator struct {
	candidates []types.Blueprint
}

func (g *fixedGenerator) Generate(_ context.Context, _ string, count int) ([]types.Blueprint, error) {
	if count > len(g.candidates) {
		count = len(g.candidates)
	}
	return g.candidates[:count], nil
}

func TestRunDaydream_ReturnsNilWithoutAgents(t *testing.T) {
	b := bus.New(nil, zap.NewNop(), bus.Config{MaxAttempts: 2, BackoffBase: time.Millisecond})
	c := New(b, registry.NewRoleRegistry(nil), nil, zap.NewNop())

	best, err := c.RunDaydream(context.Background(), "Microgrid", 4)
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestRunDaydream_RandomGeneratorScenario(t *testing.T) {
	s := newTestSwarm(t, false)
	s.coordinator.SetCandidateGenerator(generate.NewRandomGenerator(rand.New(rand.NewSource(1))))

	best, err := s.coordinator.RunDaydream(context.Background(), "Microgrid", 4)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.True(t, strings.HasPrefix(best.Experiment.Description, "Microgrid plan v"),
		best.Experiment.Description)
}

// The daydream steps bypass the bus workflow: no experiment reaches the
// builder, and the shared pipeline stays untouched.
func TestRunDaydream_BypassesBusWorkflow(t *testing.T) {
	s := newTestSwarm(t, false)
	s.coordinator.SetCandidateGenerator(generate.NewRandomGenerator(rand.New(rand.NewSource(1))))

	_, err := s.coordinator.RunDaydream(context.Background(), "Microgrid", 3)
	require.NoError(t, err)

	for _, exp := range s.proposer.Experiments {
		assert.False(t, exp.AuditCommitted)
		assert.Nil(t, exp.ActualMetrics)
	}
}

// With a fixed generator and fixed weights, repeated runs select the same
// best candidate with the same score.
func TestRunDaydream_DeterministicGivenFixedGenerator(t *testing.T) {
	gen := &fixedGenerator{candidates: []types.Blueprint{
		{Description: "plan A", Metrics: types.Metrics{Financial: 50, Ecological: 70, Social: 70}},
		{Description: "plan B", Metrics: types.Metrics{Financial: 90, Ecological: 80, Social: 80}},
		{Description: "plan C", Metrics: types.Metrics{Financial: 90, Ecological: 40, Social: 40}, IsHighRisk: true},
	}}

	run := func() (string, float64) {
		s := newTestSwarm(t, false)
		s.coordinator.SetCandidateGenerator(gen)
		best, err := s.coordinator.RunDaydream(context.Background(), "Grid", 3)
		require.NoError(t, err)
		require.NotNil(t, best)
		return best.Experiment.Description, best.Score
	}

	desc1, score1 := run()
	desc2, score2 := run()
	assert.Equal(t, desc1, desc2)
	assert.Equal(t, score1, score2)
	assert.Equal(t, "plan B", desc1, "admissible high scorer wins")
}

func TestScoreCandidate(t *testing.T) {
	w := Weights{Financial: 1, Ecological: 1, Social: 1, Risk: 0.2, ESGBonus: 5, ESGPenalty: -5}

	t.Run("admissible candidate earns the bonus", func(t *testing.T) {
		m := types.Metrics{Financial: 90, Ecological: 60, Social: 60}
		// mean 70, risk 20*0.2=4, +5 bonus
		assert.InDelta(t, 71.0, scoreCandidate(m, 20, true, w), 1e-9)
	})

	t.Run("inadmissible candidate pays the penalty", func(t *testing.T) {
		m := types.Metrics{Financial: 90, Ecological: 30, Social: 30}
		// mean 50, risk 40*0.2=8, -5 penalty
		assert.InDelta(t, 37.0, scoreCandidate(m, 40, false, w), 1e-9)
	})

	t.Run("zero weight sum does not divide by zero", func(t *testing.T) {
		m := types.Metrics{Financial: 10}
		assert.NotPanics(t, func() {
			scoreCandidate(m, 0, false, Weights{})
		})
	})
}

// telemetryRecorder subscribes a side role and records every daydream
// message kind it sees.
type telemetryRecorder struct {
	mu    sync.Mutex
	kinds []types.MessageKind
}

func (r *telemetryRecorder) handler(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, msg.Kind)
	return types.SwarmResult{OK: true}, nil
}

func (r *telemetryRecorder) count(kind types.MessageKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestRunDaydream_EmitsTelemetry(t *testing.T) {
	s := newTestSwarm(t, false)
	s.coordinator.SetCandidateGenerator(generate.NewRandomGenerator(rand.New(rand.NewSource(1))))

	rec := &telemetryRecorder{}
	unsub := s.messageBus.Subscribe("Observer", rec.handler)
	defer unsub()

	best, err := s.coordinator.RunDaydream(context.Background(), "Microgrid", 3)
	require.NoError(t, err)
	require.NotNil(t, best)

	assert.Equal(t, 3, rec.count(types.KindDaydreamPropose))
	assert.Equal(t, 3, rec.count(types.KindDaydreamAssess))
	assert.Equal(t, 3, rec.count(types.KindDaydreamIteration))
	assert.Equal(t, 1, rec.count(types.KindDaydreamResult))
}
