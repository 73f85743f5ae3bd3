package dao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecoswarm/internal/types"
)

func newTestDAO(agents []*types.Agent) *DAO {
	return New(agents, nil, DefaultVotingWindow, zap.NewNop())
}

func floatPtr(v float64) *float64 { return &v }

func TestProposeNormUpdate(t *testing.T) {
	d := newTestDAO(nil)

	t.Run("creates a pending proposal with zero tallies", func(t *testing.T) {
		p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Financial: floatPtr(80)}, "raise financial goal")
		require.NotNil(t, p)
		assert.Equal(t, StatusPending, p.Status)
		assert.Zero(t, p.For)
		assert.Zero(t, p.Against)
		assert.Same(t, p, d.Proposal(p.ID))
	})

	t.Run("nil delta is dropped", func(t *testing.T) {
		assert.Nil(t, d.ProposeNormUpdate("agent-1", nil, "no delta"))
	})
}

func TestVoteOnProposal_UnknownProposalIsNoOp(t *testing.T) {
	d := newTestDAO(nil)
	// Must not panic or mutate anything.
	d.VoteOnProposal("missing", "community", true)
}

// Weighted resolution: community-for + experts-for (3.5) vs funders-against
// (1) resolves approved once all three groups have voted and the combined
// weight reaches the 4.5 total.
func TestVoteOnProposal_WeightedResolution(t *testing.T) {
	agent := types.NewAgent("agent-1", types.RoleProposal)
	agent.Goals = &types.Metrics{Financial: 50, Ecological: 60, Social: 70}
	d := newTestDAO([]*types.Agent{agent})

	p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Financial: floatPtr(80)}, "raise financial goal")
	require.NotNil(t, p)

	d.VoteOnProposal(p.ID, "community", true)
	d.VoteOnProposal(p.ID, "experts", true)
	assert.Equal(t, StatusPending, p.Status, "3.5 of 4.5 total weight must not resolve")

	d.VoteOnProposal(p.ID, "funders", false)
	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, 3.5, p.For)
	assert.Equal(t, 1.0, p.Against)

	// Approval merges the delta into every agent's goals, last-write-wins
	// per axis.
	require.NotNil(t, agent.Goals)
	assert.Equal(t, 80.0, agent.Goals.Financial)
	assert.Equal(t, 60.0, agent.Goals.Ecological)
	assert.Equal(t, 70.0, agent.Goals.Social)
}

func TestVoteOnProposal_TieRejects(t *testing.T) {
	d := New(nil, map[string]float64{"north": 1, "south": 1}, DefaultVotingWindow, zap.NewNop())

	p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Social: floatPtr(90)}, "tilt social")
	d.VoteOnProposal(p.ID, "north", true)
	d.VoteOnProposal(p.ID, "south", false)

	assert.Equal(t, StatusRejected, p.Status, "for must strictly exceed against")
}

func TestVoteOnProposal_UnknownGroupWeighsOne(t *testing.T) {
	d := New(nil, map[string]float64{"community": 2}, DefaultVotingWindow, zap.NewNop())

	p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Financial: floatPtr(10)}, "whatever")
	d.VoteOnProposal(p.ID, "strangers", true)

	assert.Equal(t, 1.0, p.For)
}

func TestResolve_ExpiredWindow(t *testing.T) {
	agent := types.NewAgent("agent-1", types.RoleProposal)
	d := newTestDAO([]*types.Agent{agent})

	p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Ecological: floatPtr(75)}, "greener goal")
	d.VoteOnProposal(p.ID, "funders", true)
	require.Equal(t, StatusPending, p.Status)

	// Age the proposal past the voting window.
	p.CreatedAt = time.Now().Add(-25 * time.Hour)
	d.Resolve(p.ID)

	assert.Equal(t, StatusApproved, p.Status)
	require.NotNil(t, agent.Goals)
	assert.Equal(t, 75.0, agent.Goals.Ecological)
}

// A proposal is resolved at most once: status is terminal and re-resolving
// (or late votes) must not mutate it.
func TestResolve_TerminalStatusIsIdempotent(t *testing.T) {
	agent := types.NewAgent("agent-1", types.RoleProposal)
	d := newTestDAO([]*types.Agent{agent})

	p := d.ProposeNormUpdate("agent-1", &types.MetricsDelta{Financial: floatPtr(80)}, "raise financial goal")
	d.VoteOnProposal(p.ID, "community", true)
	d.VoteOnProposal(p.ID, "experts", true)
	d.VoteOnProposal(p.ID, "funders", true)
	require.Equal(t, StatusApproved, p.Status)

	forBefore, againstBefore := p.For, p.Against
	goalsBefore := *agent.Goals

	d.Resolve(p.ID)
	d.VoteOnProposal(p.ID, "community", false)

	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, forBefore, p.For)
	assert.Equal(t, againstBefore, p.Against)
	assert.Equal(t, goalsBefore, *agent.Goals)
}
