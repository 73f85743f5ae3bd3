package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestMetricsMerge(t *testing.T) {
	base := Metrics{Financial: 70, Ecological: 70, Social: 70}

	t.Run("nil delta is a no-op", func(t *testing.T) {
		assert.Equal(t, base, base.Merge(nil))
	})

	t.Run("partial delta overwrites only set axes", func(t *testing.T) {
		got := base.Merge(&MetricsDelta{Ecological: f64(85)})
		assert.Equal(t, Metrics{Financial: 70, Ecological: 85, Social: 70}, got)
		assert.Equal(t, 70.0, base.Ecological, "receiver is not mutated")
	})

	t.Run("zero values still overwrite", func(t *testing.T) {
		got := base.Merge(&MetricsDelta{Financial: f64(0)})
		assert.Equal(t, 0.0, got.Financial)
	})
}

func TestNewAgent(t *testing.T) {
	a := NewAgent("agent-1", RoleProposal)
	assert.Equal(t, InitialReputation, a.Reputation)
	assert.Equal(t, RoleProposal, a.Role)
	assert.Zero(t, a.EscrowLocked)
	assert.Nil(t, a.Goals)
}

func TestLatestAttestation(t *testing.T) {
	a := NewAgent("agent-1", RoleProposal)
	assert.Nil(t, a.LatestAttestation("exp-1"))

	a.Attestations = append(a.Attestations,
		Attestation{ExperimentID: "exp-1", Hash: "old"},
		Attestation{ExperimentID: "exp-2", Hash: "other"},
		Attestation{ExperimentID: "exp-1", Hash: "new"},
	)

	got := a.LatestAttestation("exp-1")
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Hash, "most recent attestation wins")
	assert.Nil(t, a.LatestAttestation("exp-3"))
}

func TestNewMessageID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		assert.True(t, strings.HasPrefix(id, "msg-"))
		assert.False(t, seen[id], "ids must not repeat within a run")
		seen[id] = true
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(KindPropose, "coordinator", []string{RoleProposal}, map[string]any{"k": "v"})
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, KindPropose, msg.Kind)
	assert.Equal(t, "coordinator", msg.From)
	assert.Equal(t, []string{RoleProposal}, msg.To)
	assert.False(t, msg.CreatedAt.IsZero())
}
