// Package dao implements stake-weighted consensus for norm updates. Named
// stakeholder groups vote on proposed metric deltas; an approved proposal
// merges its delta into every agent's goal vector.
package dao

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ecoswarm/internal/types"
)

// Status is a proposal's lifecycle state. Transitions are pending->approved
// or pending->rejected only; a resolved proposal is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// DefaultVotingWindow is how long a proposal accepts votes before age alone
// forces resolution.
const DefaultVotingWindow = 24 * time.Hour

// DefaultWeights is the fixed per-stakeholder-group voting weight table.
// Groups not listed vote with weight 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"community": 2,
		"experts":   1.5,
		"funders":   1,
	}
}

// Proposal is a pending norm update. Mutated by votes until resolved exactly
// once, after which it is immutable.
type Proposal struct {
	ID          string              `json:"id"`
	ProposerID  string              `json:"proposer_id"`
	Delta       *types.MetricsDelta `json:"delta"`
	Description string              `json:"description"`
	For         float64             `json:"for"`
	Against     float64             `json:"against"`
	Status      Status              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
}

// DAO holds proposals and the stakeholder weight table.
type DAO struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	weights   map[string]float64
	agents    []*types.Agent
	window    time.Duration
	logger    *zap.Logger
}

// New creates a DAO governing the given agents. Nil weights fall back to
// DefaultWeights; a zero window falls back to DefaultVotingWindow.
func New(agents []*types.Agent, weights map[string]float64, window time.Duration, logger *zap.Logger) *DAO {
	if weights == nil {
		weights = DefaultWeights()
	}
	if window <= 0 {
		window = DefaultVotingWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DAO{
		proposals: make(map[string]*Proposal),
		weights:   weights,
		agents:    agents,
		window:    window,
		logger:    logger,
	}
}

// ProposeNormUpdate creates a pending proposal with zero tallies. A nil
// delta is logged and dropped: the call becomes a no-op returning nil.
func (d *DAO) ProposeNormUpdate(proposerID string, delta *types.MetricsDelta, description string) *Proposal {
	if delta == nil {
		d.logger.Warn("norm update proposal missing metric delta",
			zap.String("proposer", proposerID))
		return nil
	}

	p := &Proposal{
		ID:          uuid.NewString(),
		ProposerID:  proposerID,
		Delta:       delta,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	d.mu.Lock()
	d.proposals[p.ID] = p
	d.mu.Unlock()

	d.logger.Info("norm update proposed",
		zap.String("proposal", p.ID),
		zap.String("proposer", proposerID))
	return p
}

// VoteOnProposal adds the voter's stakeholder weight to the for or against
// tally and immediately attempts resolution. An unknown proposal id is
// logged and swallowed.
func (d *DAO) VoteOnProposal(proposalID, voterID string, inFavor bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.proposals[proposalID]
	if !ok {
		d.logger.Warn("vote on unknown proposal", zap.String("proposal", proposalID))
		return
	}
	if p.Status != StatusPending {
		return
	}

	weight, ok := d.weights[voterID]
	if !ok {
		weight = 1
	}
	if inFavor {
		p.For += weight
	} else {
		p.Against += weight
	}

	d.logger.Debug("vote recorded",
		zap.String("proposal", proposalID),
		zap.String("voter", voterID),
		zap.Bool("for", inFavor),
		zap.Float64("weight", weight))

	d.resolveLocked(p)
}

// Resolve re-checks the resolution condition for a proposal, typically to
// sweep proposals past the voting window. Resolving an already-resolved
// proposal is a no-op.
func (d *DAO) Resolve(proposalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.proposals[proposalID]; ok {
		d.resolveLocked(p)
	}
}

// resolveLocked resolves p when the combined tally reaches the total
// possible stakeholder weight, or the proposal has outlived the voting
// window. Status is terminal, so re-entry is naturally idempotent.
func (d *DAO) resolveLocked(p *Proposal) {
	if p.Status != StatusPending {
		return
	}

	var total float64
	for _, w := range d.weights {
		total += w
	}

	expired := time.Since(p.CreatedAt) > d.window
	if p.For+p.Against < total && !expired {
		return
	}

	if p.For > p.Against {
		p.Status = StatusApproved
		for _, agent := range d.agents {
			goals := types.Metrics{}
			if agent.Goals != nil {
				goals = *agent.Goals
			}
			merged := goals.Merge(p.Delta)
			agent.Goals = &merged
			d.logger.Info("agent goals updated by approved norm",
				zap.String("agent", agent.ID),
				zap.String("proposal", p.ID))
		}
	} else {
		p.Status = StatusRejected
	}

	d.logger.Info("proposal resolved",
		zap.String("proposal", p.ID),
		zap.String("status", string(p.Status)),
		zap.Float64("for", p.For),
		zap.Float64("against", p.Against))
}

// Proposal returns a proposal by id, or nil.
func (d *DAO) Proposal(id string) *Proposal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proposals[id]
}
