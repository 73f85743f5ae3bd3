// Package types provides shared type definitions used across ecoswarm packages.
// This package exists to break import cycles between the bus, trust, dao, and
// swarm packages. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"fmt"
	"math/rand"
	"time"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics is the three-axis score triple used throughout proposals,
// experiments, and agent goals. Each axis is conceptually in [0,100] but the
// type does not enforce it; goals in particular carry raw target values.
type Metrics struct {
	Financial  float64 `json:"financial"`
	Ecological float64 `json:"ecological"`
	Social     float64 `json:"social"`
}

// Merge returns a copy of m with every field present in delta overwriting the
// corresponding field (last-write-wins per axis). A nil delta is a no-op.
func (m Metrics) Merge(delta *MetricsDelta) Metrics {
	if delta == nil {
		return m
	}
	out := m
	if delta.Financial != nil {
		out.Financial = *delta.Financial
	}
	if delta.Ecological != nil {
		out.Ecological = *delta.Ecological
	}
	if delta.Social != nil {
		out.Social = *delta.Social
	}
	return out
}

// MetricsDelta is a partial metric update. Nil fields are left untouched when
// the delta is merged into a goal vector.
type MetricsDelta struct {
	Financial  *float64 `json:"financial,omitempty"`
	Ecological *float64 `json:"ecological,omitempty"`
	Social     *float64 `json:"social,omitempty"`
}

// =============================================================================
// AGENTS AND EXPERIMENTS
// =============================================================================

// Role names for the built-in swarm agents.
const (
	RoleProposal = "ProposalAgent"
	RoleRisk     = "RiskAgent"
	RoleGrant    = "GrantAgent"
	RoleBuilder  = "BuilderAgent"
	RoleESG      = "ESGAgent"
)

// InitialReputation is the trust score every agent starts with.
const InitialReputation = 100.0

// RiskBand classifies an experiment's risk exposure.
type RiskBand string

const (
	RiskNormal RiskBand = "normal"
	RiskHigh   RiskBand = "high"
)

// Attestation records an integrity proof for an experiment: the hash of the
// sensor data the agent claims to have observed.
type Attestation struct {
	ExperimentID string    `json:"experiment_id"`
	Hash         string    `json:"hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Agent is a role-typed participant in the swarm. Agents are created at
// process start and never deleted during a run; reputation and goals are
// mutated by the trust graph and DAO respectively.
type Agent struct {
	ID           string        `json:"id"`
	Role         string        `json:"role"`
	Reputation   float64       `json:"reputation"`
	Goals        *Metrics      `json:"goals,omitempty"`
	EscrowLocked float64       `json:"escrow_locked"`
	Experiments  []*Experiment `json:"experiments,omitempty"`
	Attestations []Attestation `json:"attestations,omitempty"`
}

// NewAgent creates an agent with the fixed initial reputation.
func NewAgent(id, role string) *Agent {
	return &Agent{
		ID:         id,
		Role:       role,
		Reputation: InitialReputation,
	}
}

// LatestAttestation returns the most recent attestation recorded for the
// given experiment, or nil if none exists.
func (a *Agent) LatestAttestation(experimentID string) *Attestation {
	for i := len(a.Attestations) - 1; i >= 0; i-- {
		if a.Attestations[i].ExperimentID == experimentID {
			return &a.Attestations[i]
		}
	}
	return nil
}

// Experiment is a unit of proposed work flowing through the workflow state
// machine. Immutable once AuditCommitted is set.
type Experiment struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	ProjectedMetrics *Metrics  `json:"projected_metrics,omitempty"`
	ActualMetrics    *Metrics  `json:"actual_metrics,omitempty"`
	Verified         bool      `json:"verified"`
	RiskBand         RiskBand  `json:"risk_band"`
	AuditCommitted   bool      `json:"audit_committed"`
	OwnerID          string    `json:"owner_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Blueprint is a candidate infrastructure proposal: the daydream/propose
// input shape shared with the candidate generator contract.
type Blueprint struct {
	Description string  `json:"description"`
	Metrics     Metrics `json:"metrics"`
	IsHighRisk  bool    `json:"isHighRisk"`
}

// =============================================================================
// BUS MESSAGES
// =============================================================================

// MessageKind tags a SwarmMessage with its workflow meaning.
type MessageKind string

// Workflow message kinds.
const (
	KindPropose    MessageKind = "propose"
	KindAssessRisk MessageKind = "assessRisk"
	KindDraftGrant MessageKind = "draftGrant"
	KindExecute    MessageKind = "executePlan"

	// Daydream telemetry kinds: observability only, never part of the
	// forwarding chain.
	KindDaydreamPropose   MessageKind = "daydream.propose"
	KindDaydreamAssess    MessageKind = "daydream.assess"
	KindDaydreamIteration MessageKind = "daydream.iteration"
	KindDaydreamResult    MessageKind = "daydream.result"
)

// SwarmMessage is the bus envelope. Created per publish call and never
// mutated afterwards; consumed by zero or more handlers.
type SwarmMessage struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	ReplyTo       string         `json:"replyTo,omitempty"`
	Kind          MessageKind    `json:"type"`
	From          string         `json:"from"`
	To            []string       `json:"to,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// SwarmResult is the return contract of every bus handler.
type SwarmResult struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewMessageID builds a message id from a timestamp plus a random suffix.
func NewMessageID() string {
	return fmt.Sprintf("msg-%d-%04x", time.Now().UnixNano(), rand.Intn(1<<16))
}

// NewMessage builds a SwarmMessage with a fresh id and timestamp.
func NewMessage(kind MessageKind, from string, to []string, payload map[string]any) SwarmMessage {
	return SwarmMessage{
		ID:        NewMessageID(),
		Kind:      kind,
		From:      from,
		To:        to,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
