// Package swarm implements the coordinator that wires bus subscriptions into
// the workflow state machine (propose -> assessRisk -> draftGrant ->
// executePlan) and runs the exploratory daydream scoring loop.
package swarm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ecoswarm/internal/agents"
	"ecoswarm/internal/bus"
	"ecoswarm/internal/generate"
	"ecoswarm/internal/registry"
	"ecoswarm/internal/trust"
	"ecoswarm/internal/types"
)

// Executor is the task-executor contract consumed from agent collaborators.
// Failures propagate as returned errors and are caught at the handler
// boundary.
type Executor interface {
	ExecuteTask(ctx context.Context, task string, input map[string]any) (map[string]any, error)
}

// Member couples an agent identity with its task executor for one role.
type Member struct {
	Agent    *types.Agent
	Executor Executor
}

// TrustEvent is the structured telemetry record for an advisory trust
// evaluation performed inside the assessRisk handler. Errors are captured
// here instead of blocking the pipeline.
type TrustEvent struct {
	Evaluation trust.Evaluation
	Err        string
}

// Coordinator drives the multi-stage workflow over the message bus.
type Coordinator struct {
	mu      sync.RWMutex
	members map[string]Member
	weights Weights
	gen     generate.Generator

	evalMu      sync.Mutex
	evaluations []TrustEvent

	bus      *bus.Bus
	registry *registry.RoleRegistry
	trust    *trust.Graph
	logger   *zap.Logger
	unsubs   []func()
}

// New creates a coordinator with default weights and a random candidate
// generator. Members are added with AddMember before running rounds.
func New(b *bus.Bus, reg *registry.RoleRegistry, tg *trust.Graph, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		members:  make(map[string]Member),
		weights:  DefaultWeights(),
		gen:      generate.NewRandomGenerator(nil),
		bus:      b,
		registry: reg,
		trust:    tg,
		logger:   logger,
	}
}

// AddMember registers an agent for a role and subscribes the role's workflow
// handler on the bus. Re-adding a role replaces its member but keeps the
// original subscription.
func (c *Coordinator) AddMember(role string, agent *types.Agent, exec Executor) {
	c.mu.Lock()
	_, existed := c.members[role]
	c.members[role] = Member{Agent: agent, Executor: exec}
	c.mu.Unlock()

	c.registry.Register(role, agent.ID)
	if existed {
		return
	}

	var h bus.Handler
	switch role {
	case types.RoleProposal:
		h = c.handlePropose
	case types.RoleRisk:
		h = c.handleAssessRisk
	case types.RoleGrant:
		h = c.handleDraftGrant
	case types.RoleBuilder:
		h = c.handleExecute
	case types.RoleESG:
		h = c.handleESGReview
	default:
		return
	}
	c.unsubs = append(c.unsubs, c.bus.Subscribe(role, h))
}

// Close removes every bus subscription the coordinator installed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// SetCandidateGenerator swaps the daydream candidate source.
func (c *Coordinator) SetCandidateGenerator(g generate.Generator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g != nil {
		c.gen = g
	}
}

func (c *Coordinator) member(role string) (Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[role]
	return m, ok
}

// Evaluations returns the advisory trust-evaluation telemetry collected so
// far.
func (c *Coordinator) Evaluations() []TrustEvent {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()
	out := make([]TrustEvent, len(c.evaluations))
	copy(out, c.evaluations)
	return out
}

// RunRound drives one real workflow round: it publishes the initial propose
// message and returns once every downstream handler in the forwarding chain
// has completed or been dead-lettered.
func (c *Coordinator) RunRound(ctx context.Context, blueprint types.Blueprint, sensorData map[string]any) error {
	if _, ok := c.member(types.RoleProposal); !ok {
		return fmt.Errorf("no proposal agent registered")
	}

	msg := types.NewMessage(types.KindPropose, "coordinator", []string{types.RoleProposal}, map[string]any{
		agents.KeyBlueprint:  blueprint,
		agents.KeySensorData: sensorData,
	})
	c.logger.Info("round started",
		zap.String("message", msg.ID),
		zap.String("blueprint", blueprint.Description))
	return c.bus.Publish(ctx, msg)
}

// -----------------------------------------------------------------------------
// Workflow handlers
// -----------------------------------------------------------------------------

// handlePropose builds an Experiment from the blueprint, attests the sensor
// data, and forwards assessRisk to the risk agent (and the advisory ESG
// agent when present).
func (c *Coordinator) handlePropose(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	if msg.Kind != types.KindPropose {
		return types.SwarmResult{OK: true}, nil
	}

	m, ok := c.member(types.RoleProposal)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("no proposal agent registered")
	}
	bp, ok := msg.Payload[agents.KeyBlueprint].(types.Blueprint)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("propose message missing blueprint")
	}
	sensorData, _ := msg.Payload[agents.KeySensorData].(map[string]any)

	out, err := m.Executor.ExecuteTask(ctx, agents.TaskPropose, map[string]any{
		agents.KeyBlueprint: bp,
	})
	if err != nil {
		return types.SwarmResult{}, fmt.Errorf("propose task failed: %w", err)
	}
	exp, ok := out[agents.KeyExperiment].(*types.Experiment)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("propose task returned no experiment")
	}

	// Record the integrity proof the trust graph will verify later.
	if sensorData != nil {
		trust.Attest(m.Agent, exp.ID, sensorData)
	}

	targets := []string{types.RoleRisk}
	if _, hasESG := c.member(types.RoleESG); hasESG {
		targets = append(targets, types.RoleESG)
	}
	forward := types.NewMessage(types.KindAssessRisk, types.RoleProposal, targets, map[string]any{
		agents.KeyExperiment: exp,
		agents.KeySensorData: sensorData,
	})
	forward.CorrelationID = msg.ID
	if err := c.bus.Publish(ctx, forward); err != nil {
		return types.SwarmResult{}, fmt.Errorf("forward assessRisk failed: %w", err)
	}

	return types.SwarmResult{OK: true, Data: exp}, nil
}

// handleAssessRisk scores the experiment, runs the advisory trust
// evaluation, and forwards draftGrant.
func (c *Coordinator) handleAssessRisk(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	if msg.Kind != types.KindAssessRisk {
		return types.SwarmResult{OK: true}, nil
	}

	m, ok := c.member(types.RoleRisk)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("no risk agent registered")
	}
	exp, ok := msg.Payload[agents.KeyExperiment].(*types.Experiment)
	if !ok || exp == nil {
		return types.SwarmResult{}, fmt.Errorf("assessRisk message missing experiment")
	}
	sensorData, _ := msg.Payload[agents.KeySensorData].(map[string]any)

	out, err := m.Executor.ExecuteTask(ctx, agents.TaskAssessRisk, map[string]any{
		agents.KeyExperiment: exp,
	})
	if err != nil {
		return types.SwarmResult{}, fmt.Errorf("assessRisk task failed: %w", err)
	}
	assessment, _ := out[agents.KeyAssessment].(types.Assessment)

	// Advisory reputation update for the experiment's owner. A trust fault
	// must never block the grant pipeline, so errors become telemetry.
	c.evaluateOwner(exp, sensorData)

	projected := types.Metrics{}
	if exp.ProjectedMetrics != nil {
		projected = *exp.ProjectedMetrics
	}
	forward := types.NewMessage(types.KindDraftGrant, types.RoleRisk, []string{types.RoleGrant}, map[string]any{
		"description":        exp.Description,
		"metrics":            projected,
		"experimentId":       exp.ID,
		agents.KeyExperiment: exp,
	})
	forward.CorrelationID = msg.CorrelationID
	if err := c.bus.Publish(ctx, forward); err != nil {
		return types.SwarmResult{}, fmt.Errorf("forward draftGrant failed: %w", err)
	}

	return types.SwarmResult{OK: true, Data: assessment}, nil
}

// evaluateOwner performs the best-effort trust evaluation for the
// experiment's owning agent.
func (c *Coordinator) evaluateOwner(exp *types.Experiment, sensorData map[string]any) {
	if c.trust == nil {
		return
	}

	var owner *types.Agent
	c.mu.RLock()
	for _, m := range c.members {
		if m.Agent != nil && m.Agent.ID == exp.OwnerID {
			owner = m.Agent
			break
		}
	}
	c.mu.RUnlock()
	if owner == nil {
		return
	}

	ev, err := c.trust.EvaluateExperiment(owner, exp, sensorData)
	event := TrustEvent{Evaluation: ev}
	if err != nil {
		event.Err = err.Error()
		c.logger.Debug("advisory trust evaluation skipped",
			zap.String("experiment", exp.ID),
			zap.Error(err))
	}
	c.evalMu.Lock()
	c.evaluations = append(c.evaluations, event)
	c.evalMu.Unlock()
}

// handleDraftGrant drafts the funding memo and decides go/no-go: "go" when
// the projected financial score reaches 50, which publishes executePlan to
// the builder.
func (c *Coordinator) handleDraftGrant(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	if msg.Kind != types.KindDraftGrant {
		return types.SwarmResult{OK: true}, nil
	}

	m, ok := c.member(types.RoleGrant)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("no grant agent registered")
	}
	metrics, ok := msg.Payload["metrics"].(types.Metrics)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("draftGrant message missing metrics")
	}

	out, err := m.Executor.ExecuteTask(ctx, agents.TaskDraftGrant, map[string]any{
		"description":  msg.Payload["description"],
		"metrics":      metrics,
		"experimentId": msg.Payload["experimentId"],
	})
	if err != nil {
		return types.SwarmResult{}, fmt.Errorf("draftGrant task failed: %w", err)
	}
	draft, _ := out[agents.KeyGrant].(types.GrantDraft)

	approved := metrics.Financial >= 50
	draft.Approved = approved

	if approved {
		if _, hasBuilder := c.member(types.RoleBuilder); hasBuilder {
			forward := types.NewMessage(types.KindExecute, types.RoleGrant, []string{types.RoleBuilder}, map[string]any{
				agents.KeyExperiment: msg.Payload[agents.KeyExperiment],
			})
			forward.CorrelationID = msg.CorrelationID
			if err := c.bus.Publish(ctx, forward); err != nil {
				return types.SwarmResult{}, fmt.Errorf("forward executePlan failed: %w", err)
			}
		}
	}

	c.logger.Info("grant decision",
		zap.String("experiment", draft.ExperimentID),
		zap.Bool("go", approved),
		zap.Float64("financial", metrics.Financial))

	return types.SwarmResult{OK: true, Data: map[string]any{
		agents.KeyGrant: draft,
		"go":            approved,
	}}, nil
}

// handleExecute runs the builder executor for an approved plan.
func (c *Coordinator) handleExecute(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	if msg.Kind != types.KindExecute {
		return types.SwarmResult{OK: true}, nil
	}

	m, ok := c.member(types.RoleBuilder)
	if !ok {
		return types.SwarmResult{}, fmt.Errorf("no builder agent registered")
	}
	out, err := m.Executor.ExecuteTask(ctx, agents.TaskExecute, map[string]any{
		agents.KeyExperiment: msg.Payload[agents.KeyExperiment],
	})
	if err != nil {
		return types.SwarmResult{}, fmt.Errorf("executePlan task failed: %w", err)
	}
	return types.SwarmResult{OK: true, Data: out[agents.KeyExperiment]}, nil
}

// handleESGReview is the advisory ESG gate: it computes the admission flag
// for assessRisk messages without altering the primary pipeline.
func (c *Coordinator) handleESGReview(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
	if msg.Kind != types.KindAssessRisk {
		return types.SwarmResult{OK: true}, nil
	}

	m, ok := c.member(types.RoleESG)
	if !ok {
		return types.SwarmResult{OK: true}, nil
	}
	out, err := m.Executor.ExecuteTask(ctx, agents.TaskESGReview, map[string]any{
		agents.KeyExperiment: msg.Payload[agents.KeyExperiment],
	})
	if err != nil {
		return types.SwarmResult{}, fmt.Errorf("esgReview task failed: %w", err)
	}
	admissible, _ := out[agents.KeyAdmissible].(bool)
	c.logger.Debug("esg advisory review", zap.Bool("admissible", admissible))
	return types.SwarmResult{OK: true, Data: admissible}, nil
}
