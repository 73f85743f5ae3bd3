// Package agents implements the built-in task executors for the five swarm
// roles. Each executor fulfills the ExecuteTask contract the coordinator
// consumes; inputs and outputs travel as in-process maps keyed by well-known
// names.
package agents

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ecoswarm/internal/types"
)

// Task names dispatched through ExecuteTask.
const (
	TaskPropose    = "propose"
	TaskAssessRisk = "assessRisk"
	TaskDraftGrant = "draftGrant"
	TaskExecute    = "executePlan"
	TaskESGReview  = "esgReview"
)

// Input/output payload keys.
const (
	KeyBlueprint  = "blueprint"
	KeyExperiment = "experiment"
	KeyAssessment = "assessment"
	KeyGrant      = "grant"
	KeyAdmissible = "admissible"
	KeySensorData = "sensorData"
)

// =============================================================================
// PROPOSAL AGENT
// =============================================================================

// ProposalExecutor turns a blueprint into an owned Experiment.
type ProposalExecutor struct {
	Agent  *types.Agent
	Logger *zap.Logger

	mu sync.Mutex
}

// ExecuteTask handles the propose task.
func (e *ProposalExecutor) ExecuteTask(_ context.Context, task string, input map[string]any) (map[string]any, error) {
	if task != TaskPropose {
		return nil, fmt.Errorf("proposal agent cannot handle task %q", task)
	}
	bp, ok := input[KeyBlueprint].(types.Blueprint)
	if !ok {
		return nil, fmt.Errorf("propose task requires a blueprint")
	}

	band := types.RiskNormal
	if bp.IsHighRisk {
		band = types.RiskHigh
	}
	projected := bp.Metrics
	exp := &types.Experiment{
		ID:               uuid.NewString(),
		Description:      bp.Description,
		ProjectedMetrics: &projected,
		RiskBand:         band,
		OwnerID:          e.Agent.ID,
		CreatedAt:        time.Now(),
	}

	e.mu.Lock()
	e.Agent.Experiments = append(e.Agent.Experiments, exp)
	e.mu.Unlock()

	if e.Logger != nil {
		e.Logger.Debug("experiment proposed",
			zap.String("experiment", exp.ID),
			zap.String("band", string(band)))
	}
	return map[string]any{KeyExperiment: exp}, nil
}

// =============================================================================
// RISK AGENT
// =============================================================================

// RiskExecutor scores an experiment's risk exposure from its band and
// projected metrics.
type RiskExecutor struct {
	Agent *types.Agent
}

// ExecuteTask handles the assessRisk task.
func (e *RiskExecutor) ExecuteTask(_ context.Context, task string, input map[string]any) (map[string]any, error) {
	if task != TaskAssessRisk {
		return nil, fmt.Errorf("risk agent cannot handle task %q", task)
	}
	exp, ok := input[KeyExperiment].(*types.Experiment)
	if !ok || exp == nil {
		return nil, fmt.Errorf("assessRisk task requires an experiment")
	}

	score := 20.0
	var notes []string
	if exp.RiskBand == types.RiskHigh {
		score += 50
		notes = append(notes, "high-risk band")
	}
	if m := exp.ProjectedMetrics; m != nil {
		// Weak ecological or social projections raise exposure.
		if m.Ecological < 60 {
			score += 10
			notes = append(notes, "ecological projection below 60")
		}
		if m.Social < 60 {
			score += 10
			notes = append(notes, "social projection below 60")
		}
	}
	if score > 100 {
		score = 100
	}

	return map[string]any{
		KeyAssessment: types.Assessment{
			ExperimentID: exp.ID,
			RiskScore:    score,
			Band:         exp.RiskBand,
			Notes:        strings.Join(notes, "; "),
		},
	}, nil
}

// =============================================================================
// GRANT AGENT
// =============================================================================

// GrantExecutor drafts a funding memo for an experiment.
type GrantExecutor struct {
	Agent *types.Agent
}

// ExecuteTask handles the draftGrant task.
func (e *GrantExecutor) ExecuteTask(_ context.Context, task string, input map[string]any) (map[string]any, error) {
	if task != TaskDraftGrant {
		return nil, fmt.Errorf("grant agent cannot handle task %q", task)
	}
	desc, _ := input["description"].(string)
	metrics, ok := input["metrics"].(types.Metrics)
	if !ok {
		return nil, fmt.Errorf("draftGrant task requires metrics")
	}
	expID, _ := input["experimentId"].(string)

	draft := types.GrantDraft{
		ExperimentID: expID,
		Title:        fmt.Sprintf("Funding memo: %s", desc),
		Body: fmt.Sprintf(
			"Requesting disbursement for %q. Projected outcomes: financial %.0f, ecological %.0f, social %.0f.",
			desc, metrics.Financial, metrics.Ecological, metrics.Social),
		Amount: metrics.Financial * 1000,
	}
	return map[string]any{KeyGrant: draft}, nil
}

// =============================================================================
// BUILDER AGENT
// =============================================================================

// BuilderExecutor simulates plan execution: it fills actual metrics by
// jittering the projections and commits the experiment for audit.
type BuilderExecutor struct {
	Agent *types.Agent
	Rng   *rand.Rand

	mu sync.Mutex
}

// ExecuteTask handles the executePlan task.
func (e *BuilderExecutor) ExecuteTask(_ context.Context, task string, input map[string]any) (map[string]any, error) {
	if task != TaskExecute {
		return nil, fmt.Errorf("builder agent cannot handle task %q", task)
	}
	exp, ok := input[KeyExperiment].(*types.Experiment)
	if !ok || exp == nil {
		return nil, fmt.Errorf("executePlan task requires an experiment")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if exp.AuditCommitted {
		return nil, fmt.Errorf("experiment %s is audit-committed and immutable", exp.ID)
	}

	jitter := func(v float64) float64 {
		if e.Rng == nil {
			return v
		}
		out := v * (0.85 + e.Rng.Float64()*0.3)
		if out < 0 {
			out = 0
		}
		return out
	}

	projected := types.Metrics{}
	if exp.ProjectedMetrics != nil {
		projected = *exp.ProjectedMetrics
	}
	exp.ActualMetrics = &types.Metrics{
		Financial:  jitter(projected.Financial),
		Ecological: jitter(projected.Ecological),
		Social:     jitter(projected.Social),
	}
	exp.AuditCommitted = true

	return map[string]any{KeyExperiment: exp}, nil
}

// =============================================================================
// ESG AGENT
// =============================================================================

// ESGExecutor computes the advisory admission flag: ecological and social
// projections must both reach 60. The flag is telemetry only; it never gates
// the grant pipeline.
type ESGExecutor struct {
	Agent *types.Agent
}

// ExecuteTask handles the esgReview task.
func (e *ESGExecutor) ExecuteTask(_ context.Context, task string, input map[string]any) (map[string]any, error) {
	if task != TaskESGReview {
		return nil, fmt.Errorf("esg agent cannot handle task %q", task)
	}
	exp, ok := input[KeyExperiment].(*types.Experiment)
	if !ok || exp == nil {
		return nil, fmt.Errorf("esgReview task requires an experiment")
	}

	admissible := false
	if m := exp.ProjectedMetrics; m != nil {
		admissible = m.Ecological >= 60 && m.Social >= 60
	}
	return map[string]any{KeyAdmissible: admissible}, nil
}
